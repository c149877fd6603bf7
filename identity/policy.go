package identity

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	"github.com/meridian-run/meridian/core"
)

// defaultPolicy encodes §3's "identity-scope nodes require WA approval"
// invariant declaratively: anything scoped to identity is denied unless
// the caller already carries a recorded WA approval for it.
const defaultPolicy = `
package meridian.identity

default allow = false

allow {
	input.scope != "identity"
}

allow {
	input.scope == "identity"
	input.wa_approved == true
}
`

// PolicyGate evaluates whether an identity-scope change may proceed
// without blocking on a synchronous Wise Authority round-trip, using an
// OPA policy instead of a hand-rolled if/else so the rule is auditable
// and replaceable independent of a binary release.
type PolicyGate struct {
	query  rego.PreparedEvalQuery
	logger core.Logger
}

// NewPolicyGate compiles the default policy. Pass a non-empty
// regoModule to override it with an operator-supplied policy (same
// package/rule names expected).
func NewPolicyGate(ctx context.Context, regoModule string, logger core.Logger) (*PolicyGate, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if regoModule == "" {
		regoModule = defaultPolicy
	}

	query, err := rego.New(
		rego.Query("data.meridian.identity.allow"),
		rego.Module("identity.rego", regoModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: compile policy: %w", err)
	}

	return &PolicyGate{query: query, logger: logger}, nil
}

// Allow evaluates the policy against scope and whether the change
// already carries a recorded WA approval. A denial surfaces as
// core.ErrDenied so callers can map it straight to the spec's "denied"
// result kind.
func (g *PolicyGate) Allow(ctx context.Context, scope core.GraphScope, waApproved bool) error {
	results, err := g.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"scope":       string(scope),
		"wa_approved": waApproved,
	}))
	if err != nil {
		return fmt.Errorf("identity: evaluate policy: %w", err)
	}

	allowed := false
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		allowed, _ = results[0].Expressions[0].Value.(bool)
	}

	if !allowed {
		g.logger.Warn("identity-scope change denied by policy", map[string]interface{}{
			"operation": "identity_policy_gate",
			"scope":     string(scope),
		})
		return core.ErrDenied
	}
	return nil
}
