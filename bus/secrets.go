package bus

import (
	"context"
	"sync"
	"time"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
)

// rateLimitWindow is the sliding window every secrets operation cap is
// measured over (§4.3: "per-handler rate limits over a 60-second sliding
// window").
const rateLimitWindow = 60 * time.Second

// defaultSecretsLimits are the per-operation caps named in §4.3.
var defaultSecretsLimits = map[string]int{
	"process_incoming_text":       100,
	"recall_secret":                50,
	"forget_secret":                20,
	"update_filter_config":         10,
	"decapsulate_secrets_in_parameters": 30,
}

// filterPriority orders rate-limit rule evaluation, generalizing §4.3's
// flat per-operation caps with CIRISAgent's adaptive-filter priority
// classes (SPEC_FULL.md "Supplemented Features" #3): a CRITICAL rule is
// checked before generic throughput limits so an explicit
// credential-leak guard can't be starved out by routine traffic.
type filterPriority int

const (
	FilterPriorityCritical filterPriority = iota
	FilterPriorityHigh
	FilterPriorityMedium
	FilterPriorityLow
)

// filterRule is one rate-limit rule in the secrets bus's ordered list.
type filterRule struct {
	operation string
	priority  filterPriority
	limit     int
}

// slidingCounter tracks timestamps of recent calls for one (handler,
// operation) pair within the rolling window.
type slidingCounter struct {
	mu    sync.Mutex
	hits  []time.Time
}

func (c *slidingCounter) allow(limit int, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now.Add(-rateLimitWindow)
	kept := c.hits[:0]
	for _, t := range c.hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.hits = kept

	if len(c.hits) >= limit {
		return false
	}
	c.hits = append(c.hits, now)
	return true
}

// SecretsBus enforces per-handler, per-operation rate limits (§4.3) on
// top of the usual provider resolution. Denied calls return safe
// defaults rather than an error, per spec.
type SecretsBus struct {
	*BaseBus
	reg    *registry.Registry
	rules  []filterRule
	mu     sync.Mutex
	counters map[string]*slidingCounter // key = handler+"\x00"+operation
}

// NewSecretsBus creates the bus with the default rule set from §4.3,
// ordered CRITICAL-first per the supplemented adaptive-filter priority.
func NewSecretsBus(reg *registry.Registry, capacity int, logger core.Logger) *SecretsBus {
	b := &SecretsBus{
		reg: reg,
		rules: []filterRule{
			{operation: "update_filter_config", priority: FilterPriorityCritical, limit: defaultSecretsLimits["update_filter_config"]},
			{operation: "forget_secret", priority: FilterPriorityHigh, limit: defaultSecretsLimits["forget_secret"]},
			{operation: "decapsulate_secrets_in_parameters", priority: FilterPriorityMedium, limit: defaultSecretsLimits["decapsulate_secrets_in_parameters"]},
			{operation: "recall_secret", priority: FilterPriorityMedium, limit: defaultSecretsLimits["recall_secret"]},
			{operation: "process_incoming_text", priority: FilterPriorityLow, limit: defaultSecretsLimits["process_incoming_text"]},
		},
		counters: make(map[string]*slidingCounter),
	}
	b.BaseBus = NewBaseBus("secrets", capacity, logger, func(context.Context, interface{}) error { return nil })
	return b
}

func (b *SecretsBus) counterFor(handler, operation string) *slidingCounter {
	key := handler + "\x00" + operation
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counters[key]
	if !ok {
		c = &slidingCounter{}
		b.counters[key] = c
	}
	return c
}

func (b *SecretsBus) limitFor(operation string) int {
	for _, r := range b.rules {
		if r.operation == operation {
			return r.limit
		}
	}
	return defaultSecretsLimits[operation]
}

// allow checks and consumes one slot for (handler, operation). A denial
// is logged as required by §4.3's "Denied calls ... are logged".
func (b *SecretsBus) allow(handler, operation string) bool {
	limit := b.limitFor(operation)
	ok := b.counterFor(handler, operation).allow(limit, time.Now())
	if !ok {
		b.logger.Warn("secrets operation rate-limited", map[string]interface{}{
			"operation": "secrets_rate_limit",
			"handler":   handler,
			"op":        operation,
			"limit":     limit,
		})
	}
	return ok
}

func (b *SecretsBus) provider(ctx context.Context, handler string) (SecretsProvider, error) {
	return resolve[SecretsProvider](ctx, b.reg, handler, core.ServiceSecrets, nil)
}

// ProcessIncomingText filters text for secrets, unless rate-limited —
// in which case it returns the input unchanged with no secret
// references (§4.3, testable property 16, scenario S6).
func (b *SecretsBus) ProcessIncomingText(ctx context.Context, handler, text string) (filtered string, refs []string, res Result) {
	if !b.allow(handler, "process_incoming_text") {
		return text, nil, Denied("rate limit exceeded")
	}

	p, err := b.provider(ctx, handler)
	if err != nil {
		return text, nil, ErrorResult(err.Error())
	}

	filtered, refs, procErr := p.ProcessIncomingText(ctx, text)
	if procErr != nil {
		return text, nil, ErrorResult(procErr.Error())
	}
	return filtered, refs, OK(nil)
}

// RecallSecret recalls a secret by reference, unless rate-limited.
func (b *SecretsBus) RecallSecret(ctx context.Context, handler, ref string) (string, Result) {
	if !b.allow(handler, "recall_secret") {
		return "", Denied("rate limit exceeded")
	}

	p, err := b.provider(ctx, handler)
	if err != nil {
		return "", ErrorResult(err.Error())
	}

	secret, recallErr := p.RecallSecret(ctx, ref)
	if recallErr != nil {
		return "", ErrorResult(recallErr.Error())
	}
	return secret, OK(nil)
}

// ForgetSecret removes a secret by reference, unless rate-limited.
func (b *SecretsBus) ForgetSecret(ctx context.Context, handler, ref string) Result {
	if !b.allow(handler, "forget_secret") {
		return Denied("rate limit exceeded")
	}

	p, err := b.provider(ctx, handler)
	if err != nil {
		return ErrorResult(err.Error())
	}

	if forgetErr := p.ForgetSecret(ctx, ref); forgetErr != nil {
		return ErrorResult(forgetErr.Error())
	}
	return OK(nil)
}

// DecapsulateSecretsInParameters replaces secret references in params
// with their values, unless rate-limited.
func (b *SecretsBus) DecapsulateSecretsInParameters(ctx context.Context, handler string, params map[string]interface{}) (map[string]interface{}, Result) {
	if !b.allow(handler, "decapsulate_secrets_in_parameters") {
		return params, Denied("rate limit exceeded")
	}

	p, err := b.provider(ctx, handler)
	if err != nil {
		return params, ErrorResult(err.Error())
	}

	decapsulated, decErr := p.DecapsulateSecretsInParameters(ctx, params)
	if decErr != nil {
		return params, ErrorResult(decErr.Error())
	}
	return decapsulated, OK(nil)
}

// UpdateFilterConfig updates the provider's filter configuration, unless
// rate-limited.
func (b *SecretsBus) UpdateFilterConfig(ctx context.Context, handler string, config map[string]interface{}) Result {
	if !b.allow(handler, "update_filter_config") {
		return Denied("rate limit exceeded")
	}

	p, err := b.provider(ctx, handler)
	if err != nil {
		return ErrorResult(err.Error())
	}

	if updateErr := p.UpdateFilterConfig(ctx, config); updateErr != nil {
		return ErrorResult(updateErr.Error())
	}
	return OK(nil)
}
