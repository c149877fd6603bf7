package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-run/meridian/core"
)

func TestPolicyGate_DefaultPolicy_NonIdentityScopeAlwaysAllowed(t *testing.T) {
	ctx := context.Background()
	gate, err := NewPolicyGate(ctx, "", nil)
	require.NoError(t, err)

	assert.NoError(t, gate.Allow(ctx, core.ScopeLocal, false))
	assert.NoError(t, gate.Allow(ctx, core.ScopeCommunity, false))
	assert.NoError(t, gate.Allow(ctx, core.ScopeEnvironment, false))
}

func TestPolicyGate_DefaultPolicy_IdentityScopeDeniedWithoutWAApproval(t *testing.T) {
	ctx := context.Background()
	gate, err := NewPolicyGate(ctx, "", nil)
	require.NoError(t, err)

	err = gate.Allow(ctx, core.ScopeIdentity, false)
	assert.ErrorIs(t, err, core.ErrDenied)
}

func TestPolicyGate_DefaultPolicy_IdentityScopeAllowedWithWAApproval(t *testing.T) {
	ctx := context.Background()
	gate, err := NewPolicyGate(ctx, "", nil)
	require.NoError(t, err)

	assert.NoError(t, gate.Allow(ctx, core.ScopeIdentity, true))
}

func TestPolicyGate_CustomPolicyOverridesDefault(t *testing.T) {
	ctx := context.Background()
	// A custom policy that denies everything, regardless of scope.
	gate, err := NewPolicyGate(ctx, `
package meridian.identity

default allow = false
`, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, gate.Allow(ctx, core.ScopeLocal, false), core.ErrDenied)
}
