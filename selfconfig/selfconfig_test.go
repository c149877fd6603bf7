package selfconfig

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-run/meridian/bus"
	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/feedback"
	"github.com/meridian-run/meridian/graph"
	"github.com/meridian-run/meridian/identity"
	"github.com/meridian-run/meridian/registry"
)

func proposal(id string, scope core.GraphScope, confidence float64, configType feedback.ConfigType) feedback.Proposal {
	return feedback.Proposal{
		ID:         id,
		Scope:      scope,
		Confidence: confidence,
		ProposedChanges: map[feedback.ConfigType]map[string]interface{}{
			configType: {"k": "v"},
		},
	}
}

// TestSafeFilter_S3 reproduces §4.10's S3 scenario exactly: remaining
// budget 0.05 admits only P_A (impact 0.02 < half-budget cutoff 0.025);
// the tighter post-admission cutoff 0.015 rejects both P_B and P_C.
func TestSafeFilter_S3(t *testing.T) {
	pA := proposal("P_A", core.ScopeLocal, 0.9, feedback.ConfigToolPreferences)
	pB := proposal("P_B", core.ScopeLocal, 0.85, feedback.ConfigResponseTemplates)
	pC := proposal("P_C", core.ScopeIdentity, 0.95, feedback.ConfigBehaviorConfig)

	require.InDelta(t, 0.02, pA.ProjectedImpact(), 0.0001)
	require.InDelta(t, 0.02, pB.ProjectedImpact(), 0.0001)
	require.InDelta(t, 0.10, pC.ProjectedImpact(), 0.0001)

	results := safeFilter([]feedback.Proposal{pC, pB, pA}, 0.05)
	require.Len(t, results, 3)

	byID := map[string]bool{}
	for _, r := range results {
		byID[r.proposal.ID] = r.admitted
	}
	assert.True(t, byID["P_A"])
	assert.False(t, byID["P_B"])
	assert.False(t, byID["P_C"])

	admitted := 0
	for _, r := range results {
		if r.admitted {
			admitted++
		}
	}
	assert.Equal(t, 1, admitted, "changes_applied should be 1")
}

type fakeApplier struct {
	applied []feedback.Proposal
}

func (f *fakeApplier) ApplyProposal(ctx context.Context, p feedback.Proposal) error {
	f.applied = append(f.applied, p)
	return nil
}

type fakeWiseProvider struct{}

func (f *fakeWiseProvider) SendDeferral(ctx context.Context, reason string, deferCtx map[string]interface{}) error {
	return nil
}
func (f *fakeWiseProvider) FetchGuidance(ctx context.Context, question string) (string, error) {
	return "", nil
}
func (f *fakeWiseProvider) RequestReview(ctx context.Context, subject string, reviewCtx map[string]interface{}) error {
	return nil
}
func (f *fakeWiseProvider) IsHealthy(ctx context.Context) bool { return true }
func (f *fakeWiseProvider) Capabilities() []string             { return nil }

func newTestOrchestrator(t *testing.T, snapshot identity.Snapshot, expectedCaps []string) (*Orchestrator, *fakeApplier, graph.Store) {
	t.Helper()
	reg := registry.New(nil)
	reg.Register("H", core.ServiceWiseAuthority, &fakeWiseProvider{}, core.PriorityNormal, nil)
	wiseBus := bus.NewWiseBus(reg, 10, nil)
	store := graph.NewMemStore()

	monitor := identity.New(store, wiseBus, nil)
	require.NoError(t, monitor.FreezeBaseline(context.Background(), identity.Snapshot{
		ID:                "baseline",
		EthicalBoundaries: map[string]int{},
		Capabilities:      []string{},
	}))

	loop := feedback.New(store, nil, feedback.Config{ExpectedCapabilities: expectedCaps})
	applier := &fakeApplier{}

	orch := New(Deps{
		Monitor:  monitor,
		Feedback: loop,
		Store:    store,
		Applier:  applier,
		Handler:  "H",
		CurrentSnapshot: func(ctx context.Context) (identity.Snapshot, error) {
			return snapshot, nil
		},
	})
	return orch, applier, store
}

// TestRunAdaptationCycle_AppliesSafeProposalsAndStabilizes builds a
// current snapshot whose weighted variance sits at 0.15 (three critical
// ethical-boundary diffs against an empty baseline), below the 0.20
// default threshold, then asserts a cycle completes, applies proposals
// within budget, and transitions to stabilizing.
func TestRunAdaptationCycle_AppliesSafeProposalsAndStabilizes(t *testing.T) {
	current := identity.Snapshot{
		ID:                "current",
		EthicalBoundaries: map[string]int{"A": 1, "B": 1, "C": 1},
		Capabilities:      []string{},
	}
	orch, applier, store := newTestOrchestrator(t, current, nil)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 8; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.AddTimeseriesPoint(ctx, core.ScopeLocal, graph.TSDBPoint{
			ID: "p" + ts.Format(time.RFC3339Nano), Scope: core.ScopeLocal, Timestamp: ts,
			DataType: core.TSDBAuditEvent, Tags: map[string]string{"action": "search"},
		}))
	}

	result, err := orch.RunAdaptationCycle(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, applier.applied)
	assert.Equal(t, StateStabilizing, orch.State())
	assert.Equal(t, StateStabilizing, result.ToState)
	assert.False(t, result.RolledBack)
}

// TestRunAdaptationCycle_NoOpWhenEmergencyStopped asserts an
// emergency-stopped orchestrator never runs a cycle.
func TestRunAdaptationCycle_NoOpWhenEmergencyStopped(t *testing.T) {
	orch, applier, _ := newTestOrchestrator(t, identity.Snapshot{ID: "c"}, nil)
	orch.EmergencyStop("test")

	result, err := orch.RunAdaptationCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.ToState)
	assert.Empty(t, applier.applied)
	assert.True(t, orch.EmergencyStopped())
}

// TestRunAdaptationCycle_RequiresReviewSetsReviewingState reproduces the
// §4.8/§4.10 boundary directly: a current snapshot whose variance
// crosses the threshold moves the orchestrator straight to reviewing
// without ever reaching the feedback/proposal steps.
func TestRunAdaptationCycle_RequiresReviewSetsReviewingState(t *testing.T) {
	current := identity.Snapshot{
		ID: "current",
		EthicalBoundaries: map[string]int{
			"A": 1, "B": 1, "C": 1, "D": 1, "E": 1,
		},
	}
	orch, applier, _ := newTestOrchestrator(t, current, nil)

	result, err := orch.RunAdaptationCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReviewing, result.ToState)
	assert.Equal(t, StateReviewing, orch.State())
	assert.Empty(t, applier.applied)
}

func TestResumeAfterReview_ApprovedGoesToStabilizing(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, identity.Snapshot{ID: "c"}, nil)
	orch.setState(StateReviewing)
	orch.ResumeAfterReview(OutcomeApproved)
	assert.Equal(t, StateStabilizing, orch.State())
}

func TestResumeAfterReview_RejectedGoesToLearning(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, identity.Snapshot{ID: "c"}, nil)
	orch.setState(StateReviewing)
	orch.ResumeAfterReview(OutcomeRejected)
	assert.Equal(t, StateLearning, orch.State())
}

func TestEmergencyStop_AfterThreeConsecutiveFailures(t *testing.T) {
	reg := registry.New(nil)
	store := graph.NewMemStore()
	monitor := identity.New(store, bus.NewWiseBus(reg, 10, nil), nil)
	// No baseline frozen: CheckVariance always errors, so every cycle fails.
	loop := feedback.New(store, nil, feedback.Config{})
	orch := New(Deps{
		Monitor:  monitor,
		Feedback: loop,
		Store:    store,
		Applier:  &fakeApplier{},
		Handler:  "H",
		CurrentSnapshot: func(ctx context.Context) (identity.Snapshot, error) {
			return identity.Snapshot{ID: "c"}, nil
		},
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := orch.RunAdaptationCycle(ctx)
		assert.Error(t, err)
	}
	assert.True(t, orch.EmergencyStopped())
}
