package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-run/meridian/bus"
	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/graph"
	"github.com/meridian-run/meridian/registry"
)

type fakeWiseProvider struct {
	reviews int
}

func (f *fakeWiseProvider) SendDeferral(ctx context.Context, reason string, deferCtx map[string]interface{}) error {
	return nil
}
func (f *fakeWiseProvider) FetchGuidance(ctx context.Context, question string) (string, error) {
	return "", nil
}
func (f *fakeWiseProvider) RequestReview(ctx context.Context, subject string, reviewCtx map[string]interface{}) error {
	f.reviews++
	return nil
}
func (f *fakeWiseProvider) IsHealthy(ctx context.Context) bool { return true }
func (f *fakeWiseProvider) Capabilities() []string             { return nil }

func newTestMonitor(t *testing.T) (*Monitor, *fakeWiseProvider) {
	t.Helper()
	reg := registry.New(nil)
	wiseProvider := &fakeWiseProvider{}
	reg.Register("H", core.ServiceWiseAuthority, wiseProvider, core.PriorityNormal, nil)
	wiseBus := bus.NewWiseBus(reg, 10, nil)
	store := graph.NewMemStore()
	return New(store, wiseBus, nil), wiseProvider
}

// TestScenarioS2_VarianceBreachTriggersReview reproduces §4.8's S2
// scenario exactly: below-threshold first, then a second diff crosses
// the 0.20 threshold and triggers exactly one review.
func TestScenarioS2_VarianceBreachTriggersReview(t *testing.T) {
	m, wiseProvider := newTestMonitor(t)
	ctx := context.Background()

	baseline := Snapshot{
		ID:                "baseline-1",
		EthicalBoundaries: map[string]int{"A": 1, "B": 2},
		Capabilities:      []string{"OBSERVE", "SPEAK"},
	}
	require.NoError(t, m.FreezeBaseline(ctx, baseline))

	current1 := Snapshot{
		ID:                "current-1",
		EthicalBoundaries: map[string]int{"A": 9, "B": 2, "C": 3},
		Capabilities:      []string{"OBSERVE", "SPEAK", "TOOL", "MEMORIZE"},
	}
	report1, err := m.CheckVariance(ctx, "H", current1)
	require.NoError(t, err)
	assert.InDelta(t, 0.16, report1.TotalVariance, 0.001)
	assert.False(t, report1.RequiresWAReview)
	assert.Equal(t, 0, wiseProvider.reviews)

	current2 := Snapshot{
		ID:                "current-2",
		EthicalBoundaries: map[string]int{"A": 9, "C": 3}, // B removed
		Capabilities:      []string{"OBSERVE", "SPEAK", "TOOL", "MEMORIZE"},
	}
	report2, err := m.CheckVariance(ctx, "H", current2)
	require.NoError(t, err)
	assert.InDelta(t, 0.21, report2.TotalVariance, 0.001)
	assert.True(t, report2.RequiresWAReview)
	assert.Equal(t, 1, wiseProvider.reviews, "exactly one review request per breaching check")
}

func TestVariance_WeightsMatchImpactTable(t *testing.T) {
	diffs := []Diff{
		{Impact: core.ImpactCritical},
		{Impact: core.ImpactHigh},
		{Impact: core.ImpactMedium},
		{Impact: core.ImpactLow},
	}
	total, byImpact := Variance(diffs)
	assert.InDelta(t, (5.0+3.0+2.0+1.0)/100, total, 0.0001)
	assert.InDelta(t, 0.05, byImpact[core.ImpactCritical], 0.0001)
}

func TestCheckVariance_NoBaselineYet(t *testing.T) {
	m, _ := newTestMonitor(t)
	_, err := m.CheckVariance(context.Background(), "H", Snapshot{ID: "c1"})
	assert.Error(t, err)
}

func TestDiffBehavioralPatterns_ShiftOver20Points(t *testing.T) {
	baseline := map[string]float64{"respond": 50.0}
	current := map[string]float64{"respond": 75.0}
	diffs := diffBehavioralPatterns(baseline, current)
	require.Len(t, diffs, 1)
	assert.Equal(t, core.ImpactMedium, diffs[0].Impact)
}

func TestDiffBehavioralPatterns_ShiftUnder20Points(t *testing.T) {
	baseline := map[string]float64{"respond": 50.0}
	current := map[string]float64{"respond": 60.0}
	diffs := diffBehavioralPatterns(baseline, current)
	assert.Empty(t, diffs)
}
