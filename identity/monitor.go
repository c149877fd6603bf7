package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/meridian-run/meridian/bus"
	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/graph"
)

// defaultThreshold matches §6's variance_threshold default of 0.20.
const defaultThreshold = 0.20

// defaultCheckInterval matches §6's check_interval_hours default of 24h.
const defaultCheckInterval = 24 * time.Hour

// pointerNodeID is the well-known id of the node that stores the
// current baseline's id (§3: "A pointer node identity_baseline_current
// stores the baseline's id").
const pointerNodeID = "identity_baseline_current"

// Monitor freezes a baseline identity snapshot once per agent and
// periodically compares the current state against it, routing a Wise
// Authority review request when weighted variance crosses the
// configured threshold (§4.8). It never blocks traffic itself — the
// self-configuration orchestrator (§4.10) is what enforces a pause.
type Monitor struct {
	store     graph.Store
	wise      *bus.WiseBus
	logger    core.Logger
	threshold float64

	mu       sync.Mutex
	baseline *Snapshot

	sf singleflight.Group
}

// New creates a variance monitor with the spec's default threshold.
func New(store graph.Store, wise *bus.WiseBus, logger core.Logger) *Monitor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Monitor{
		store:     store,
		wise:      wise,
		logger:    logger,
		threshold: defaultThreshold,
	}
}

// SetThreshold overrides the default variance_threshold.
func (m *Monitor) SetThreshold(t float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threshold = t
}

// Threshold returns the currently configured variance_threshold.
func (m *Monitor) Threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}

// FreezeBaseline writes the one immutable baseline snapshot for an
// agent, plus its pointer node. Calling it a second time for the same
// agent is a programmer error — baselines are frozen once at first
// start (§4.8) — but this method doesn't itself enforce single-call
// semantics; callers (cmd/meridiand's startup sequence) are responsible
// for calling it only when no baseline yet exists.
func (m *Monitor) FreezeBaseline(ctx context.Context, snap Snapshot) error {
	snap.SnapshotType = SnapshotBaseline
	snap.Immutable = true
	snap.Timestamp = time.Now()

	node := snapshotToNode(snap)
	if err := m.store.AddGraphNode(ctx, node); err != nil {
		return fmt.Errorf("identity: freeze baseline: %w", err)
	}

	pointer := graph.Node{
		ID:        pointerNodeID,
		Kind:      core.NodeKindConfig,
		Scope:     core.ScopeIdentity,
		Attributes: map[string]interface{}{"baseline_id": snap.ID},
		Version:   1,
		UpdatedAt: time.Now(),
	}
	if err := m.store.AddGraphNode(ctx, pointer); err != nil {
		return fmt.Errorf("identity: write baseline pointer: %w", err)
	}

	m.mu.Lock()
	m.baseline = &snap
	m.mu.Unlock()
	return nil
}

func snapshotToNode(snap Snapshot) graph.Node {
	return graph.Node{
		ID:    snap.ID,
		Kind:  core.NodeKindAgent,
		Scope: core.ScopeIdentity,
		Attributes: map[string]interface{}{
			"snapshot_type":       string(snap.SnapshotType),
			"agent_id":            snap.AgentID,
			"identity_hash":       snap.IdentityHash,
			"ethical_boundaries":  snap.EthicalBoundaries,
			"capability_changes":  snap.Capabilities,
			"behavioral_patterns": snap.BehavioralPatterns,
			"timestamp":           snap.Timestamp,
			"immutable":           snap.Immutable,
		},
		Version:   1,
		UpdatedAt: snap.Timestamp,
	}
}

// CheckVariance compares current against the frozen baseline and, if
// weighted variance crosses the threshold, routes exactly one review
// request through the Wise bus (§4.8, testable properties 6-7).
// Concurrent callers collapse onto a single comparison via singleflight
// keyed on the baseline and current snapshot ids, so a flood of callers during a review
// window does one snapshot comparison, not N.
func (m *Monitor) CheckVariance(ctx context.Context, handler string, current Snapshot) (Report, error) {
	m.mu.Lock()
	baseline := m.baseline
	threshold := m.threshold
	m.mu.Unlock()

	if baseline == nil {
		return Report{}, fmt.Errorf("identity: no baseline frozen yet")
	}

	key := baseline.ID + "\x00" + current.ID
	result, err, _ := m.sf.Do(key, func() (interface{}, error) {
		return m.doCheck(ctx, handler, *baseline, current, threshold)
	})
	if err != nil {
		return Report{}, err
	}
	return result.(Report), nil
}

func (m *Monitor) doCheck(ctx context.Context, handler string, baseline, current Snapshot, threshold float64) (Report, error) {
	diffs := Compare(baseline, current)
	total, byImpact := Variance(diffs)

	report := Report{
		BaselineID:       baseline.ID,
		CurrentID:        current.ID,
		TotalVariance:    total,
		VarianceByImpact: byImpact,
		Differences:      diffs,
		RequiresWAReview: total >= threshold,
	}

	if report.RequiresWAReview {
		report.Recommendations = append(report.Recommendations, "pause adaptation pending wise authority review")
		m.routeReview(ctx, handler, report)
	}

	return report, nil
}

// routeReview emits a single review request through the Wise bus. It
// never blocks the caller on the outcome and logs (rather than
// propagates) a delivery failure, matching §4.8's "do not block".
func (m *Monitor) routeReview(ctx context.Context, handler string, report Report) {
	reviewCtx := map[string]interface{}{
		"baseline_id":    report.BaselineID,
		"current_id":     report.CurrentID,
		"total_variance": report.TotalVariance,
		"diff_count":     len(report.Differences),
	}
	if _, err := m.wise.RequestReview(ctx, handler, "identity_variance_breach", reviewCtx); err != nil {
		m.logger.Warn("variance review request failed", map[string]interface{}{
			"operation": "identity_variance_review",
			"error":     err.Error(),
		})
	}
}

// Baseline returns the currently frozen baseline, if any.
func (m *Monitor) Baseline() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseline == nil {
		return Snapshot{}, false
	}
	return *m.baseline, true
}

// LoadBaseline rehydrates an already-frozen baseline from the graph
// store via the identity_baseline_current pointer node, so a process
// restart doesn't need to call FreezeBaseline again (§4.8: "Baseline is
// frozen once, at agent first-start"). Returns false, nil if no baseline
// has ever been frozen for this agent.
func (m *Monitor) LoadBaseline(ctx context.Context) (bool, error) {
	pointer, ok, err := m.store.GetGraphNode(ctx, pointerNodeID, core.ScopeIdentity)
	if err != nil {
		return false, fmt.Errorf("identity: load baseline pointer: %w", err)
	}
	if !ok {
		return false, nil
	}
	baselineID, _ := pointer.Attributes["baseline_id"].(string)
	if baselineID == "" {
		return false, nil
	}

	node, ok, err := m.store.GetGraphNode(ctx, baselineID, core.ScopeIdentity)
	if err != nil {
		return false, fmt.Errorf("identity: load baseline node: %w", err)
	}
	if !ok {
		return false, nil
	}

	snap := nodeToSnapshot(node)
	m.mu.Lock()
	m.baseline = &snap
	m.mu.Unlock()
	return true, nil
}

func nodeToSnapshot(node graph.Node) Snapshot {
	snap := Snapshot{
		ID:           node.ID,
		SnapshotType: SnapshotBaseline,
		Immutable:    true,
	}
	if v, ok := node.Attributes["agent_id"].(string); ok {
		snap.AgentID = v
	}
	if v, ok := node.Attributes["identity_hash"].(string); ok {
		snap.IdentityHash = v
	}
	if v, ok := node.Attributes["ethical_boundaries"].(map[string]int); ok {
		snap.EthicalBoundaries = v
	}
	if v, ok := node.Attributes["capability_changes"].([]string); ok {
		snap.Capabilities = v
	}
	if v, ok := node.Attributes["behavioral_patterns"].(map[string]float64); ok {
		snap.BehavioralPatterns = v
	}
	if v, ok := node.Attributes["timestamp"].(time.Time); ok {
		snap.Timestamp = v
	}
	return snap
}
