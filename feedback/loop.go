package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/graph"
)

// defaultAnalysisInterval matches §6's analysis_interval_hours default
// of 6h.
const defaultAnalysisInterval = 6 * time.Hour

// defaultWindowHours is how far back RecallTimeseries looks for each
// analysis pass (§4.9's "recent" AUDIT_EVENT/log points: 7 days covers
// the frequency detector's window, the widest of the four).
const defaultWindowHours = 7 * 24

// Config configures a Loop's run cadence.
type Config struct {
	AnalysisInterval     time.Duration
	ExpectedCapabilities []string
}

// Loop runs the four detectors against recent graph telemetry on a
// fixed interval, writing each resulting AdaptationProposal as a
// concept node for the self-configuration orchestrator to pick up
// (§4.9, §4.10).
type Loop struct {
	store  graph.Store
	logger core.Logger
	cfg    Config

	mu        sync.Mutex
	proposals []Proposal

	stopCh chan struct{}
}

// New creates a feedback loop with the spec's default analysis
// interval.
func New(store graph.Store, logger core.Logger, cfg Config) *Loop {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg.AnalysisInterval <= 0 {
		cfg.AnalysisInterval = defaultAnalysisInterval
	}
	return &Loop{
		store:  store,
		logger: logger,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start runs the analysis loop until the context is cancelled or Stop
// is called.
func (l *Loop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.AnalysisInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			if err := l.RunOnce(ctx, core.ScopeLocal); err != nil {
				l.logger.Warn("feedback analysis pass failed", map[string]interface{}{
					"operation": "feedback_loop_run",
					"error":     err.Error(),
				})
			}
		}
	}
}

// Stop signals the loop to exit.
func (l *Loop) Stop() {
	close(l.stopCh)
}

// Analyze recalls recent points and runs every detector, returning the
// freshly generated patterns/proposals without persisting or recording
// them — callers that need their own view of "this cycle's" proposals
// (the self-configuration orchestrator's run_adaptation_cycle) use this
// directly instead of RunOnce's accumulating Proposals() log.
func (l *Loop) Analyze(ctx context.Context, scope core.GraphScope) ([]Pattern, []Proposal, error) {
	points, err := l.store.RecallTimeseries(ctx, scope, defaultWindowHours, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	patterns := DetectAll(points, l.cfg.ExpectedCapabilities)
	proposals := GenerateProposals(patterns)
	return patterns, proposals, nil
}

// RunOnce executes a single analysis pass: recall recent points, run
// every detector, generate proposals, and persist each as a concept
// node (§4.9, §3).
func (l *Loop) RunOnce(ctx context.Context, scope core.GraphScope) error {
	patterns, proposals, err := l.Analyze(ctx, scope)
	if err != nil {
		return err
	}

	for _, p := range proposals {
		node := proposalToNode(p)
		if err := l.store.AddGraphNode(ctx, node); err != nil {
			l.logger.Warn("failed to persist adaptation proposal", map[string]interface{}{
				"operation":   "feedback_persist_proposal",
				"proposal_id": p.ID,
				"error":       err.Error(),
			})
			continue
		}
	}

	l.mu.Lock()
	l.proposals = append(l.proposals, proposals...)
	l.mu.Unlock()

	l.logger.Info("feedback analysis pass complete", map[string]interface{}{
		"operation":      "feedback_loop_run",
		"patterns_found": len(patterns),
		"proposals_made": len(proposals),
	})
	return nil
}

// Proposals returns every proposal generated across the loop's
// lifetime, most recent last.
func (l *Loop) Proposals() []Proposal {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Proposal, len(l.proposals))
	copy(out, l.proposals)
	return out
}

func proposalToNode(p Proposal) graph.Node {
	changes := make(map[string]interface{}, len(p.ProposedChanges))
	for k, v := range p.ProposedChanges {
		changes[string(k)] = v
	}
	return graph.Node{
		ID:    "adaptation_proposal_" + p.ID,
		Kind:  core.NodeKindConcept,
		Scope: p.Scope,
		Attributes: map[string]interface{}{
			"trigger":          string(p.Trigger),
			"proposed_changes": changes,
			"evidence":         p.Evidence,
			"confidence":       p.Confidence,
			"auto_applicable":  p.AutoApplicable,
			"applied":          p.Applied,
		},
		Version:   1,
		UpdatedAt: time.Now(),
	}
}
