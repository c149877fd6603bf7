package selfconfig

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/feedback"
	"github.com/meridian-run/meridian/graph"
	"github.com/meridian-run/meridian/identity"
)

// maxConsecutiveFailures is §4.10 step 8's emergency-stop trigger:
// three consecutive failed cycles.
const maxConsecutiveFailures = 3

// ConfigApplier applies one admitted proposal's changes to live
// configuration. The concrete implementation lives in the config
// package; this package only depends on the interface so it stays
// testable without a real config store.
type ConfigApplier interface {
	ApplyProposal(ctx context.Context, p feedback.Proposal) error
}

// SnapshotFunc builds a fresh identity.Snapshot of the agent's current
// state for a variance check. Building a snapshot is domain-specific
// (it reads live ethical-boundary/capability/behavioral state), so the
// orchestrator takes it as a callback rather than constructing one
// itself.
type SnapshotFunc func(ctx context.Context) (identity.Snapshot, error)

// Deps wires the orchestrator to the rest of the runtime.
type Deps struct {
	Monitor         *identity.Monitor
	Feedback        *feedback.Loop
	Store           graph.Store
	Applier         ConfigApplier
	Logger          core.Logger
	Handler         string
	CurrentSnapshot SnapshotFunc

	// PolicyGate evaluates the "identity-scope nodes require WA
	// approval" invariant (§3) as an OPA policy. Nil means every
	// proposal admitted by safeFilter is applied unconditionally.
	PolicyGate *identity.PolicyGate

	StabilizationPeriod time.Duration
}

// Orchestrator runs the fixed five-state adaptation cycle (§4.10).
type Orchestrator struct {
	deps Deps

	mu                   sync.Mutex
	state                State
	inProgress           bool
	emergencyStopped     bool
	emergencyReason      string
	consecutiveFailures  int
	lastAdaptation       time.Time
	enteredStabilizingAt time.Time
}

// New creates an orchestrator starting in the learning state.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = &core.NoOpLogger{}
	}
	if deps.StabilizationPeriod <= 0 {
		deps.StabilizationPeriod = defaultStabilizationPeriod
	}
	return &Orchestrator{
		deps:  deps,
		state: StateLearning,
	}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// EmergencyStopped reports whether the sticky emergency-stop flag is
// set. Only a process restart clears it (§4.10).
func (o *Orchestrator) EmergencyStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.emergencyStopped
}

// EmergencyStop sets the sticky flag that makes all subsequent cycles a
// no-op.
func (o *Orchestrator) EmergencyStop(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emergencyStopped = true
	o.emergencyReason = reason
	o.deps.Logger.Error("self-configuration emergency stop engaged", map[string]interface{}{
		"operation": "selfconfig_emergency_stop",
		"reason":    reason,
	})
}

// RunAdaptationCycle executes one pass of the state machine (§4.10
// steps 1-8). It is safe to call concurrently or on a timer — a cycle
// already in progress, an emergency stop, a reviewing state, or an
// unexpired stabilization period all make the call a no-op.
func (o *Orchestrator) RunAdaptationCycle(ctx context.Context) (CycleResult, error) {
	o.mu.Lock()
	if o.emergencyStopped || o.inProgress || o.state == StateReviewing {
		o.mu.Unlock()
		return CycleResult{}, nil
	}
	if o.state == StateStabilizing && time.Since(o.enteredStabilizingAt) < o.deps.StabilizationPeriod {
		o.mu.Unlock()
		return CycleResult{}, nil
	}
	o.inProgress = true
	fromState := o.state
	o.mu.Unlock()

	result := CycleResult{StartedAt: time.Now(), FromState: fromState}
	defer func() {
		result.EndedAt = time.Now()
		o.mu.Lock()
		o.inProgress = false
		o.mu.Unlock()
	}()

	current, err := o.deps.CurrentSnapshot(ctx)
	if err != nil {
		return o.failCycle(result, fmt.Errorf("selfconfig: build current snapshot: %w", err))
	}

	report, err := o.deps.Monitor.CheckVariance(ctx, o.deps.Handler, current)
	if err != nil {
		return o.failCycle(result, fmt.Errorf("selfconfig: variance check: %w", err))
	}
	if report.RequiresWAReview {
		o.setState(StateReviewing)
		result.ToState = StateReviewing
		o.recordCycle(ctx, result)
		return result, nil
	}

	patterns, proposals, err := o.deps.Feedback.Analyze(ctx, core.ScopeLocal)
	if err != nil {
		return o.failCycle(result, fmt.Errorf("selfconfig: feedback analysis: %w", err))
	}
	result.PatternsFound = len(patterns)
	result.ProposalsMade = len(proposals)

	remainingBudget := o.deps.Monitor.Threshold() - report.TotalVariance
	filtered := safeFilter(proposals, remainingBudget)

	var admitted []feedback.Proposal
	applied := 0
	for i := range filtered {
		if !filtered[i].admitted {
			continue
		}
		p := filtered[i].proposal
		if o.deps.PolicyGate != nil {
			// Adaptation proposals are never pre-approved; an
			// IDENTITY-scope proposal is only auto-applicable (per
			// the feedback loop's strategy table) when the policy
			// itself allows non-WA-approved identity changes.
			if err := o.deps.PolicyGate.Allow(ctx, p.Scope, false); err != nil {
				o.deps.Logger.Info("adaptation proposal denied by policy gate", map[string]interface{}{
					"operation":   "selfconfig_apply_proposal",
					"proposal_id": p.ID,
					"scope":       string(p.Scope),
				})
				continue
			}
		}
		if err := o.deps.Applier.ApplyProposal(ctx, p); err != nil {
			o.deps.Logger.Warn("failed to apply adaptation proposal", map[string]interface{}{
				"operation":   "selfconfig_apply_proposal",
				"proposal_id": p.ID,
				"error":       err.Error(),
			})
			continue
		}
		now := time.Now()
		p.Applied = true
		p.AppliedAt = &now
		admitted = append(admitted, p)
		applied++
	}
	result.ProposalsAdmitted = admitted
	result.ChangesApplied = applied

	recheck, err := o.deps.CurrentSnapshot(ctx)
	if err != nil {
		return o.failCycle(result, fmt.Errorf("selfconfig: post-apply snapshot: %w", err))
	}
	postReport, err := o.deps.Monitor.CheckVariance(ctx, o.deps.Handler, recheck)
	if err != nil {
		return o.failCycle(result, fmt.Errorf("selfconfig: post-apply variance check: %w", err))
	}

	if postReport.RequiresWAReview {
		o.rollback(ctx, admitted)
		result.RolledBack = true
		o.setState(StateReviewing)
		result.ToState = StateReviewing
		o.succeedCycle()
		o.recordCycle(ctx, result)
		return result, nil
	}

	if applied > 0 {
		o.mu.Lock()
		o.state = StateStabilizing
		o.enteredStabilizingAt = time.Now()
		o.lastAdaptation = o.enteredStabilizingAt
		o.mu.Unlock()
		result.ToState = StateStabilizing
	} else {
		o.setState(StateLearning)
		result.ToState = StateLearning
	}

	o.succeedCycle()
	o.recordCycle(ctx, result)
	return result, nil
}

// ResumeAfterReview exits the reviewing state per the Wise Authority's
// disposition (§4.10): approved moves to stabilizing, rejected moves
// back to learning. Either way the failure counter resets.
func (o *Orchestrator) ResumeAfterReview(outcome ReviewOutcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consecutiveFailures = 0
	switch outcome {
	case OutcomeApproved:
		o.state = StateStabilizing
		o.enteredStabilizingAt = time.Now()
	case OutcomeRejected:
		o.state = StateLearning
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) succeedCycle() {
	o.mu.Lock()
	o.consecutiveFailures = 0
	o.mu.Unlock()
}

// failCycle records a failed cycle, bumps the consecutive-failure
// counter, and engages the emergency stop on the third consecutive
// failure (§4.10 step 8).
func (o *Orchestrator) failCycle(result CycleResult, err error) (CycleResult, error) {
	result.Error = err
	result.ToState = result.FromState

	o.mu.Lock()
	o.consecutiveFailures++
	tripped := o.consecutiveFailures >= maxConsecutiveFailures
	o.mu.Unlock()

	if tripped {
		o.EmergencyStop(fmt.Sprintf("%d consecutive adaptation cycle failures", maxConsecutiveFailures))
	}

	o.deps.Logger.Warn("adaptation cycle failed", map[string]interface{}{
		"operation": "selfconfig_run_cycle",
		"error":     err.Error(),
	})
	return result, err
}

// rollback writes a rollback node for each applied proposal (§4.10 step
// 6). Rollback nodes record intent; reverting the underlying config
// value is the applier's own responsibility when it sees one, the same
// way config changes were made in the first place.
func (o *Orchestrator) rollback(ctx context.Context, applied []feedback.Proposal) {
	for _, p := range applied {
		node := graph.Node{
			ID:    "rollback_" + p.ID,
			Kind:  core.NodeKindConcept,
			Scope: p.Scope,
			Attributes: map[string]interface{}{
				"rollback_of": p.ID,
				"reason":      "post-apply variance crossed review threshold",
			},
			Version:   1,
			UpdatedAt: time.Now(),
		}
		if err := o.deps.Store.AddGraphNode(ctx, node); err != nil {
			o.deps.Logger.Warn("failed to persist rollback node", map[string]interface{}{
				"operation":   "selfconfig_rollback",
				"proposal_id": p.ID,
				"error":       err.Error(),
			})
		}
	}
}

// recordCycle persists the cycle summary node (§4.10 step 8).
func (o *Orchestrator) recordCycle(ctx context.Context, result CycleResult) {
	node := graph.Node{
		ID:    fmt.Sprintf("adaptation_cycle_%d", result.StartedAt.UnixNano()),
		Kind:  core.NodeKindConcept,
		Scope: core.ScopeLocal,
		Attributes: map[string]interface{}{
			"from_state":      string(result.FromState),
			"to_state":        string(result.ToState),
			"patterns_found":  result.PatternsFound,
			"proposals_made":  result.ProposalsMade,
			"changes_applied": result.ChangesApplied,
			"rolled_back":     result.RolledBack,
		},
		Version:   1,
		UpdatedAt: result.EndedAt,
	}
	if err := o.deps.Store.AddGraphNode(ctx, node); err != nil {
		o.deps.Logger.Warn("failed to persist cycle summary", map[string]interface{}{
			"operation": "selfconfig_record_cycle",
			"error":     err.Error(),
		})
	}
}
