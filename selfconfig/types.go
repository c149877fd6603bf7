// Package selfconfig implements the self-configuration orchestrator
// (§4.10): a fixed five-state adaptation cycle that pulls proposals from
// the feedback loop, safe-filters them against the remaining identity
// variance budget, applies the admitted ones, and rolls back if the
// resulting drift would require review.
package selfconfig

import (
	"time"

	"github.com/meridian-run/meridian/feedback"
)

// State is one of the orchestrator's five states (§4.10).
type State string

const (
	StateLearning    State = "learning"
	StateProposing   State = "proposing"
	StateAdapting    State = "adapting"
	StateStabilizing State = "stabilizing"
	StateReviewing   State = "reviewing"
)

// defaultStabilizationPeriod matches §4.10's stabilization_period
// default of 24h.
const defaultStabilizationPeriod = 24 * time.Hour

// ReviewOutcome is the Wise Authority's disposition on a reviewing-state
// cycle, passed to ResumeAfterReview.
type ReviewOutcome string

const (
	OutcomeApproved ReviewOutcome = "approved"
	OutcomeRejected ReviewOutcome = "rejected"
)

// CycleResult is the per-cycle summary node's content (§4.10 step 8).
type CycleResult struct {
	StartedAt      time.Time
	EndedAt        time.Time
	FromState      State
	ToState        State
	PatternsFound  int
	ProposalsMade  int
	ProposalsAdmitted []feedback.Proposal
	ChangesApplied int
	RolledBack     bool
	Error          error
}
