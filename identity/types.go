// Package identity implements the identity variance monitor (§4.8):
// frozen baseline snapshots, weighted drift computation against the
// current state, and threshold-gated Wise Authority review routing.
package identity

import (
	"time"

	"github.com/meridian-run/meridian/core"
)

// SnapshotType distinguishes the one immutable baseline from every
// later current snapshot (§3's IdentitySnapshot).
type SnapshotType string

const (
	SnapshotBaseline SnapshotType = "baseline"
	SnapshotCurrent  SnapshotType = "current"
)

// Snapshot is an IdentitySnapshot (§3): a point-in-time capture of an
// agent's ethical boundaries, capabilities, and behavioral pattern
// distribution.
type Snapshot struct {
	ID                string
	SnapshotType      SnapshotType
	AgentID           string
	IdentityHash      string
	EthicalBoundaries map[string]int
	Capabilities      []string
	BehavioralPatterns map[string]float64 // action -> percentage of recent audit events
	Timestamp         time.Time
	Immutable         bool
}

// DiffType classifies one IdentityDiff entry.
type DiffType string

const (
	DiffAdded    DiffType = "added"
	DiffRemoved  DiffType = "removed"
	DiffModified DiffType = "modified"
)

// Diff is one IdentityDiff (§3): a single difference between baseline
// and current, weighted by impact.
type Diff struct {
	NodeID        string
	DiffType      DiffType
	Impact        core.VarianceImpact
	BaselineValue interface{}
	CurrentValue  interface{}
	Description   string
}

// Report is a VarianceReport (§3): the full result of one variance
// check, including the weighted total and whether it crosses the
// configured threshold.
type Report struct {
	BaselineID       string
	CurrentID        string
	TotalVariance    float64
	VarianceByImpact map[core.VarianceImpact]float64
	Differences      []Diff
	RequiresWAReview bool
	Recommendations  []string
}
