// Package graph implements graph persistence (§4.6), the unified
// telemetry snapshot-to-node pipeline (§4.7), and grace-aware
// consolidation, backed by jackc/pgx/v5.
package graph

import (
	"fmt"
	"time"

	"github.com/meridian-run/meridian/core"
)

// Node is a graph node. (ID, Scope) uniquely identifies it (§3's
// GraphNode invariant).
type Node struct {
	ID         string
	Kind       core.NodeKind
	Scope      core.GraphScope
	Attributes map[string]interface{}
	Version    int
	UpdatedBy  string
	UpdatedAt  time.Time
}

// Key returns the node's unique identity for upsert purposes.
func (n Node) Key() string { return string(n.Scope) + "\x00" + n.ID }

// Edge is a graph edge between two nodes. The deterministic key is
// source→target→relationship (§3).
type Edge struct {
	SourceID     string
	TargetID     string
	Relationship string
	Scope        core.GraphScope
	Weight       float64
	Attributes   map[string]interface{}
}

// Key returns the edge's deterministic identity.
func (e Edge) Key() string {
	return fmt.Sprintf("%s→%s→%s", e.SourceID, e.TargetID, e.Relationship)
}

// TSDBPoint is a time-series refinement of Node (kind=tsdb_data, §3's
// TSDBNode). ID convention: <data_type>_<name?>_<unix_seconds>[_hash].
type TSDBPoint struct {
	ID                string
	Scope             core.GraphScope
	Timestamp         time.Time
	DataType          core.TSDBDataType
	MetricName        string
	MetricValue        float64
	LogLevel          string
	LogMessage        string
	Tags              map[string]string
	Retention         core.RetentionPolicy
	AggregationPeriod string
}

// MemoryType classifies a TSDBPoint for consolidation grouping (§4.7).
// Derived from tags/data_type, not stored directly on the point.
type MemoryType string

const (
	MemoryOperational MemoryType = "operational"
	MemoryBehavioral  MemoryType = "behavioral"
	MemorySocial      MemoryType = "social"
	MemoryIdentity    MemoryType = "identity"
	MemoryWisdom      MemoryType = "wisdom"
)

// classify derives a TSDBPoint's MemoryType from its tags and data type.
// A "memory_type" tag takes precedence when present; otherwise metric
// errors/logs default to operational, and an explicit "identity"/
// "social"/"wisdom" tag value routes accordingly.
func classify(p TSDBPoint) MemoryType {
	if mt, ok := p.Tags["memory_type"]; ok {
		switch MemoryType(mt) {
		case MemoryOperational, MemoryBehavioral, MemorySocial, MemoryIdentity, MemoryWisdom:
			return MemoryType(mt)
		}
	}
	switch p.DataType {
	case core.TSDBAuditEvent:
		return MemoryBehavioral
	case core.TSDBLogEntry:
		return MemoryOperational
	default:
		return MemoryOperational
	}
}
