package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-run/meridian/core"
)

// defaultConsolidationThreshold matches §6's consolidation_threshold_hours
// default of 24h.
const defaultConsolidationThreshold = 24 * time.Hour

// growthPatternTransformation is the fixed transformation text every
// grace-applicable group's node carries, whichever condition made it
// applicable, matching scenario S4 verbatim.
const growthPatternTransformation = "Performance struggles become optimization insights"

// Consolidator runs the grace-aware consolidation pass described in
// §4.7: group recent TSDB points by (MemoryType, hour bucket), decide
// grace applicability per group, and emit either a grace-softened
// concept node (scope identity) or a plain summary node (scope local).
type Consolidator struct {
	store     Store
	ledger    *GraceLedger
	logger    core.Logger
	threshold time.Duration

	mu                sync.Mutex
	lastConsolidation time.Time
	inProgress        bool
}

// NewConsolidator creates a consolidator with the default 24h threshold.
func NewConsolidator(store Store, ledger *GraceLedger, logger core.Logger) *Consolidator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Consolidator{
		store:     store,
		ledger:    ledger,
		logger:    logger,
		threshold: defaultConsolidationThreshold,
	}
}

// SetThreshold overrides the default consolidation_threshold.
func (c *Consolidator) SetThreshold(d time.Duration) {
	c.threshold = d
}

// ShouldRun reports whether consolidation is due: now - last_consolidation
// > threshold and no run is already in progress.
func (c *Consolidator) ShouldRun(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inProgress {
		return false
	}
	return now.Sub(c.lastConsolidation) > c.threshold
}

// group is one (MemoryType, hour bucket) bucket of points awaiting a
// consolidation decision.
type group struct {
	memType    MemoryType
	hourBucket int64
	points     []TSDBPoint
}

// Result summarizes one consolidation pass.
type Result struct {
	GraceNodes   []Node
	SummaryNodes []Node
	Consolidated int
}

// Run executes one consolidation pass over the last `threshold` window
// for scope, producing concept nodes and marking originals consolidated
// (retained, not deleted, per §4.7).
func (c *Consolidator) Run(ctx context.Context, scope core.GraphScope) (Result, error) {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		return Result{}, fmt.Errorf("graph: consolidation already in progress")
	}
	c.inProgress = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inProgress = false
		c.lastConsolidation = time.Now()
		c.mu.Unlock()
	}()

	hours := int(c.threshold.Hours())
	if hours <= 0 {
		hours = 24
	}

	points, err := c.store.RecallTimeseries(ctx, scope, hours, nil, nil)
	if err != nil {
		return Result{}, fmt.Errorf("graph: consolidation recall: %w", err)
	}

	groups := groupPoints(points)

	var res Result
	var allIDs []string
	for _, g := range groups {
		applicable, reasons := c.graceApplicable(g)
		var node Node
		if applicable {
			node = c.graceNode(g, reasons)
			res.GraceNodes = append(res.GraceNodes, node)
		} else {
			node = summaryNode(g)
			res.SummaryNodes = append(res.SummaryNodes, node)
		}
		if err := c.store.AddGraphNode(ctx, node); err != nil {
			return res, fmt.Errorf("graph: consolidation write node: %w", err)
		}
		for _, p := range g.points {
			allIDs = append(allIDs, p.ID)
		}
	}

	if err := c.store.MarkConsolidated(ctx, allIDs); err != nil {
		return res, fmt.Errorf("graph: consolidation mark: %w", err)
	}
	res.Consolidated = len(allIDs)
	return res, nil
}

func groupPoints(points []TSDBPoint) []group {
	buckets := make(map[string]*group)
	var order []string

	for _, p := range points {
		mt := classify(p)
		hourBucket := p.Timestamp.Truncate(time.Hour).Unix()
		key := fmt.Sprintf("%s\x00%d", mt, hourBucket)
		g, ok := buckets[key]
		if !ok {
			g = &group{memType: mt, hourBucket: hourBucket}
			buckets[key] = g
			order = append(order, key)
		}
		g.points = append(g.points, p)
	}

	out := make([]group, 0, len(order))
	for _, key := range order {
		out = append(out, *buckets[key])
	}
	return out
}

// graceApplicable implements §4.7's two grace-applicability conditions:
// the group contains an entity the ledger has received grace from, or
// the group shows a growth pattern (later-half errors < earlier-half
// errors).
func (c *Consolidator) graceApplicable(g group) (bool, []string) {
	var reasons []string

	entities := entitiesIn(g)
	for _, e := range entities {
		if n := c.ledger.ReceivedCount(e); n > 0 {
			reasons = append(reasons, fmt.Sprintf("%s has shown us grace %d times", e, n))
		}
	}

	if growthPattern(g) {
		reasons = append(reasons, "growth pattern")
	}

	return len(reasons) > 0, reasons
}

func entitiesIn(g group) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range g.points {
		if e, ok := p.Tags["from_entity"]; ok && e != "" {
			if _, dup := seen[e]; !dup {
				seen[e] = struct{}{}
				out = append(out, e)
			}
		}
	}
	sort.Strings(out)
	return out
}

// growthPattern reports whether errors in the later half of the group's
// time-sorted points are fewer than in the earlier half (§4.7, property
// 14).
func growthPattern(g group) bool {
	sorted := make([]TSDBPoint, len(g.points))
	copy(sorted, g.points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	mid := len(sorted) / 2
	earlier, later := sorted[:mid], sorted[mid:]

	countErrors := func(pts []TSDBPoint) int {
		n := 0
		for _, p := range pts {
			if p.LogLevel == "ERROR" {
				n++
			}
		}
		return n
	}

	earlyErrors, laterErrors := countErrors(earlier), countErrors(later)
	return earlyErrors > 0 && laterErrors < earlyErrors
}

// graceNode builds the single concept node a grace-applicable group
// produces, in scope identity (§4.7).
func (c *Consolidator) graceNode(g group, reasons []string) Node {
	return Node{
		ID:    fmt.Sprintf("consolidation_%s_%d_%s", g.memType, g.hourBucket, uuid.NewString()[:8]),
		Kind:  core.NodeKindConcept,
		Scope: core.ScopeIdentity,
		Attributes: map[string]interface{}{
			"memory_type":     string(g.memType),
			"hour_bucket":     g.hourBucket,
			"point_count":     len(g.points),
			"transformation":  growthPatternTransformation,
			"grace_reasons":   reasons,
		},
		Version:   1,
		UpdatedAt: time.Now(),
	}
}

// DailySummary folds one day's consolidation summary nodes into a single
// daily_summary concept node per MemoryType, referencing the nodes it
// rolls up. It is a separate call from Run; nothing in this module
// schedules it.
func (c *Consolidator) DailySummary(ctx context.Context, scope core.GraphScope, day time.Time, summaries []Node) ([]Node, error) {
	byType := make(map[MemoryType][]Node)
	for _, n := range summaries {
		mt, _ := n.Attributes["memory_type"].(string)
		byType[MemoryType(mt)] = append(byType[MemoryType(mt)], n)
	}

	dayKey := day.Truncate(24 * time.Hour).Format("2006-01-02")

	var out []Node
	for mt, nodes := range byType {
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID
		}
		node := Node{
			ID:    fmt.Sprintf("daily_summary_%s_%s", mt, dayKey),
			Kind:  core.NodeKindConcept,
			Scope: scope,
			Attributes: map[string]interface{}{
				"memory_type":   string(mt),
				"day":           dayKey,
				"summary_count": len(nodes),
				"summary_ids":   ids,
			},
			Version:   1,
			UpdatedAt: time.Now(),
		}
		if err := c.store.AddGraphNode(ctx, node); err != nil {
			return out, fmt.Errorf("graph: daily_summary write: %w", err)
		}
		out = append(out, node)
	}
	return out, nil
}

// summaryNode builds the plain summary node a non-grace group produces,
// in scope local (§4.7).
func summaryNode(g group) Node {
	return Node{
		ID:    fmt.Sprintf("consolidation_%s_%d_%s", g.memType, g.hourBucket, uuid.NewString()[:8]),
		Kind:  core.NodeKindConcept,
		Scope: core.ScopeLocal,
		Attributes: map[string]interface{}{
			"memory_type": string(g.memType),
			"hour_bucket": g.hourBucket,
			"point_count": len(g.points),
		},
		Version:   1,
		UpdatedAt: time.Now(),
	}
}
