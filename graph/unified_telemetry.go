package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-run/meridian/core"
)

// Summary is one task or thought summary carried in a Snapshot (§4.7
// item 3).
type Summary struct {
	Type string
	ID   string
	Text string
}

// UserProfile is one user profile carried in a Snapshot (§4.7 item 4).
type UserProfile struct {
	UserID     string
	Attributes map[string]interface{}
}

// Snapshot is the reasoning layer's post-thought system snapshot that
// drives unified telemetry (§4.7).
type Snapshot struct {
	ThoughtID        string
	TaskID           string
	Telemetry        map[string]float64
	TokensUsed       int
	CostCents        float64
	TaskSummaries    []Summary
	ThoughtSummaries []Summary
	UserProfiles     []UserProfile
	IdentityContext  map[string]interface{}
}

// Pipeline turns snapshots into graph writes (§4.7 items 1-5).
type Pipeline struct {
	store  Store
	logger core.Logger
}

// NewPipeline creates a unified telemetry pipeline against store.
func NewPipeline(store Store, logger core.Logger) *Pipeline {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Pipeline{store: store, logger: logger}
}

// Process writes every node/point a snapshot implies, per §4.7 items 1-5.
// Individual write failures are logged and collected; Process returns the
// first error but still attempts every remaining write, since a single
// metric failing to persist shouldn't suppress the rest of the snapshot.
func (p *Pipeline) Process(ctx context.Context, now time.Time, snap Snapshot) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	tags := map[string]string{
		"thought_id": snap.ThoughtID,
		"task_id":    snap.TaskID,
		"source":     "snapshot",
	}

	// 1. Metrics.
	for key, value := range snap.Telemetry {
		record(p.memorizeMetric(ctx, now, "telemetry."+key, value, tags))
	}

	// 2. Resource usage.
	record(p.memorizeMetric(ctx, now, "resources.tokens_used", float64(snap.TokensUsed), tags))
	record(p.memorizeMetric(ctx, now, "resources.cost_cents", snap.CostCents, tags))

	// 3. Behavior.
	for _, s := range snap.TaskSummaries {
		record(p.behaviorNode(ctx, now, "task", s))
	}
	for _, s := range snap.ThoughtSummaries {
		record(p.behaviorNode(ctx, now, "thought", s))
	}

	// 4. Social.
	for _, u := range snap.UserProfiles {
		record(p.userNode(ctx, now, u))
	}

	// 5. Identity context.
	record(p.identityNode(ctx, now, snap))

	return firstErr
}

func (p *Pipeline) memorizeMetric(ctx context.Context, now time.Time, name string, value float64, tags map[string]string) error {
	id := fmt.Sprintf("metric_%s_%d", sanitizeID(name), now.Unix())
	point := TSDBPoint{
		ID:          id,
		Scope:       core.ScopeLocal,
		Timestamp:   now,
		DataType:    core.TSDBMetric,
		MetricName:  name,
		MetricValue: value,
		Tags:        tags,
		Retention:   core.RetentionRaw,
	}
	if err := p.store.AddTimeseriesPoint(ctx, core.ScopeLocal, point); err != nil {
		p.logger.Warn("unified telemetry metric write failed", map[string]interface{}{
			"operation": "unified_telemetry_metric",
			"metric":    name,
			"error":     err.Error(),
		})
		return err
	}
	return nil
}

func (p *Pipeline) behaviorNode(ctx context.Context, now time.Time, kind string, s Summary) error {
	node := Node{
		ID:    fmt.Sprintf("behavior_%s_%s", kind, s.ID),
		Kind:  core.NodeKindConcept,
		Scope: core.ScopeLocal,
		Attributes: map[string]interface{}{
			"summary_type": kind,
			"summary_text": s.Text,
		},
		Version:   1,
		UpdatedAt: now,
	}
	if err := p.store.AddGraphNode(ctx, node); err != nil {
		p.logger.Warn("unified telemetry behavior node write failed", map[string]interface{}{
			"operation": "unified_telemetry_behavior",
			"id":        node.ID,
			"error":     err.Error(),
		})
		return err
	}
	return nil
}

func (p *Pipeline) userNode(ctx context.Context, now time.Time, u UserProfile) error {
	node := Node{
		ID:         "user_" + u.UserID,
		Kind:       core.NodeKindUser,
		Scope:      core.ScopeCommunity,
		Attributes: u.Attributes,
		Version:    1,
		UpdatedAt:  now,
	}
	if err := p.store.AddGraphNode(ctx, node); err != nil {
		p.logger.Warn("unified telemetry user node write failed", map[string]interface{}{
			"operation": "unified_telemetry_user",
			"id":        node.ID,
			"error":     err.Error(),
		})
		return err
	}
	return nil
}

func (p *Pipeline) identityNode(ctx context.Context, now time.Time, snap Snapshot) error {
	node := Node{
		ID:    fmt.Sprintf("identity_context_%s_%d", snap.ThoughtID, now.Unix()),
		Kind:  core.NodeKindAgent,
		Scope: core.ScopeIdentity,
		Attributes: map[string]interface{}{
			"thought_id": snap.ThoughtID,
			"task_id":    snap.TaskID,
			"context":    snap.IdentityContext,
		},
		Version:   1,
		UpdatedAt: now,
	}
	if err := p.store.AddGraphNode(ctx, node); err != nil {
		p.logger.Warn("unified telemetry identity node write failed", map[string]interface{}{
			"operation": "unified_telemetry_identity",
			"id":        node.ID,
			"error":     err.Error(),
		})
		return err
	}
	return nil
}

// sanitizeID replaces characters that would be awkward in an ID
// convention like <data_type>_<name>_<unix_seconds> (§3).
func sanitizeID(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == ' ' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
