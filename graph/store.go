package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/resilience"
)

// Store is the persistence contract §4.6 operates over. PostgresStore is
// the production implementation; tests use an in-memory fake
// implementing the same contract so consolidation/telemetry logic is
// exercised without a live database.
type Store interface {
	AddGraphNode(ctx context.Context, node Node) error
	GetGraphNode(ctx context.Context, id string, scope core.GraphScope) (Node, bool, error)
	DeleteGraphNode(ctx context.Context, id string, scope core.GraphScope) (int64, error)
	AddGraphEdge(ctx context.Context, edge Edge) error
	DeleteGraphEdge(ctx context.Context, edgeKey string) error
	GetEdgesForNode(ctx context.Context, id string, scope core.GraphScope) ([]Edge, error)
	RecallTimeseries(ctx context.Context, scope core.GraphScope, hours int, dataTypes []core.TSDBDataType, tagFilters map[string]string) ([]TSDBPoint, error)
	AddTimeseriesPoint(ctx context.Context, scope core.GraphScope, point TSDBPoint) error
	MarkConsolidated(ctx context.Context, pointIDs []string) error
}

// PostgresStore is the jackc/pgx/v5-backed Store implementation. It
// expects this schema: a
// `graph_nodes` table keyed by (id, scope) with a JSONB attributes
// column, a `graph_edges` table keyed by the deterministic edge key, and
// a `tsdb_points` table with a JSONB tags column and a `consolidated`
// boolean.
type PostgresStore struct {
	pool  *pgxpool.Pool
	retry *resilience.RetryExecutor
}

// NewPostgresStore wraps an existing pool. Callers own the pool's
// lifecycle (Close).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Connect establishes a pooled connection, following the same
// context.Background()-qualified connect-at-startup pattern used
// throughout the pack's pgx call sites.
func Connect(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("graph: connect: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// SetRetryExecutor wraps the node and point write paths (AddGraphNode,
// AddTimeseriesPoint) in retry-with-backoff, for transient connection
// drops distinct from the LLM bus's per-provider circuit breakers —
// this is the generic resilience layer named in the resilience/ ledger
// entry, applied here to the store that actually talks to a network
// dependency. Edge writes, deletes and MarkConsolidated run once,
// without retry.
func (s *PostgresStore) SetRetryExecutor(executor *resilience.RetryExecutor) {
	s.retry = executor
}

func (s *PostgresStore) withRetry(ctx context.Context, operation string, fn func() error) error {
	if s.retry == nil {
		return fn()
	}
	return s.retry.Execute(ctx, operation, fn)
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// AddGraphNode upserts by (id, scope); updated_at auto-fills when absent
// (§4.6). Writes are durable before returning: this runs as a single
// statement, no buffering.
func (s *PostgresStore) AddGraphNode(ctx context.Context, node Node) error {
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = time.Now()
	}
	attrs, err := json.Marshal(node.Attributes)
	if err != nil {
		return fmt.Errorf("graph: marshal attributes: %w", err)
	}

	err = s.withRetry(ctx, "add_graph_node", func() error {
		_, execErr := s.pool.Exec(ctx, `
			INSERT INTO graph_nodes (id, scope, kind, attributes, version, updated_by, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id, scope) DO UPDATE SET
				kind = EXCLUDED.kind,
				attributes = EXCLUDED.attributes,
				version = EXCLUDED.version,
				updated_by = EXCLUDED.updated_by,
				updated_at = EXCLUDED.updated_at
		`, node.ID, string(node.Scope), string(node.Kind), attrs, node.Version, node.UpdatedBy, node.UpdatedAt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("graph: add_graph_node: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGraphNode(ctx context.Context, id string, scope core.GraphScope) (Node, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, scope, kind, attributes, version, updated_by, updated_at
		FROM graph_nodes WHERE id = $1 AND scope = $2
	`, id, string(scope))

	var n Node
	var kind, sc string
	var attrs []byte
	if err := row.Scan(&n.ID, &sc, &kind, &attrs, &n.Version, &n.UpdatedBy, &n.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, false, nil
		}
		return Node{}, false, fmt.Errorf("graph: get_graph_node: %w", err)
	}
	n.Scope = core.GraphScope(sc)
	n.Kind = core.NodeKind(kind)
	if err := json.Unmarshal(attrs, &n.Attributes); err != nil {
		return Node{}, false, fmt.Errorf("graph: unmarshal attributes: %w", err)
	}
	return n, true, nil
}

func (s *PostgresStore) DeleteGraphNode(ctx context.Context, id string, scope core.GraphScope) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM graph_nodes WHERE id = $1 AND scope = $2`, id, string(scope))
	if err != nil {
		return 0, fmt.Errorf("graph: delete_graph_node: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) AddGraphEdge(ctx context.Context, edge Edge) error {
	attrs, err := json.Marshal(edge.Attributes)
	if err != nil {
		return fmt.Errorf("graph: marshal edge attributes: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO graph_edges (edge_key, source_id, target_id, relationship, scope, weight, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (edge_key) DO UPDATE SET
			weight = EXCLUDED.weight,
			attributes = EXCLUDED.attributes
	`, edge.Key(), edge.SourceID, edge.TargetID, edge.Relationship, string(edge.Scope), edge.Weight, attrs)
	if err != nil {
		return fmt.Errorf("graph: add_graph_edge: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteGraphEdge(ctx context.Context, edgeKey string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM graph_edges WHERE edge_key = $1`, edgeKey); err != nil {
		return fmt.Errorf("graph: delete_graph_edge: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEdgesForNode(ctx context.Context, id string, scope core.GraphScope) ([]Edge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_id, target_id, relationship, scope, weight, attributes
		FROM graph_edges
		WHERE scope = $1 AND (source_id = $2 OR target_id = $2)
	`, string(scope), id)
	if err != nil {
		return nil, fmt.Errorf("graph: get_edges_for_node: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var sc string
		var attrs []byte
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Relationship, &sc, &e.Weight, &attrs); err != nil {
			return nil, fmt.Errorf("graph: scan edge: %w", err)
		}
		e.Scope = core.GraphScope(sc)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
				return nil, fmt.Errorf("graph: unmarshal edge attributes: %w", err)
			}
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *PostgresStore) RecallTimeseries(ctx context.Context, scope core.GraphScope, hours int, dataTypes []core.TSDBDataType, tagFilters map[string]string) ([]TSDBPoint, error) {
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	rows, err := s.pool.Query(ctx, `
		SELECT id, scope, timestamp, data_type, metric_name, metric_value, log_level, log_message, tags, retention, aggregation_period
		FROM tsdb_points
		WHERE scope = $1 AND timestamp >= $2 AND consolidated = false
		ORDER BY timestamp ASC
	`, string(scope), since)
	if err != nil {
		return nil, fmt.Errorf("graph: recall_timeseries: %w", err)
	}
	defer rows.Close()

	var points []TSDBPoint
	for rows.Next() {
		var p TSDBPoint
		var sc, dt string
		var tags []byte
		if err := rows.Scan(&p.ID, &sc, &p.Timestamp, &dt, &p.MetricName, &p.MetricValue, &p.LogLevel, &p.LogMessage, &tags, &p.Retention, &p.AggregationPeriod); err != nil {
			return nil, fmt.Errorf("graph: scan tsdb point: %w", err)
		}
		p.Scope = core.GraphScope(sc)
		p.DataType = core.TSDBDataType(dt)
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &p.Tags); err != nil {
				return nil, fmt.Errorf("graph: unmarshal tags: %w", err)
			}
		}
		points = append(points, filterPoint(p, dataTypes, tagFilters))
	}
	return compact(points), rows.Err()
}

// filterPoint returns the zero TSDBPoint when p doesn't match the
// caller's optional data-type/tag filters; compact drops those.
func filterPoint(p TSDBPoint, dataTypes []core.TSDBDataType, tagFilters map[string]string) TSDBPoint {
	if len(dataTypes) > 0 {
		match := false
		for _, dt := range dataTypes {
			if p.DataType == dt {
				match = true
				break
			}
		}
		if !match {
			return TSDBPoint{}
		}
	}
	for k, v := range tagFilters {
		if p.Tags[k] != v {
			return TSDBPoint{}
		}
	}
	return p
}

func compact(points []TSDBPoint) []TSDBPoint {
	out := points[:0]
	for _, p := range points {
		if p.ID != "" {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func (s *PostgresStore) AddTimeseriesPoint(ctx context.Context, scope core.GraphScope, point TSDBPoint) error {
	tags, err := json.Marshal(point.Tags)
	if err != nil {
		return fmt.Errorf("graph: marshal tags: %w", err)
	}
	err = s.withRetry(ctx, "add_timeseries_point", func() error {
		_, execErr := s.pool.Exec(ctx, `
			INSERT INTO tsdb_points (id, scope, timestamp, data_type, metric_name, metric_value, log_level, log_message, tags, retention, aggregation_period, consolidated)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, false)
			ON CONFLICT (id, scope) DO NOTHING
		`, point.ID, string(scope), point.Timestamp, string(point.DataType), point.MetricName, point.MetricValue, point.LogLevel, point.LogMessage, tags, string(point.Retention), point.AggregationPeriod)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("graph: add_timeseries_point: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkConsolidated(ctx context.Context, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE tsdb_points SET consolidated = true WHERE id = ANY($1)`, pointIDs)
	if err != nil {
		return fmt.Errorf("graph: mark_consolidated: %w", err)
	}
	return nil
}
