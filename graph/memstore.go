package graph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meridian-run/meridian/core"
)

// MemStore is an in-process Store implementation, used in tests and as
// a fallback when no database is configured. Not for production use —
// it holds no durability guarantee across process restarts.
type MemStore struct {
	mu            sync.Mutex
	nodes         map[string]Node
	edges         map[string]Edge
	points        map[string]TSDBPoint
	consolidated  map[string]bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nodes:        make(map[string]Node),
		edges:        make(map[string]Edge),
		points:       make(map[string]TSDBPoint),
		consolidated: make(map[string]bool),
	}
}

func (s *MemStore) AddGraphNode(ctx context.Context, node Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[node.Key()] = node
	return nil
}

func (s *MemStore) GetGraphNode(ctx context.Context, id string, scope core.GraphScope) (Node, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[Node{ID: id, Scope: scope}.Key()]
	return n, ok, nil
}

func (s *MemStore) DeleteGraphNode(ctx context.Context, id string, scope core.GraphScope) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := Node{ID: id, Scope: scope}.Key()
	if _, ok := s.nodes[key]; !ok {
		return 0, nil
	}
	delete(s.nodes, key)
	return 1, nil
}

func (s *MemStore) AddGraphEdge(ctx context.Context, edge Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[edge.Key()] = edge
	return nil
}

func (s *MemStore) DeleteGraphEdge(ctx context.Context, edgeKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edges, edgeKey)
	return nil
}

func (s *MemStore) GetEdgesForNode(ctx context.Context, id string, scope core.GraphScope) ([]Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Edge
	for _, e := range s.edges {
		if e.Scope != scope {
			continue
		}
		if e.SourceID == id || e.TargetID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemStore) RecallTimeseries(ctx context.Context, scope core.GraphScope, hours int, dataTypes []core.TSDBDataType, tagFilters map[string]string) ([]TSDBPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	var out []TSDBPoint
	for _, p := range s.points {
		if p.Scope != scope || p.Timestamp.Before(since) || s.consolidated[p.ID] {
			continue
		}
		filtered := filterPoint(p, dataTypes, tagFilters)
		if filtered.ID != "" {
			out = append(out, filtered)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemStore) AddTimeseriesPoint(ctx context.Context, scope core.GraphScope, point TSDBPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	point.Scope = scope
	s.points[point.ID] = point
	return nil
}

func (s *MemStore) MarkConsolidated(ctx context.Context, pointIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range pointIDs {
		s.consolidated[id] = true
	}
	return nil
}

// IsConsolidated reports whether a point has been marked consolidated.
// Test helper — PostgresStore callers query the `consolidated` column
// directly instead.
func (s *MemStore) IsConsolidated(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consolidated[id]
}
