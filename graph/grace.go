package graph

import "sync"

// GraceLedger tracks reciprocal grace extension, append-only: giving
// grace adds to extended[entity], receiving grace adds to
// received[entity] (§4.7). It lives alongside the graph rather than
// inside it — SPEC_FULL.md treats the ledger as in-process bookkeeping
// the consolidation pass consults, not a queryable graph node type.
type GraceLedger struct {
	mu       sync.Mutex
	extended map[string]int
	received map[string]int
}

// NewGraceLedger creates an empty ledger.
func NewGraceLedger() *GraceLedger {
	return &GraceLedger{
		extended: make(map[string]int),
		received: make(map[string]int),
	}
}

// Extend records that the system extended grace to entity.
func (l *GraceLedger) Extend(entity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.extended[entity]++
}

// Receive records that entity previously extended grace to the system,
// i.e. the system received grace from entity.
func (l *GraceLedger) Receive(entity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received[entity]++
}

// ReceivedCount reports how many times entity has extended grace to the
// system.
func (l *GraceLedger) ReceivedCount(entity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.received[entity]
}

// HasReceivedFrom reports whether entity appears in the grace-received
// ledger at all (§4.7's first grace-applicability condition).
func (l *GraceLedger) HasReceivedFrom(entity string) bool {
	return l.ReceivedCount(entity) > 0
}

// GratitudeBalance is extended/received for entity — how much grace the
// system has given relative to what it's gotten back. Recomputed on
// every read rather than cached, since it's derived from the two append
// counters and reads happen far less often than appends.
func (l *GraceLedger) GratitudeBalance(entity string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	received := l.received[entity]
	if received == 0 {
		if l.extended[entity] == 0 {
			return 0
		}
		return float64(l.extended[entity])
	}
	return float64(l.extended[entity]) / float64(received)
}
