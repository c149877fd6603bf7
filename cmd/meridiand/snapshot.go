package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/meridian-run/meridian/config"
	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/graph"
	"github.com/meridian-run/meridian/identity"
	"github.com/meridian-run/meridian/selfconfig"
)

const (
	ethicalBoundariesNodeID = "config_ethical_boundaries"
	capabilitiesNodeID      = "config_capabilities"
	behavioralWindowHours   = 7 * 24
)

// currentSnapshotFunc builds the selfconfig.SnapshotFunc callback the
// orchestrator needs for every variance check (§4.8): it reads the
// live ethical-boundaries and capability config nodes plus a 7-day
// action distribution derived from recent audit-event points, exactly
// the three inputs §4.8's Check step names. Building the snapshot this
// way (reading the graph rather than a reasoning-layer callback) is the
// concrete choice left to cmd/meridiand since the spec scopes
// DMA-specific reasoning out (§1).
func currentSnapshotFunc(store graph.Store, expectedCapabilities []string) selfconfig.SnapshotFunc {
	return func(ctx context.Context) (identity.Snapshot, error) {
		boundaries := map[string]int{}
		if node, ok, err := store.GetGraphNode(ctx, ethicalBoundariesNodeID, core.ScopeIdentity); err == nil && ok {
			if raw, ok := node.Attributes["boundaries"].(map[string]int); ok {
				boundaries = raw
			}
		}

		var capabilities []string
		if node, ok, err := store.GetGraphNode(ctx, capabilitiesNodeID, core.ScopeIdentity); err == nil && ok {
			if raw, ok := node.Attributes["capabilities"].([]string); ok {
				capabilities = raw
			}
		}
		if capabilities == nil {
			capabilities = append([]string{}, expectedCapabilities...)
		}

		patterns, err := actionDistribution(ctx, store)
		if err != nil {
			return identity.Snapshot{}, err
		}

		now := time.Now()
		id := fmt.Sprintf("identity_current_%d", now.Unix())
		return identity.Snapshot{
			ID:                 id,
			SnapshotType:       identity.SnapshotCurrent,
			EthicalBoundaries:  boundaries,
			Capabilities:       capabilities,
			BehavioralPatterns: patterns,
			Timestamp:          now,
		}, nil
	}
}

// actionDistribution computes the action-name -> share-of-events
// distribution over the last 7 days of AUDIT_EVENT points (§4.8:
// "derived from recent audit events (last 7 days) as action
// distribution").
func actionDistribution(ctx context.Context, store graph.Store) (map[string]float64, error) {
	points, err := store.RecallTimeseries(ctx, core.ScopeLocal, behavioralWindowHours, []core.TSDBDataType{core.TSDBAuditEvent}, nil)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	total := 0
	for _, p := range points {
		action, ok := p.Tags["action"]
		if !ok {
			continue
		}
		counts[action]++
		total++
	}
	if total == 0 {
		return map[string]float64{}, nil
	}

	shares := make(map[string]float64, len(counts))
	for action, count := range counts {
		shares[action] = float64(count) / float64(total)
	}
	return shares, nil
}

// freezeInitialBaseline creates the one immutable baseline snapshot a
// fresh agent needs before any variance check can run (§4.8: "once per
// agent, freeze an IdentitySnapshot"). With no prior identity-scope
// graph state to read, the baseline starts from empty ethical
// boundaries and the operator-declared expected capabilities — the
// first real adaptation cycle then measures drift against this
// starting point.
func freezeInitialBaseline(ctx context.Context, monitor *identity.Monitor, cfg *config.Config) error {
	now := time.Now()
	snap := identity.Snapshot{
		ID:                fmt.Sprintf("identity_baseline_%s", cfg.Namespace),
		AgentID:           cfg.Namespace,
		IdentityHash:      identityHash(map[string]int{}, cfg.Feedback.ExpectedCapabilities),
		EthicalBoundaries: map[string]int{},
		Capabilities:       append([]string{}, cfg.Feedback.ExpectedCapabilities...),
		BehavioralPatterns: map[string]float64{},
		Timestamp:          now,
	}
	return monitor.FreezeBaseline(ctx, snap)
}

// identityHash derives a stable digest of the boundary/capability pair
// for a baseline snapshot's identity_hash field (§3), matching
// identity_hash's role as a content fingerprint rather than a secret.
func identityHash(boundaries map[string]int, capabilities []string) string {
	keys := make([]string, 0, len(boundaries))
	for k := range boundaries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%d;", k, boundaries[k])
	}
	caps := append([]string{}, capabilities...)
	sort.Strings(caps)
	for _, c := range caps {
		fmt.Fprintf(h, "cap:%s;", c)
	}
	return hex.EncodeToString(h.Sum(nil))
}
