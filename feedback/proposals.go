package feedback

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/meridian-run/meridian/core"
)

// generateProposal maps one qualifying Pattern to its AdaptationProposal
// per §4.9's per-pattern-type strategy table. Returns false if the
// pattern type has no mapped strategy (shouldn't happen for anything
// DetectAll returns, but kept explicit rather than panicking).
func generateProposal(p Pattern) (Proposal, bool) {
	base := Proposal{
		ID:             uuid.NewString(),
		Trigger:        p.Type,
		CurrentPattern: p,
		Evidence:       p.Evidence,
		Confidence:     p.Confidence,
	}

	switch p.Type {
	case PatternTemporal:
		base.Scope = core.ScopeLocal
		base.AutoApplicable = true
		base.ProposedChanges = map[ConfigType]map[string]interface{}{
			ConfigToolPreferences: {
				"morning_tool": p.Evidence["morning_top_tool"],
				"evening_tool": p.Evidence["evening_top_tool"],
			},
		}

	case PatternFrequencyDominant:
		base.Scope = core.ScopeLocal
		base.AutoApplicable = true
		base.ProposedChanges = map[ConfigType]map[string]interface{}{
			ConfigResponseTemplates: {
				"cache_action": p.Evidence["action"],
			},
		}

	case PatternFrequencyUnderused:
		base.Scope = core.ScopeIdentity
		base.AutoApplicable = false
		cap, _ := p.Evidence["capability"].(string)
		base.ProposedChanges = map[ConfigType]map[string]interface{}{
			ConfigCapabilityLimits: {
				fmt.Sprintf("disable_%s", cap): true,
			},
		}

	case PatternPerformanceDegraded:
		base.Scope = core.ScopeIdentity
		base.AutoApplicable = false
		base.ProposedChanges = map[ConfigType]map[string]interface{}{
			ConfigBehaviorConfig: {
				"shorter_timeouts": true,
				"ratio":            p.Evidence["ratio"],
			},
		}

	case PatternErrorRecurringTimeout:
		base.Scope = core.ScopeIdentity
		base.AutoApplicable = false
		base.ProposedChanges = map[ConfigType]map[string]interface{}{
			ConfigBehaviorConfig: {
				"increase_timeout_budget": true,
			},
		}

	case PatternErrorRecurringTool:
		base.Scope = core.ScopeLocal
		base.AutoApplicable = false
		base.ProposedChanges = map[ConfigType]map[string]interface{}{
			ConfigToolPreferences: {
				"avoid_recurring_failure": true,
			},
		}

	default:
		return Proposal{}, false
	}

	return base, true
}

// GenerateProposals turns each qualifying pattern into at most one
// AdaptationProposal (§4.9: "Each qualifying pattern yields at most one
// AdaptationProposal").
func GenerateProposals(patterns []Pattern) []Proposal {
	var proposals []Proposal
	for _, p := range patterns {
		if prop, ok := generateProposal(p); ok {
			proposals = append(proposals, prop)
		}
	}
	return proposals
}
