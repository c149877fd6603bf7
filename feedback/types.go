// Package feedback implements the configuration feedback loop (§4.9):
// four pattern detectors over recent graph telemetry, each producing at
// most one AdaptationProposal per qualifying pattern.
package feedback

import (
	"time"

	"github.com/meridian-run/meridian/core"
)

// patternThreshold is §6's pattern_threshold default (0.7): the minimum
// confidence a detected pattern needs before it yields a proposal.
const patternThreshold = 0.7

// PatternType classifies which detector produced a Pattern and which
// proposal strategy applies to it (§4.9).
type PatternType string

const (
	PatternTemporal              PatternType = "temporal"
	PatternFrequencyDominant     PatternType = "frequency_dominant"
	PatternFrequencyUnderused    PatternType = "frequency_underused"
	PatternPerformanceDegraded   PatternType = "performance_degradation"
	PatternErrorRecurringTimeout PatternType = "error_recurring_timeout"
	PatternErrorRecurringTool    PatternType = "error_recurring_tool"
)

// Pattern is one detector finding.
type Pattern struct {
	Type       PatternType
	Confidence float64
	Evidence   map[string]interface{}
}

// Qualifies reports whether the pattern's confidence clears §4.9's
// pattern_threshold.
func (p Pattern) Qualifies() bool {
	return p.Confidence >= patternThreshold
}

// ConfigType names which configuration surface an AdaptationProposal's
// changes target (§4.9's per-pattern-type strategy table).
type ConfigType string

const (
	ConfigToolPreferences   ConfigType = "TOOL_PREFERENCES"
	ConfigResponseTemplates ConfigType = "RESPONSE_TEMPLATES"
	ConfigCapabilityLimits  ConfigType = "CAPABILITY_LIMITS"
	ConfigBehaviorConfig    ConfigType = "BEHAVIOR_CONFIG"
)

// Proposal is an AdaptationProposal (§3, GraphNode kind=concept).
type Proposal struct {
	ID              string
	Trigger         PatternType
	CurrentPattern  Pattern
	ProposedChanges map[ConfigType]map[string]interface{}
	Evidence        map[string]interface{}
	Confidence      float64
	AutoApplicable  bool
	Scope           core.GraphScope
	Applied         bool
	AppliedAt       *time.Time
}

// scopeBaseImpact is §3's per-scope projected variance impact (local
// 2%, community 3%, environment 5%, identity 10%).
var scopeBaseImpact = map[core.GraphScope]float64{
	core.ScopeLocal:       0.02,
	core.ScopeCommunity:   0.03,
	core.ScopeEnvironment: 0.05,
	core.ScopeIdentity:    0.10,
}

// ProjectedImpact computes a proposal's projected variance impact: the
// scope's base impact, multiplied by 1.2 for each additional change
// beyond the first (§3).
func (p Proposal) ProjectedImpact() float64 {
	base := scopeBaseImpact[p.Scope]
	extra := len(p.ProposedChanges) - 1
	if extra < 0 {
		extra = 0
	}
	impact := base
	for i := 0; i < extra; i++ {
		impact *= 1.2
	}
	return impact
}
