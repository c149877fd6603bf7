package identity

import (
	"math"
	"sort"

	"github.com/meridian-run/meridian/core"
)

// behavioralShiftThresholdPts is the percentage-point shift in an
// action's frequency that counts as a medium-impact behavioral diff
// (§4.8: "any action whose percentage shifted > 20 percentage points").
const behavioralShiftThresholdPts = 20.0

// Compare builds the full Diff list between baseline and current, per
// §4.8's three comparison rules.
func Compare(baseline, current Snapshot) []Diff {
	var diffs []Diff
	diffs = append(diffs, diffBoundaries(baseline.EthicalBoundaries, current.EthicalBoundaries)...)
	diffs = append(diffs, diffCapabilities(baseline.Capabilities, current.Capabilities)...)
	diffs = append(diffs, diffBehavioralPatterns(baseline.BehavioralPatterns, current.BehavioralPatterns)...)
	return diffs
}

// diffBoundaries map-diffs ethical boundaries; every add/remove/modify
// is impact critical.
func diffBoundaries(baseline, current map[string]int) []Diff {
	var diffs []Diff
	for _, key := range sortedKeys(baseline, current) {
		bv, inBaseline := baseline[key]
		cv, inCurrent := current[key]
		switch {
		case inBaseline && !inCurrent:
			diffs = append(diffs, Diff{NodeID: key, DiffType: DiffRemoved, Impact: core.ImpactCritical, BaselineValue: bv, Description: "ethical boundary removed: " + key})
		case !inBaseline && inCurrent:
			diffs = append(diffs, Diff{NodeID: key, DiffType: DiffAdded, Impact: core.ImpactCritical, CurrentValue: cv, Description: "ethical boundary added: " + key})
		case inBaseline && inCurrent && bv != cv:
			diffs = append(diffs, Diff{NodeID: key, DiffType: DiffModified, Impact: core.ImpactCritical, BaselineValue: bv, CurrentValue: cv, Description: "ethical boundary modified: " + key})
		}
	}
	return diffs
}

func sortedKeys(a, b map[string]int) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		set[k] = struct{}{}
	}
	for k := range b {
		set[k] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// diffCapabilities set-diffs capabilities; every add/remove is impact
// high.
func diffCapabilities(baseline, current []string) []Diff {
	baseSet := toSet(baseline)
	curSet := toSet(current)

	var diffs []Diff
	for _, c := range sortedSlice(baseline) {
		if _, ok := curSet[c]; !ok {
			diffs = append(diffs, Diff{NodeID: c, DiffType: DiffRemoved, Impact: core.ImpactHigh, BaselineValue: c, Description: "capability removed: " + c})
		}
	}
	for _, c := range sortedSlice(current) {
		if _, ok := baseSet[c]; !ok {
			diffs = append(diffs, Diff{NodeID: c, DiffType: DiffAdded, Impact: core.ImpactHigh, CurrentValue: c, Description: "capability added: " + c})
		}
	}
	return diffs
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		set[i] = struct{}{}
	}
	return set
}

func sortedSlice(items []string) []string {
	out := make([]string, len(items))
	copy(out, items)
	sort.Strings(out)
	return out
}

// diffBehavioralPatterns compares action-frequency distributions; any
// action whose percentage shifted by more than behavioralShiftThresholdPts
// is impact medium.
func diffBehavioralPatterns(baseline, current map[string]float64) []Diff {
	var diffs []Diff
	for _, action := range sortedFloatKeys(baseline, current) {
		bv := baseline[action]
		cv := current[action]
		if math.Abs(cv-bv) > behavioralShiftThresholdPts {
			diffs = append(diffs, Diff{
				NodeID:        action,
				DiffType:      DiffModified,
				Impact:        core.ImpactMedium,
				BaselineValue: bv,
				CurrentValue:  cv,
				Description:   "behavioral pattern shift: " + action,
			})
		}
	}
	return diffs
}

func sortedFloatKeys(a, b map[string]float64) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		set[k] = struct{}{}
	}
	for k := range b {
		set[k] = struct{}{}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Variance computes §4.8's total weighted variance: Σ weight(impact) / 100
// across all diffs, plus the per-impact breakdown.
func Variance(diffs []Diff) (total float64, byImpact map[core.VarianceImpact]float64) {
	byImpact = make(map[core.VarianceImpact]float64)
	for _, d := range diffs {
		byImpact[d.Impact] += d.Impact.Weight()
		total += d.Impact.Weight()
	}
	total /= 100
	for impact, sum := range byImpact {
		byImpact[impact] = sum / 100
	}
	return total, byImpact
}
