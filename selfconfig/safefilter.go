package selfconfig

import (
	"sort"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/feedback"
)

// minRemainingBudget is §4.10 step 4's floor: admission stops once the
// remaining variance budget drops below 5%.
const minRemainingBudget = 0.05

// safeFilterResult pairs an admission decision with the proposal it
// concerns, preserving the order they were evaluated in.
type safeFilterResult struct {
	proposal feedback.Proposal
	admitted bool
}

// safeFilter sorts proposals LOCAL-scope first, then by descending
// confidence, and admits each only while its projected impact stays
// under half the currently remaining variance budget — recomputed after
// every admission so later proposals face a tighter cutoff (§4.10 step
// 4, verified against the spec's own worked example: remaining budget
// 0.05 admits a 0.02-impact proposal, leaving 0.03 remaining and a
// 0.015 cutoff that rejects everything else in that cycle).
func safeFilter(proposals []feedback.Proposal, remainingBudget float64) []safeFilterResult {
	ordered := make([]feedback.Proposal, len(proposals))
	copy(ordered, proposals)
	sort.SliceStable(ordered, func(i, j int) bool {
		iLocal := ordered[i].Scope == core.ScopeLocal
		jLocal := ordered[j].Scope == core.ScopeLocal
		if iLocal != jLocal {
			return iLocal
		}
		return ordered[i].Confidence > ordered[j].Confidence
	})

	results := make([]safeFilterResult, 0, len(ordered))
	for _, p := range ordered {
		if remainingBudget < minRemainingBudget {
			results = append(results, safeFilterResult{proposal: p, admitted: false})
			continue
		}
		cutoff := 0.5 * remainingBudget
		impact := p.ProjectedImpact()
		if impact < cutoff {
			results = append(results, safeFilterResult{proposal: p, admitted: true})
			remainingBudget -= impact
			continue
		}
		results = append(results, safeFilterResult{proposal: p, admitted: false})
	}
	return results
}
