package feedback

import (
	"sort"
	"strings"
	"time"

	"github.com/meridian-run/meridian/graph"
)

// temporalDetector compares tool-usage between morning (06-11) and
// evening (18-22) hour buckets (§4.9). Confidence is fixed at 0.8 when
// the top tool in each window differs — the spec gives no formula, only
// the threshold value.
func temporalDetector(points []graph.TSDBPoint) []Pattern {
	morning := map[string]int{}
	evening := map[string]int{}
	for _, p := range points {
		tool, ok := p.Tags["tool"]
		if !ok {
			continue
		}
		h := p.Timestamp.Hour()
		switch {
		case h >= 6 && h <= 11:
			morning[tool]++
		case h >= 18 && h <= 22:
			evening[tool]++
		}
	}
	topMorning := topKey(morning)
	topEvening := topKey(evening)
	if topMorning == "" || topEvening == "" || topMorning == topEvening {
		return nil
	}
	return []Pattern{{
		Type:       PatternTemporal,
		Confidence: 0.8,
		Evidence: map[string]interface{}{
			"morning_top_tool": topMorning,
			"evening_top_tool": topEvening,
		},
	}}
}

func topKey(counts map[string]int) string {
	best := ""
	bestCount := 0
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic tie-break
	for _, k := range keys {
		if counts[k] > bestCount {
			best = k
			bestCount = counts[k]
		}
	}
	return best
}

// frequencyDetector computes the 7-day action distribution (§4.9). An
// action with share > 30% is "dominant"; any expectedCapability with
// fewer than 5 uses over the window is "underused".
func frequencyDetector(points []graph.TSDBPoint, expectedCapabilities []string) []Pattern {
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

	var patterns []Pattern
	if total > 0 {
		for _, action := range sortedStringKeys(counts) {
			share := float64(counts[action]) / float64(total)
			if share > 0.30 {
				patterns = append(patterns, Pattern{
					Type:       PatternFrequencyDominant,
					Confidence: 0.8,
					Evidence: map[string]interface{}{
						"action": action,
						"share":  share,
						"count":  counts[action],
					},
				})
			}
		}
	}

	for _, cap := range expectedCapabilities {
		if counts[cap] < 5 {
			patterns = append(patterns, Pattern{
				Type:       PatternFrequencyUnderused,
				Confidence: 0.8,
				Evidence: map[string]interface{}{
					"capability": cap,
					"count":      counts[cap],
				},
			})
		}
	}
	return patterns
}

func sortedStringKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// performanceDetector compares the average of the earliest 10 against
// the latest 10 *response_time metric points (§4.9); a degradation
// pattern fires when the latest average is >= 1.2x the earliest.
func performanceDetector(points []graph.TSDBPoint) []Pattern {
	var series []graph.TSDBPoint
	for _, p := range points {
		if strings.HasSuffix(p.MetricName, "response_time") {
			series = append(series, p)
		}
	}
	if len(series) < 20 {
		return nil
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp.Before(series[j].Timestamp) })

	earliestAvg := avgMetric(series[:10])
	latestAvg := avgMetric(series[len(series)-10:])
	if earliestAvg <= 0 || latestAvg < 1.2*earliestAvg {
		return nil
	}

	ratio := latestAvg / earliestAvg
	confidence := 0.8
	if ratio >= 1.5 {
		confidence = 0.9
	}
	return []Pattern{{
		Type:       PatternPerformanceDegraded,
		Confidence: confidence,
		Evidence: map[string]interface{}{
			"earliest_avg_ms": earliestAvg,
			"latest_avg_ms":   latestAvg,
			"ratio":           ratio,
		},
	}}
}

func avgMetric(points []graph.TSDBPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.MetricValue
	}
	return sum / float64(len(points))
}

// errorType buckets inferred from a log message, matched in order.
var errorTypeMatchers = []struct {
	substr string
	kind   string
}{
	{"timeout", "timeout"},
	{"deadline exceeded", "timeout"},
	{"tool", "tool"},
	{"connection refused", "connection"},
	{"unauthorized", "auth"},
}

func inferErrorType(msg string) string {
	lower := strings.ToLower(msg)
	for _, m := range errorTypeMatchers {
		if strings.Contains(lower, m.substr) {
			return m.kind
		}
	}
	return "unknown"
}

// errorDetector groups ERROR/WARNING log points by inferred error type;
// three or more occurrences of the same type is a recurring pattern,
// confidence min(0.9, count/10) (§4.9).
func errorDetector(points []graph.TSDBPoint) []Pattern {
	counts := map[string]int{}
	for _, p := range points {
		if p.LogLevel != "ERROR" && p.LogLevel != "WARNING" {
			continue
		}
		counts[inferErrorType(p.LogMessage)]++
	}

	var patterns []Pattern
	for _, kind := range sortedStringKeys(counts) {
		count := counts[kind]
		if count < 3 {
			continue
		}
		confidence := float64(count) / 10
		if confidence > 0.9 {
			confidence = 0.9
		}
		patternType := PatternErrorRecurringTool
		if kind == "timeout" {
			patternType = PatternErrorRecurringTimeout
		}
		patterns = append(patterns, Pattern{
			Type:       patternType,
			Confidence: confidence,
			Evidence: map[string]interface{}{
				"error_type": kind,
				"count":      count,
			},
		})
	}
	return patterns
}

// DetectAll runs all four detectors over a window of recent points and
// returns every pattern whose confidence clears patternThreshold (§4.9).
func DetectAll(points []graph.TSDBPoint, expectedCapabilities []string) []Pattern {
	var all []Pattern
	all = append(all, temporalDetector(points)...)
	all = append(all, frequencyDetector(points, expectedCapabilities)...)
	all = append(all, performanceDetector(points)...)
	all = append(all, errorDetector(points)...)

	var qualifying []Pattern
	for _, p := range all {
		if p.Qualifies() {
			qualifying = append(qualifying, p)
		}
	}
	return qualifying
}

// recentWindow is the detectors' default window (7 days). Nothing
// references it; the loop recalls the same span via defaultWindowHours.
const recentWindow = 7 * 24 * time.Hour
