package tasks

import "strings"

// DefaultLongTaskThresholdMs is the cutoff IsLong falls back to when called
// with a zero threshold, matching config.Config's own default for
// LONG_TASK_THRESHOLD_MS. A task above this is handled as long-running:
// acknowledged immediately, then finished in the background with heartbeats
// (spec.md §4.C).
const DefaultLongTaskThresholdMs = 5 * 60 * 1000

// heavyKeywords nudge the estimate up for prompts that describe
// broad/expensive work. This is a standalone heuristic, not grounded on any
// example repo — none of the pack classifies prompts by cost.
var heavyKeywords = []string{
	"refactor",
	"migrate",
	"entire codebase",
	"full test suite",
	"audit",
	"rewrite",
	"comprehensive",
}

// EstimateTimeoutMs estimates how long prompt will take to complete. The
// estimate scales with prompt length and is bumped for keywords that
// typically indicate multi-file or multi-step work.
func EstimateTimeoutMs(prompt string) int64 {
	estimate := int64(30_000) + int64(len(prompt))*20

	lower := strings.ToLower(prompt)
	for _, kw := range heavyKeywords {
		if strings.Contains(lower, kw) {
			estimate += 4 * 60 * 1000
		}
	}
	return estimate
}

// IsLong reports whether an estimate crosses thresholdMs, the configured
// long-running cutoff (config.Config.LongTaskThresholdMs). A zero or
// negative thresholdMs falls back to DefaultLongTaskThresholdMs.
func IsLong(estimateMs, thresholdMs int64) bool {
	if thresholdMs <= 0 {
		thresholdMs = DefaultLongTaskThresholdMs
	}
	return estimateMs > thresholdMs
}

// EstimatedCompletionMinutes converts an estimate to whole minutes, rounded
// up, for getEstimatedCompletionTime (spec.md §4.C).
func EstimatedCompletionMinutes(estimateMs int64) int {
	if estimateMs <= 0 {
		return 0
	}
	return int((estimateMs + 59_999) / 60_000)
}
