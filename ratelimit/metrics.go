package ratelimit

const (
	// MetricAllowed 允许通过的检查次数 (Counter)
	MetricAllowed = "ratelimit_allowed_total"

	// MetricDenied 被拒绝的检查次数 (Counter)
	MetricDenied = "ratelimit_denied_total"

	// LabelMode 模式标签 (standalone/distributed)
	LabelMode = "mode"
)
