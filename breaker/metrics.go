package breaker

// 指标名称
const (
	// MetricRequestsTotal 经过熔断器的调用数 (Counter)
	MetricRequestsTotal = "cloudmap_sd_breaker_requests_total"

	// MetricStateChanges 状态变更次数 (Counter)
	MetricStateChanges = "cloudmap_sd_breaker_state_changes_total"

	// LabelKey 熔断键
	LabelKey = "key"

	// LabelResult 结果：success / failure / rejected
	LabelResult = "result"

	// LabelFromState 源状态
	LabelFromState = "from_state"

	// LabelToState 目标状态
	LabelToState = "to_state"
)

const (
	resultSuccess  = "success"
	resultFailure  = "failure"
	resultRejected = "rejected"
)
