package cloudmap

// 指标名称
const (
	// MetricRegistryCalls 每一页请求计一次 (Counter)
	MetricRegistryCalls = "cloudmap_sd_registry_calls_total"

	// MetricRegistryCallDuration 单页请求耗时，含限流等待与 SDK 重试 (Histogram)
	MetricRegistryCallDuration = "cloudmap_sd_registry_call_duration_seconds"
)

// outcomeSuccess 成功时的 outcome 标签值，失败时 outcome 取 Kind
const outcomeSuccess = "success"
