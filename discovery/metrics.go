package discovery

// 指标名称
const (
	MetricDiscoveryDuration       = "cloudmap_sd_discovery_duration_seconds"
	MetricDiscoveryTotal          = "cloudmap_sd_discovery_total"
	MetricTargetGroups            = "cloudmap_sd_target_groups"
	MetricTargets                 = "cloudmap_sd_targets"
	MetricSkippedListings         = "cloudmap_sd_skipped_listings_total"
	MetricInstancesWithoutAddress = "cloudmap_sd_instances_without_address_total"
)
