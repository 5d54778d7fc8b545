package trace

// 注册中心调用的 Span 属性键
const (
	AttrRegistrySystem    = "registry.system"
	AttrRegistryOperation = "registry.operation"
	AttrNamespaceID       = "cloudmap.namespace.id"
	AttrNamespaceName     = "cloudmap.namespace.name"
	AttrServiceID         = "cloudmap.service.id"
	AttrPageCount         = "registry.pages"
	AttrItemCount         = "registry.items"
)

// RegistrySystemCloudMap 注册中心类型
const RegistrySystemCloudMap = "aws.cloudmap"

// SpanNameDiscover 一次完整发现流程的 Span 名称
const SpanNameDiscover = "cloudmap_sd.discover"

// SpanNameRegistry 返回注册中心列表调用的 Span 名称
func SpanNameRegistry(operation string) string {
	if operation == "" {
		return "cloudmap.list"
	}
	return "cloudmap." + operation
}
