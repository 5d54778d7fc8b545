package trace

// Config 链路追踪配置
type Config struct {
	Enabled     bool    `mapstructure:"enabled"`      // 为 false 时使用不导出的 Provider
	ServiceName string  `mapstructure:"service_name"` // Resource 的 service.name
	Endpoint    string  `mapstructure:"endpoint"`     // OTLP gRPC 地址，例如 "localhost:4317"
	Sampler     float64 `mapstructure:"sampler"`      // 采样率 [0, 1]
	Batcher     string  `mapstructure:"batcher"`      // batch|simple
	Insecure    bool    `mapstructure:"insecure"`     // 是否关闭 TLS
}

// DefaultConfig 返回默认配置
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Endpoint:    "localhost:4317",
		Sampler:     1.0,
		Batcher:     "batch",
		Insecure:    true,
	}
}
