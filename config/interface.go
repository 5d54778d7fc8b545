// Package config 为 cloudmap-sd 提供配置解析能力，基于 Viper 实现。
//
// 配置来源与优先级（高到低）：
//   - 环境变量：CLOUDMAP_SD_ 前缀，"." 映射为 "_"，例如 CLOUDMAP_SD_DISCOVERY_NAMESPACE
//   - 兼容的无前缀环境变量：HOST、PORT、AWS_REGION、CLOUDMAP_NAMESPACE
//   - .env 文件（不覆盖已存在的环境变量）
//   - 环境特定配置文件 config.<env>.yaml（由 CLOUDMAP_SD_ENV 选择）
//   - 基础配置文件 config.yaml / config.json
//   - 内置默认值
//
// 配置在启动时解析一次，之后不再变更。
//
// 基本使用：
//
//	cfg, err := config.LoadApp(ctx, config.WithConfigFile(path))
//	if err != nil {
//		return err
//	}
package config

import "context"

// Loader 定义配置加载器的核心行为
type Loader interface {
	// Load 从所有来源加载配置
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 Key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// ConfigFileUsed 返回实际读取的配置文件路径，未读取文件时为空
	ConfigFileUsed() string
}
