package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ceyewan/cloudmap-sd/xerrors"
)

// legacyEnv 兼容早期部署方式使用的无前缀环境变量
var legacyEnv = map[string]string{
	"server.host":         "HOST",
	"server.port":         "PORT",
	"aws.region":          "AWS_REGION",
	"discovery.namespace": "CLOUDMAP_NAMESPACE",
}

// legacyFileKeys 早期扁平 config.json 的键到当前嵌套键的映射
var legacyFileKeys = map[string]string{
	"host":               "server.host",
	"port":               "server.port",
	"aws_region":         "aws.region",
	"cloudmap_namespace": "discovery.namespace",
}

// loader 实现 Loader 接口
type loader struct {
	v    *viper.Viper
	opts *Config
}

func newLoader(opts *Config) *loader {
	return &loader{v: viper.New(), opts: opts}
}

// Load 初始化并从所有来源加载配置
func (l *loader) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// 1. 默认值，同时让 AutomaticEnv 在 Unmarshal 时能感知所有 key
	for key, value := range defaults() {
		l.v.SetDefault(key, value)
	}

	// 2. 环境变量
	l.v.SetEnvPrefix(l.opts.EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := l.opts.EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := l.v.BindEnv(key, prefixed, legacy); err != nil {
			return xerrors.Wrapf(err, "bind env %s", legacy)
		}
	}

	// 3. .env 文件，不覆盖已存在的环境变量
	l.loadDotEnv()

	// 4. 基础配置文件
	if l.opts.File != "" {
		l.v.SetConfigFile(l.opts.File)
	} else {
		l.v.SetConfigName(l.opts.Name)
		for _, path := range l.opts.Paths {
			l.v.AddConfigPath(path)
		}
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.opts.File != "" || !errors.As(err, &notFound) {
			return xerrors.Wrapf(err, "read config file")
		}
	}

	// 5. 环境特定配置
	if err := l.loadEnvironmentConfig(); err != nil {
		return err
	}

	// 6. 扁平旧键
	l.applyLegacyFileKeys()
	return nil
}

// applyLegacyFileKeys 把文件中的扁平旧键作为对应嵌套键的默认值，
// 嵌套键和环境变量仍然优先
func (l *loader) applyLegacyFileKeys() {
	for flat, nested := range legacyFileKeys {
		if l.v.InConfig(flat) && !l.v.InConfig(nested) {
			l.v.SetDefault(nested, l.v.Get(flat))
		}
	}
}

// loadDotEnv 依次尝试当前目录和各搜索路径下的 .env 文件
func (l *loader) loadDotEnv() {
	candidates := []string{".env"}
	for _, path := range l.opts.Paths {
		candidates = append(candidates, filepath.Join(path, ".env"))
	}
	if l.opts.File != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(l.opts.File), ".env"))
	}
	for _, file := range candidates {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}
}

// loadEnvironmentConfig 合并 config.<env>.<ext>
func (l *loader) loadEnvironmentConfig() error {
	env := os.Getenv(l.opts.EnvPrefix + "_ENV")
	if env == "" {
		return nil
	}

	used := l.v.ConfigFileUsed()
	if used == "" {
		return nil
	}
	ext := filepath.Ext(used)
	envFile := fmt.Sprintf("%s.%s%s", strings.TrimSuffix(used, ext), env, ext)
	if _, err := os.Stat(envFile); err != nil {
		return nil
	}

	f, err := os.Open(envFile)
	if err != nil {
		return xerrors.Wrapf(err, "open environment config %s", envFile)
	}
	defer f.Close()

	if err := l.v.MergeConfig(f); err != nil {
		return xerrors.Wrapf(err, "merge environment config %s", envFile)
	}
	return nil
}

func (l *loader) Get(key string) any {
	return l.v.Get(key)
}

func (l *loader) Unmarshal(v any) error {
	return l.v.Unmarshal(v)
}

func (l *loader) UnmarshalKey(key string, v any) error {
	return l.v.UnmarshalKey(key, v)
}

func (l *loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}
