package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "3s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行时行为（监听、日志、磁盘缓存根目录）。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// SiteConfig 决定被托管站点如何预热与路由。所有可调参数都有内置默认值，
// 未提供配置文件时按默认常量运行。
type SiteConfig struct {
	// Name 仅用于日志字段，默认取 Domain。
	Name string `mapstructure:"Name"`
	// Domain 是站点对外域名；Host 不匹配的请求绕过缓存直接透传。
	Domain string `mapstructure:"Domain"`
	// Upstream 是静态站点源站地址，所有回源请求都指向它。
	Upstream string `mapstructure:"Upstream"`
	// CacheVersion 决定 core-<version>/runtime-<version> 分区命名，
	// 升级版本号即触发下次激活时清除旧代分区。
	CacheVersion string `mapstructure:"CacheVersion"`
	// FallbackDocument 是文档请求全部回退手段失效前的最后兜底页。
	FallbackDocument string `mapstructure:"FallbackDocument"`
	// CoreAssets 在预热阶段全量写入 core 分区，任何一项失败即放弃本次启动。
	CoreAssets []string `mapstructure:"CoreAssets"`
	// NavigationPreload 控制文档请求是否在路由决策前提前发起回源。
	NavigationPreload *bool    `mapstructure:"NavigationPreload"`
	DocumentTimeout   Duration `mapstructure:"DocumentTimeout"`
	// MaxRuntimeEntries 约束 runtime 分区条目数，超出部分按写入先后淘汰。
	MaxRuntimeEntries int `mapstructure:"MaxRuntimeEntries"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Site   SiteConfig   `mapstructure:"Site"`
}

// PreloadEnabled 返回导航预取开关的最终值，未配置时默认开启。
func (s SiteConfig) PreloadEnabled() bool {
	if s.NavigationPreload == nil {
		return true
	}
	return *s.NavigationPreload
}

// LogName 输出日志用的站点标识。
func (s SiteConfig) LogName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Domain
}
