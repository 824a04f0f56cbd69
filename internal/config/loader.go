package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 与原脚本内硬编码常量保持一致的默认值：文档回源 3 秒超时、runtime 分区 120 条上限。
const (
	DefaultDocumentTimeout   = 3 * time.Second
	DefaultMaxRuntimeEntries = 120
	DefaultCacheVersion      = "v1"
	DefaultFallbackDocument  = "/index.html"
)

// DefaultCoreAssets 是离线兜底所需的固定资产清单：入口页面、样式、主脚本与首屏大图。
func DefaultCoreAssets() []string {
	return []string{
		"/",
		"/index.html",
		"/services.html",
		"/gallery.html",
		"/contact.html",
		"/css/style.css",
		"/js/main.js",
		"/img/hero-1600.jpg",
	}
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
// path 为空且默认文件不存在时，返回纯默认值配置（站点字段仍需非空，会在校验时报错）。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applySiteDefaults(&cfg.Site)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("Site.CacheVersion", DefaultCacheVersion)
	v.SetDefault("Site.FallbackDocument", DefaultFallbackDocument)
	v.SetDefault("Site.DocumentTimeout", "3s")
	v.SetDefault("Site.MaxRuntimeEntries", DefaultMaxRuntimeEntries)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
}

func applySiteDefaults(s *SiteConfig) {
	if strings.TrimSpace(s.CacheVersion) == "" {
		s.CacheVersion = DefaultCacheVersion
	}
	if strings.TrimSpace(s.FallbackDocument) == "" {
		s.FallbackDocument = DefaultFallbackDocument
	}
	if s.DocumentTimeout.DurationValue() == 0 {
		s.DocumentTimeout = Duration(DefaultDocumentTimeout)
	}
	if s.MaxRuntimeEntries == 0 {
		s.MaxRuntimeEntries = DefaultMaxRuntimeEntries
	}
	if len(s.CoreAssets) == 0 {
		s.CoreAssets = DefaultCoreAssets()
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
