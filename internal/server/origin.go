package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/site-edge/site-edge/internal/config"
)

// Origin 将站点配置与派生属性（解析后的源站 URL、生效超时/容量）聚合在一起，
// 供路由/策略层直接复用，避免重复解析配置。
type Origin struct {
	// Config 是用户在 config.toml 中声明的 Site 字段副本，避免外部修改。
	Config config.SiteConfig
	// ListenPort 记录当前 CLI 监听端口，方便日志/转发头输出。
	ListenPort int
	// UpstreamURL 在构造时提前解析完成，便于后续请求快速复用。
	UpstreamURL *url.URL
	// DocumentTimeout/MaxRuntimeEntries 是对文档回源与 runtime 分区生效的最终值。
	DocumentTimeout   time.Duration
	MaxRuntimeEntries int

	normalizedDomain string
}

// NewOrigin 根据配置构建站点描述。调用方应在启动阶段创建一次并复用。
func NewOrigin(cfg *config.Config) (*Origin, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	site := cfg.Site
	normalized := normalizeDomain(site.Domain)
	if normalized == "" {
		return nil, fmt.Errorf("invalid site domain: %s", site.Domain)
	}

	upstreamURL, err := url.Parse(site.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for site %s: %w", site.LogName(), err)
	}

	return &Origin{
		Config:            site,
		ListenPort:        cfg.Global.ListenPort,
		UpstreamURL:       upstreamURL,
		DocumentTimeout:   site.DocumentTimeout.DurationValue(),
		MaxRuntimeEntries: site.MaxRuntimeEntries,
		normalizedDomain:  normalized,
	}, nil
}

// IsSiteHost 判断请求 Host（可带端口）是否指向被托管站点；
// 不匹配的请求视为"跨源"，绕过所有缓存策略直接透传。
func (o *Origin) IsSiteHost(host string) bool {
	if o == nil {
		return false
	}
	normalized, _ := normalizeHost(host)
	return normalized != "" && normalized == o.normalizedDomain
}

// ResolveUpstream 将站内路径与查询串映射为源站绝对地址。
func (o *Origin) ResolveUpstream(cleanPath, rawQuery string) *url.URL {
	relative := &url.URL{Path: cleanPath, RawPath: cleanPath}
	if rawQuery != "" {
		relative.RawQuery = rawQuery
	}
	return o.UpstreamURL.ResolveReference(relative)
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
