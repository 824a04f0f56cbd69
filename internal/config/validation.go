package config

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	s := &c.Site
	if err := validateDomain(s.Domain); err != nil {
		return fmt.Errorf("%s: %w", siteField("Domain"), err)
	}
	if err := validateUpstream(s.Upstream); err != nil {
		return fmt.Errorf("%s: %w", siteField("Upstream"), err)
	}
	if err := validateVersion(s.CacheVersion); err != nil {
		return fmt.Errorf("%s: %w", siteField("CacheVersion"), err)
	}
	if s.DocumentTimeout.DurationValue() <= 0 {
		return newFieldError(siteField("DocumentTimeout"), "必须大于 0")
	}
	if s.MaxRuntimeEntries <= 0 {
		return newFieldError(siteField("MaxRuntimeEntries"), "必须大于 0")
	}
	if err := validateAssetPath(s.FallbackDocument); err != nil {
		return fmt.Errorf("%s: %w", siteField("FallbackDocument"), err)
	}

	if len(s.CoreAssets) == 0 {
		return newFieldError(siteField("CoreAssets"), "至少需要一个核心资产")
	}
	seen := map[string]struct{}{}
	for i, asset := range s.CoreAssets {
		if err := validateAssetPath(asset); err != nil {
			return fmt.Errorf("%s[%d]: %w", siteField("CoreAssets"), i, err)
		}
		clean := path.Clean(asset)
		if _, exists := seen[clean]; exists {
			return newFieldError(fmt.Sprintf("%s[%d]", siteField("CoreAssets"), i), "重复条目: "+asset)
		}
		seen[clean] = struct{}{}
	}

	hasFallback := false
	for _, asset := range s.CoreAssets {
		if path.Clean(asset) == path.Clean(s.FallbackDocument) {
			hasFallback = true
			break
		}
	}
	if !hasFallback {
		return newFieldError(siteField("FallbackDocument"), "必须包含在 CoreAssets 中，否则离线兜底无法命中")
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}

// validateVersion 约束版本号只含分区名安全字符，避免生成无法清理的目录。
func validateVersion(version string) error {
	if version == "" {
		return errors.New("不能为空")
	}
	for _, r := range version {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		default:
			return fmt.Errorf("包含非法字符 %q，仅允许字母/数字/._-", r)
		}
	}
	return nil
}

func validateAssetPath(asset string) error {
	if asset == "" {
		return errors.New("路径不能为空")
	}
	if !strings.HasPrefix(asset, "/") {
		return fmt.Errorf("必须以 / 开头: %s", asset)
	}
	if strings.Contains(asset, "://") {
		return fmt.Errorf("不允许绝对 URL: %s", asset)
	}
	return nil
}
