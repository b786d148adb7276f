package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if strings.TrimSpace(c.Host) == "" {
		return newFieldError("Host", "不能为空")
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(c.CachePath) == "" {
		return newFieldError("CachePath", "不能为空")
	}
	if err := validateProvider(c.ProviderURL); err != nil {
		return fmt.Errorf("ProviderURL: %w", err)
	}
	if c.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("UpstreamTimeout", "不能为负数")
	}
	if c.MemoryCacheTTL.DurationValue() < 0 {
		return newFieldError("MemoryCacheTTL", "不能为负数")
	}
	if c.MaxBodySize <= 0 {
		return newFieldError("MaxBodySize", "必须大于 0")
	}
	if c.LogMaxSize < 0 || c.LogMaxBackups < 0 {
		return newFieldError("LogMaxSize/LogMaxBackups", "不能为负数")
	}

	return nil
}

func validateProvider(raw string) error {
	if raw == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("不允许包含查询参数或片段: %s", raw)
	}
	return nil
}

// normalizeProvider 保证基础地址以 / 结尾，回源时直接拼接状态码。
func normalizeProvider(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasSuffix(raw, "/") {
		return raw
	}
	return raw + "/"
}
