package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
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

// Config 是 CLI 标志、环境变量与 TOML 文件合并后的运行时配置，
// 由 main 显式传给各构造函数，不依赖进程级全局变量。
type Config struct {
	Host        string `mapstructure:"Host"`
	ListenPort  int    `mapstructure:"ListenPort"`
	CachePath   string `mapstructure:"CachePath"`
	ProviderURL string `mapstructure:"ProviderURL"`

	// UpstreamTimeout 为 0 时不限制回源耗时。
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	// MemoryCacheTTL 大于 0 时在磁盘缓存前启用内存热层。
	MemoryCacheTTL Duration `mapstructure:"MemoryCacheTTL"`
	MaxBodySize    int      `mapstructure:"MaxBodySize"`
	MetricsListen  string   `mapstructure:"MetricsListen"`

	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// Address 返回 host:port 形式的监听地址。
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.ListenPort))
}

// BaseURL 返回服务对外的访问地址，用于启动日志。
func (c *Config) BaseURL() string {
	return "http://" + c.Address()
}
