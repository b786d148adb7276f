package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix 是所有环境变量覆盖项的前缀，例如 STATUSCAT_LISTENPORT。
const EnvPrefix = "STATUSCAT"

// DefaultProviderURL 为缺省的状态码图片源。
const DefaultProviderURL = "https://http.cat/"

// flagKeys 将 CLI 标志名映射为配置字段，标志优先级最高。
var flagKeys = map[string]string{
	"host":           "Host",
	"port":           "ListenPort",
	"cache":          "CachePath",
	"provider":       "ProviderURL",
	"metrics-listen": "MetricsListen",
	"log-level":      "LogLevel",
}

// Load 依次合并默认值、可选的 TOML 文件、环境变量与 CLI 标志，随后注入默认值并校验。
// path 为空时跳过配置文件；flags 可以为 nil（测试或纯文件启动）。
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absCache, err := filepath.Abs(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.CachePath = absCache

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Host", "")
	v.SetDefault("ListenPort", 0)
	v.SetDefault("CachePath", "")
	v.SetDefault("ProviderURL", DefaultProviderURL)
	v.SetDefault("UpstreamTimeout", "0s")
	v.SetDefault("MemoryCacheTTL", "0s")
	v.SetDefault("MaxBodySize", 32*1024*1024)
	v.SetDefault("MetricsListen", "")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("绑定参数 %s 失败: %w", name, err)
		}
	}
	return nil
}

func applyDefaults(c *Config) {
	c.Host = strings.TrimSpace(c.Host)
	c.ProviderURL = normalizeProvider(c.ProviderURL)
	if c.ProviderURL == "" {
		c.ProviderURL = DefaultProviderURL
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = 32 * 1024 * 1024
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
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
