package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absData, err := filepath.Abs(cfg.Global.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	cfg.Global.DataDir = absData

	if cfg.Global.DbPath == "" {
		cfg.Global.DbPath = filepath.Join(cfg.Global.DataDir, "crates-hub.db")
	} else {
		absDb, err := filepath.Abs(cfg.Global.DbPath)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		cfg.Global.DbPath = absDb
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("DataDir", "./data")
	v.SetDefault("DbPath", "")
	v.SetDefault("Proxy.Enabled", false)
	v.SetDefault("Proxy.Upstream", "https://crates.io")
	v.SetDefault("Proxy.UpstreamTimeout", "30s")
	v.SetDefault("Docs.Enabled", false)
}

func applyDefaults(cfg *Config) {
	if cfg.Global.ListenPort == 0 {
		cfg.Global.ListenPort = 8000
	}
	if cfg.Proxy.Upstream == "" {
		cfg.Proxy.Upstream = "https://crates.io"
	}
	if cfg.Proxy.UpstreamTimeout.DurationValue() == 0 {
		cfg.Proxy.UpstreamTimeout = Duration(30 * time.Second)
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
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return nil, err
			}
			return d, nil
		case int, int32, int64:
			seconds, err := strconv.ParseInt(fmt.Sprintf("%d", v), 10, 64)
			if err != nil {
				return nil, err
			}
			return Duration(time.Duration(seconds) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		default:
			return data, nil
		}
	}
}
