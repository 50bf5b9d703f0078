package config

import (
	"errors"
	"net/url"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "must be within 1-65535")
	}
	if g.DataDir == "" {
		return newFieldError("Global.DataDir", "must not be empty")
	}
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "unknown log level: "+g.LogLevel)
	}
	if g.LogMaxSize < 0 {
		return newFieldError("Global.LogMaxSize", "must not be negative")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxBackups", "must not be negative")
	}

	if c.Proxy.Enabled {
		parsed, err := url.Parse(c.Proxy.Upstream)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return newFieldError("Proxy.Upstream", "must be a http(s) URL")
		}
		if c.Proxy.UpstreamTimeout.DurationValue() <= 0 {
			return newFieldError("Proxy.UpstreamTimeout", "must be greater than 0")
		}
	}

	return nil
}
