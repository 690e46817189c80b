package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings is the effective configuration: schema defaults, overlaid by the
// config file, overlaid by REALM_RPC_* environment variables.
type Settings struct {
	Listen       string        `env:"REALM_RPC_LISTEN"`
	Mode         string        `env:"REALM_RPC_MODE"`
	LogLevel     string        `env:"REALM_RPC_LOG_LEVEL"`
	LogFormat    string        `env:"REALM_RPC_LOG_FORMAT"`
	Transport    string        `env:"REALM_RPC_TRANSPORT"`
	HTTPTimeout  time.Duration `env:"REALM_RPC_HTTP_TIMEOUT"`
	Health       bool          `env:"REALM_RPC_HEALTH"`
	MaxMessageMB int           `env:"REALM_RPC_MAX_MESSAGE_MB"`
	OTelEndpoint string        `env:"REALM_RPC_OTEL_ENDPOINT"`
	BaseURL      string        `env:"REALM_RPC_BASE_URL"`
}

// Resolve computes the effective Settings for c. Invalid file values were
// already reported as warnings and fall back to their defaults; invalid
// environment values are errors.
func Resolve(c *Config) (Settings, error) {
	schema := DefaultSchema()
	file := func(section, key string) string {
		opt := schema.Lookup(section, key)
		if v, ok := c.GetSectionOption(section, key); ok && validateValue(opt, v) == nil {
			return v
		}
		return opt.Default
	}

	var st Settings
	st.Listen = file("", "listen")
	st.Mode = file("", "mode")
	st.LogLevel = file("", "log-level")
	st.LogFormat = file("", "log-format")
	st.Transport = file("", "transport")
	st.OTelEndpoint = file("", "otel-endpoint")
	st.BaseURL = file("app", "base-url")
	// Defaults are well formed, so these cannot fail.
	st.HTTPTimeout, _ = time.ParseDuration(file("", "http-timeout"))
	st.Health, _ = parseBool(file("", "health"))
	st.MaxMessageMB, _ = strconv.Atoi(file("", "max-message-mb"))

	if err := env.Parse(&st); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}

	for key, v := range map[string]string{
		"mode":       st.Mode,
		"log-level":  st.LogLevel,
		"log-format": st.LogFormat,
		"transport":  st.Transport,
	} {
		if err := validateValue(schema.Lookup("", key), v); err != nil {
			return Settings{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	if st.MaxMessageMB <= 0 {
		return Settings{}, fmt.Errorf("max-message-mb must be positive, got %d", st.MaxMessageMB)
	}
	return st, nil
}
