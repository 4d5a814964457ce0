// Package config loads the gateway's environment-driven configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every environment-tunable knob of the aggregation gateway.
type Config struct {
	// ServerPort is the HTTP listen port (SERVER_PORT).
	ServerPort string

	// CallbackURL is the gateway's own externally-reachable callback
	// address, handed to every backend at dispatch time (AGGREGATOR_CALLBACK_URL).
	CallbackURL string

	// ResourceURLs is the fixed, ordered list of backend endpoints
	// (RESOURCE_URLS, comma-separated). Dispatch slot i targets
	// ResourceURLs[i % len(ResourceURLs)].
	ResourceURLs []string

	// TimeoutMaxMS caps the client-requested deadline (AGGREGATOR_TIMEOUT_MAX_MS).
	TimeoutMaxMS int

	// LogFormat selects "json" or "text" for the slog handler.
	LogFormat string
}

// MaxDeadline returns TimeoutMaxMS as a time.Duration.
func (c *Config) MaxDeadline() time.Duration {
	return time.Duration(c.TimeoutMaxMS) * time.Millisecond
}

// Load reads configuration from the environment (and an optional config
// file path), validates it, and returns it. Env-var-first, rendered
// through viper instead of a hand-rolled os.Getenv scan so defaults,
// file overlays, and env binding compose cleanly.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("aggregator.timeout_max_ms", 27000)
	v.SetDefault("aggregator.callback_url", "http://localhost:8080/aggregate/callback")
	v.SetDefault("resource.urls", "")
	v.SetDefault("log.format", "json")

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("aggregator.timeout_max_ms", "AGGREGATOR_TIMEOUT_MAX_MS")
	_ = v.BindEnv("aggregator.callback_url", "AGGREGATOR_CALLBACK_URL")
	_ = v.BindEnv("resource.urls", "RESOURCE_URLS")
	_ = v.BindEnv("log.format", "LOG_FORMAT")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	raw := v.GetString("resource.urls")
	var urls []string
	for _, u := range strings.Split(raw, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			urls = append(urls, u)
		}
	}

	cfg := &Config{
		ServerPort:   v.GetString("server.port"),
		CallbackURL:  v.GetString("aggregator.callback_url"),
		ResourceURLs: urls,
		TimeoutMaxMS: v.GetInt("aggregator.timeout_max_ms"),
		LogFormat:    v.GetString("log.format"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if len(c.ResourceURLs) == 0 {
		return fmt.Errorf("config: RESOURCE_URLS must list at least one backend")
	}
	if c.TimeoutMaxMS <= 0 {
		return fmt.Errorf("config: AGGREGATOR_TIMEOUT_MAX_MS must be positive")
	}
	return nil
}
