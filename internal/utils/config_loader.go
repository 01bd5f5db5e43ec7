package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables overriding the configuration,
// e.g. FLOW_CONSOLE_PROMETHEUS_URL
const EnvPrefix = "FLOW_CONSOLE"

// LoadConfig reads the YAML file over the defaults, applies environment
// overrides and validates the result. An empty filename skips the file.
func LoadConfig(filename string) (*Config, error) {
	config := GetDefaultConfig()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config file %s: %w", filename, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Validate fills defaults for unset values and rejects unusable settings
func (c *Config) Validate() error {
	if c.Application.ListenAddress == "" {
		c.Application.ListenAddress = ":5000"
	}
	if c.Application.QueryTimeoutSeconds <= 0 {
		c.Application.QueryTimeoutSeconds = 30
	}
	if c.Application.ReadTimeoutSeconds <= 0 {
		c.Application.ReadTimeoutSeconds = 15
	}
	if c.Application.WriteTimeoutSeconds <= 0 {
		c.Application.WriteTimeoutSeconds = 60
	}

	c.Backend = strings.ToLower(c.Backend)
	switch c.Backend {
	case "", BackendPrometheus:
		c.Backend = BackendPrometheus
		if c.Prometheus.URL == "" {
			return fmt.Errorf("prometheus URL cannot be empty")
		}
		if c.Prometheus.Metric == "" {
			return fmt.Errorf("prometheus metric cannot be empty")
		}
	case BackendConsole:
		if c.Console.URL == "" {
			return fmt.Errorf("console URL cannot be empty")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Prometheus.TimeoutSeconds <= 0 {
		c.Prometheus.TimeoutSeconds = 10
	}
	if c.Console.TimeoutSeconds <= 0 {
		c.Console.TimeoutSeconds = 10
	}

	if c.Hubble.Enabled && c.Hubble.Server == "" {
		c.Hubble.Server = "localhost:4245"
	}

	if c.Metrics.MinStepSeconds <= 0 {
		c.Metrics.MinStepSeconds = 15
	}
	if c.Metrics.TargetDatapoints <= 0 {
		c.Metrics.TargetDatapoints = 100
	}
	for _, p := range c.Metrics.Percentiles {
		if p <= 0 || p > 100 {
			return fmt.Errorf("percentile %v out of range (0, 100]", p)
		}
	}
	if c.Metrics.Limit < 0 {
		c.Metrics.Limit = 0
	}

	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 30
	}
	if c.Cache.CleanupSeconds <= 0 {
		c.Cache.CleanupSeconds = 60
	}
	if c.Cache.RelativeSeconds <= 0 {
		c.Cache.RelativeSeconds = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

func (c *Config) PrometheusTimeout() time.Duration {
	return seconds(c.Prometheus.TimeoutSeconds)
}

func (c *Config) ConsoleTimeout() time.Duration {
	return seconds(c.Console.TimeoutSeconds)
}
