package utils

import (
	"time"

	"netflow-console/internal/metrics"
)

const (
	BackendPrometheus = "prometheus"
	BackendConsole    = "console"
)

// Config is the flow console configuration
type Config struct {
	Application ApplicationConfig `yaml:"application"`
	Backend     string            `yaml:"backend"`
	Prometheus  PrometheusConfig  `yaml:"prometheus"`
	Console     ConsoleConfig     `yaml:"console"`
	Hubble      HubbleConfig      `yaml:"hubble"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Cache       CacheConfig       `yaml:"cache"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ApplicationConfig struct {
	ListenAddress       string `yaml:"listen_address" split_words:"true"`
	QueryTimeoutSeconds int    `yaml:"query_timeout_seconds" split_words:"true"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds" split_words:"true"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds" split_words:"true"`
}

type PrometheusConfig struct {
	URL            string   `yaml:"url"`
	Metric         string   `yaml:"metric"`
	GroupBy        []string `yaml:"group_by" split_words:"true"`
	TimeoutSeconds int      `yaml:"timeout_seconds" split_words:"true"`
}

type ConsoleConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" split_words:"true"`
}

type HubbleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Server  string `yaml:"server"`
}

type MetricsConfig struct {
	MinStepSeconds   int64     `yaml:"min_step_seconds" split_words:"true"`
	TargetDatapoints int64     `yaml:"target_datapoints" split_words:"true"`
	Percentiles      []float64 `yaml:"percentiles"`
	Limit            int       `yaml:"limit"`
}

type CacheConfig struct {
	Enabled         bool `yaml:"enabled"`
	TTLSeconds      int  `yaml:"ttl_seconds" split_words:"true"`
	CleanupSeconds  int  `yaml:"cleanup_seconds" split_words:"true"`
	RelativeSeconds int  `yaml:"relative_seconds" split_words:"true"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GetDefaultConfig returns the configuration used when no file is given
func GetDefaultConfig() *Config {
	return &Config{
		Application: ApplicationConfig{
			ListenAddress:       ":5000",
			QueryTimeoutSeconds: 30,
			ReadTimeoutSeconds:  15,
			WriteTimeoutSeconds: 60,
		},
		Backend: BackendPrometheus,
		Prometheus: PrometheusConfig{
			URL:            "http://localhost:9090",
			Metric:         "netobserv_workload_ingress_bytes_total",
			GroupBy:        []string{"SrcK8S_Namespace", "DstK8S_Namespace"},
			TimeoutSeconds: 10,
		},
		Console: ConsoleConfig{
			URL:            "http://localhost:9001",
			TimeoutSeconds: 10,
		},
		Hubble: HubbleConfig{
			Enabled: true,
			Server:  "localhost:4245",
		},
		Metrics: MetricsConfig{
			MinStepSeconds:   metrics.DefaultMinStep,
			TargetDatapoints: metrics.DefaultTargetDatapoints,
			Percentiles:      append([]float64(nil), metrics.DefaultPercentiles...),
			Limit:            50,
		},
		Cache: CacheConfig{
			Enabled:         true,
			TTLSeconds:      30,
			CleanupSeconds:  60,
			RelativeSeconds: 10,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// StepPolicy returns the configured query resolution policy
func (c *MetricsConfig) StepPolicy() metrics.StepPolicy {
	return metrics.StepPolicy{
		MinStepSeconds:   c.MinStepSeconds,
		TargetDatapoints: c.TargetDatapoints,
	}
}

func (c *ApplicationConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func (c *CacheConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupSeconds) * time.Second
}

// RelativeTTL bounds how long results of "last N seconds" queries are reused,
// since their window moves with the clock
func (c *CacheConfig) RelativeTTL() time.Duration {
	return time.Duration(c.RelativeSeconds) * time.Second
}

func seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}
