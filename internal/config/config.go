// Package config loads SignalZero's runtime configuration from environment
// variables and an optional config file, following the teacher's
// viper-based internal/config.Load.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the SignalZero core.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Usage        UsageConfig        `mapstructure:"usage"`
	Push         PushConfig         `mapstructure:"push"`
	Store        StoreConfig        `mapstructure:"store"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Shutdown     ShutdownConfig     `mapstructure:"shutdown"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type BrokerConfig struct {
	URL              string        `mapstructure:"url"`
	MaxReconnects    int           `mapstructure:"max_reconnects"`
	ReconnectWaitMs  int           `mapstructure:"reconnect_wait_ms"`
	ReconnectJitter  int           `mapstructure:"reconnect_jitter_ms"`
	HandlerBudgetMs  int           `mapstructure:"handler_budget_ms"`
	OutboundCap      int           `mapstructure:"outbound_cap"`
	HealthGraceMs    int           `mapstructure:"health_grace_ms"`
	PublishRateLimit float64       `mapstructure:"publish_rate_limit"`
}

func (b BrokerConfig) HandlerBudget() time.Duration { return time.Duration(b.HandlerBudgetMs) * time.Millisecond }
func (b BrokerConfig) HealthGrace() time.Duration   { return time.Duration(b.HealthGraceMs) * time.Millisecond }
func (b BrokerConfig) ReconnectWait() time.Duration { return time.Duration(b.ReconnectWaitMs) * time.Millisecond }
func (b BrokerConfig) ReconnectJitterDur() time.Duration {
	return time.Duration(b.ReconnectJitter) * time.Millisecond
}

type OrchestratorConfig struct {
	AgentTimeoutMs   int  `mapstructure:"agent_timeout_ms"`
	DemoMode         bool `mapstructure:"demo_mode"`
	DemoLatencyMinMs int  `mapstructure:"demo_latency_min_ms"`
	DemoLatencyMaxMs int  `mapstructure:"demo_latency_max_ms"`
}

func (o OrchestratorConfig) AgentTimeout() time.Duration {
	return time.Duration(o.AgentTimeoutMs) * time.Millisecond
}

type UsageConfig struct {
	Limits map[string]int `mapstructure:"limits"`
}

type PushConfig struct {
	SubscriberCap int `mapstructure:"subscriber_cap"`
}

type StoreConfig struct {
	OpTimeoutMs int `mapstructure:"op_timeout_ms"`
}

func (s StoreConfig) OpTimeout() time.Duration { return time.Duration(s.OpTimeoutMs) * time.Millisecond }

type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	RequireAuth bool   `mapstructure:"require_auth"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type ShutdownConfig struct {
	DrainBudgetMs int `mapstructure:"drain_budget_ms"`
}

func (s ShutdownConfig) DrainBudget() time.Duration { return time.Duration(s.DrainBudgetMs) * time.Millisecond }

// Load reads configuration from environment variables (prefix SIGNALZERO_)
// and an optional ./signalzero.yaml, falling back to the defaults below —
// every value in spec.md §6's configuration table is represented.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("broker.url", "nats://localhost:4222")
	v.SetDefault("broker.max_reconnects", -1)
	v.SetDefault("broker.reconnect_wait_ms", 500)
	v.SetDefault("broker.reconnect_jitter_ms", 100)
	v.SetDefault("broker.handler_budget_ms", 2000)
	v.SetDefault("broker.outbound_cap", 1024)
	v.SetDefault("broker.health_grace_ms", 10000)
	v.SetDefault("broker.publish_rate_limit", 500.0)

	v.SetDefault("orchestrator.agent_timeout_ms", 5000)
	v.SetDefault("orchestrator.demo_mode", false)
	v.SetDefault("orchestrator.demo_latency_min_ms", 200)
	v.SetDefault("orchestrator.demo_latency_max_ms", 1500)

	v.SetDefault("usage.limits", map[string]int{
		"PUBLIC": 0, "FREE": 3, "PRO": 100, "BUSINESS": 1000, "ENTERPRISE": -1,
	})

	v.SetDefault("push.subscriber_cap", 256)

	v.SetDefault("store.op_timeout_ms", 500)

	v.SetDefault("auth.jwt_secret", "signalzero-dev-secret-change-in-production")
	v.SetDefault("auth.require_auth", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("shutdown.drain_budget_ms", 10000)

	v.SetConfigName("signalzero")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("SIGNALZERO")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	return cfg, nil
}

// TierLimit resolves the monthly analysis quota for a tier. A negative
// value (as configured for ENTERPRISE) means unbounded.
func (c Config) TierLimit(tier string) (limit int, unbounded bool) {
	l, ok := c.Usage.Limits[tier]
	if !ok {
		return 0, false
	}
	if l < 0 {
		return 0, true
	}
	return l, false
}
