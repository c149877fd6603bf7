// Package config loads the runtime's settings from a YAML file, applies
// environment-variable overrides, and validates the result. Precedence is
// defaults, then the YAML file, then environment variables, so a set
// variable always wins. The layering follows the teacher's config loader
// (_examples/itsneelabh-gomind/core/config.go) but actually implements
// the YAML leg the teacher's own LoadFromFile leaves as a documented
// stub ("For YAML support, we'd need to import gopkg.in/yaml.v3").
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/meridian-run/meridian/core"
)

// BusConfig controls shared bus queue capacity (§6: max_queue_size).
type BusConfig struct {
	QueueCapacity int `yaml:"queue_capacity" validate:"min=1"`
}

// LLMConfig configures the LLM bus's selection strategy and circuit
// breaker parameters (§6).
type LLMConfig struct {
	DistributionStrategy string        `yaml:"distribution_strategy" validate:"oneof=round_robin latency_based random least_loaded"`
	FailureThreshold      int           `yaml:"circuit_breaker_failure_threshold" validate:"min=1"`
	RecoveryTimeout       time.Duration `yaml:"recovery_timeout" validate:"min=1s"`
	HalfOpenMaxCalls      int           `yaml:"half_open_max_calls" validate:"min=1"`

	// AIProvider names an ai.ProviderFactory registered via an
	// ai/providers/* package's init(), e.g. "openai". Empty falls back to
	// ai.DetectBestProvider; if no factory reports itself available, no
	// LLM provider is registered and the bus has none until one registers
	// itself directly against the registry.
	AIProvider string `yaml:"ai_provider"`
	AIModel    string `yaml:"ai_model"`
}

// VarianceConfig configures the identity variance monitor (§6).
type VarianceConfig struct {
	Threshold           float64 `yaml:"variance_threshold" validate:"gt=0,lte=1"`
	CheckIntervalHours   int     `yaml:"check_interval_hours" validate:"min=1"`
}

// FeedbackConfig configures the configuration feedback loop (§6).
type FeedbackConfig struct {
	PatternThreshold         float64  `yaml:"pattern_threshold" validate:"gt=0,lte=1"`
	AdaptationThreshold      float64  `yaml:"adaptation_threshold" validate:"gt=0,lte=1"`
	AnalysisIntervalHours    int      `yaml:"analysis_interval_hours" validate:"min=1"`
	ExpectedCapabilities     []string `yaml:"expected_capabilities"`
}

// SelfConfigConfig configures the self-configuration orchestrator (§6).
type SelfConfigConfig struct {
	StabilizationPeriodHours int `yaml:"stabilization_period_hours" validate:"min=1"`
	MaxConsecutiveFailures   int `yaml:"max_consecutive_failures" validate:"min=1"`
}

// TelemetryConfig configures unified telemetry consolidation (§6).
type TelemetryConfig struct {
	ConsolidationThresholdHours int `yaml:"consolidation_threshold_hours" validate:"min=1"`
	GraceWindowHours            int `yaml:"grace_window_hours" validate:"min=1"`
}

// SchedulerConfig configures the task scheduler (§6).
type SchedulerConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_s" validate:"min=1"`
}

// Config is the root configuration document, loaded from YAML and
// overridden by environment variables named in core/constants.go.
type Config struct {
	Namespace     string `yaml:"namespace" validate:"required"`
	Port          int    `yaml:"port" validate:"min=1,max=65535"`
	DevMode       bool   `yaml:"dev_mode"`
	RedisURL      string `yaml:"redis_url"`
	PostgresURL   string `yaml:"postgres_url"`
	OPAPolicyPath string `yaml:"opa_policy_path"`
	SlackWebhook  string `yaml:"slack_webhook_url"`
	SlackBotToken string `yaml:"slack_bot_token"`
	SlackChannel  string `yaml:"slack_channel_id"`
	AWSRegion     string `yaml:"aws_region"`

	// OTelEndpoint overrides the OTLP collector address the telemetry
	// profile otherwise picks by DevMode (localhost:4318 in dev,
	// otel-collector.prod:4318 in production).
	OTelEndpoint string `yaml:"otel_endpoint"`

	Bus        BusConfig        `yaml:"bus"`
	LLM        LLMConfig        `yaml:"llm"`
	Variance   VarianceConfig   `yaml:"variance"`
	Feedback   FeedbackConfig   `yaml:"feedback"`
	SelfConfig SelfConfigConfig `yaml:"self_config"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// Defaults returns a Config populated with every default named in §6.
func Defaults() Config {
	return Config{
		Namespace: "default",
		Port:      8080,
		Bus: BusConfig{
			QueueCapacity: 1000,
		},
		LLM: LLMConfig{
			DistributionStrategy: "latency_based",
			FailureThreshold:     5,
			RecoveryTimeout:      60 * time.Second,
			HalfOpenMaxCalls:     3,
		},
		Variance: VarianceConfig{
			Threshold:          0.20,
			CheckIntervalHours: 24,
		},
		Feedback: FeedbackConfig{
			PatternThreshold:      0.7,
			AdaptationThreshold:   0.8,
			AnalysisIntervalHours: 6,
		},
		SelfConfig: SelfConfigConfig{
			StabilizationPeriodHours: 24,
			MaxConsecutiveFailures:   3,
		},
		Telemetry: TelemetryConfig{
			ConsolidationThresholdHours: 24,
			GraceWindowHours:            72,
		},
		Scheduler: SchedulerConfig{
			TickIntervalSeconds: 1,
		},
	}
}

// Load reads a YAML config file layered on top of Defaults(), applies
// environment-variable overrides, and validates the result. An empty
// path skips the file read and returns defaults-plus-env.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w: %v", core.ErrInvalidConfiguration, err)
	}
	return &cfg, nil
}

// applyEnvOverrides layers environment variables over file/default
// values; a set variable wins over both.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(core.EnvRedisURL); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv(core.EnvNamespace); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv(core.EnvPostgresURL); v != "" {
		cfg.PostgresURL = v
	}
	if v := os.Getenv(core.EnvOPAPolicyPath); v != "" {
		cfg.OPAPolicyPath = v
	}
	if v := os.Getenv(core.EnvSlackWebhook); v != "" {
		cfg.SlackWebhook = v
	}
	if v := os.Getenv(core.EnvSlackBotToken); v != "" {
		cfg.SlackBotToken = v
	}
	if v := os.Getenv(core.EnvSlackChannel); v != "" {
		cfg.SlackChannel = v
	}
	if v := os.Getenv(core.EnvAWSRegion); v != "" {
		cfg.AWSRegion = v
	}
	if v := os.Getenv(core.EnvDevMode); v == "true" {
		cfg.DevMode = true
	}
	if v := os.Getenv(core.EnvOTelEndpoint); v != "" {
		cfg.OTelEndpoint = v
	}
}

// DistributionStrategyValue converts the configured string into the typed
// enum llmbus.Config expects.
func (c Config) DistributionStrategyValue() core.DistributionStrategy {
	return core.DistributionStrategy(c.LLM.DistributionStrategy)
}
