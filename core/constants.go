package core

import "time"

// Environment variable names read by the ambient configuration loader.
const (
	EnvRedisURL      = "MERIDIAN_REDIS_URL"
	EnvNamespace     = "MERIDIAN_NAMESPACE"
	EnvPostgresURL   = "MERIDIAN_POSTGRES_URL"
	EnvPort          = "MERIDIAN_PORT"
	EnvDevMode       = "MERIDIAN_DEV_MODE"
	EnvOPAPolicyPath = "MERIDIAN_OPA_POLICY_PATH"
	EnvSlackWebhook  = "MERIDIAN_SLACK_WEBHOOK_URL"
	EnvSlackBotToken = "MERIDIAN_SLACK_BOT_TOKEN"
	EnvSlackChannel  = "MERIDIAN_SLACK_CHANNEL_ID"
	EnvAWSRegion     = "MERIDIAN_AWS_REGION"
	EnvOTelEndpoint  = "MERIDIAN_OTEL_ENDPOINT"
)

// DefaultVarianceThreshold is the fraction of the frozen identity baseline
// that total weighted variance may drift before requiring wise authority
// review.
const DefaultVarianceThreshold = 0.20

// DefaultCheckInterval is how often the identity variance monitor compares
// the current graph state against the frozen baseline.
const DefaultCheckInterval = 24 * time.Hour

// DefaultTickInterval is the task scheduler's polling interval for due
// one-shot and cron tasks.
const DefaultTickInterval = 1 * time.Second
