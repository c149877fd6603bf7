package llmbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-run/meridian/bus"
	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
)

type fakeLLMProvider struct {
	answer  interface{}
	usage   ResourceUsage
	callErr error
	calls   int
}

func (f *fakeLLMProvider) CallLLMStructured(ctx context.Context, messages []Message, schema interface{}, maxTokens int, temperature float64) (interface{}, ResourceUsage, error) {
	f.calls++
	if f.callErr != nil {
		return nil, ResourceUsage{}, f.callErr
	}
	return f.answer, f.usage, nil
}
func (f *fakeLLMProvider) IsHealthy(ctx context.Context) bool { return true }
func (f *fakeLLMProvider) Capabilities() []string             { return []string{CapabilityStructured} }

func newTestRegistryAndTelemetry() (*registry.Registry, *bus.TelemetryBus) {
	reg := registry.New(nil)
	tb := bus.NewTelemetryBus(reg, 10, nil)
	return reg, tb
}

// TestBus_FailoverToSecondProvider covers scenario S1: a failing
// priority-0 provider falls through to a succeeding one, with metrics
// and telemetry recorded for both.
func TestBus_FailoverToSecondProvider(t *testing.T) {
	reg, tb := newTestRegistryAndTelemetry()

	telemetryProvider := &fakeTelemetryProvider{}
	reg.Register("telemetry-h", core.ServiceTelemetry, telemetryProvider, core.PriorityNormal, nil)

	p1 := &fakeLLMProvider{callErr: errors.New("boom")}
	p2 := &fakeLLMProvider{answer: map[string]string{"answer": "hi"}, usage: ResourceUsage{TokensTotal: 10, CostCents: 0.01}}

	reg.RegisterGlobal(core.ServiceLLM, p1, core.PriorityCritical, nil)
	reg.RegisterGlobal(core.ServiceLLM, p2, core.PriorityCritical, nil)

	llmBus := New(reg, tb, Config{Strategy: core.StrategyRoundRobin}, nil)

	result, usage, err := llmBus.GenerateStructured(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "telemetry-h", 100, 0.0)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"answer": "hi"}, result)
	assert.Equal(t, 10, usage.TokensTotal)

	assert.Equal(t, 1, p1.calls)
	assert.Equal(t, 1, p2.calls)

	metrics := llmBus.Metrics()
	require.Len(t, metrics, 2)
}

func TestBus_AllProvidersFail(t *testing.T) {
	reg, tb := newTestRegistryAndTelemetry()
	p1 := &fakeLLMProvider{callErr: errors.New("down")}
	reg.RegisterGlobal(core.ServiceLLM, p1, core.PriorityNormal, nil)

	llmBus := New(reg, tb, Config{}, nil)
	_, _, err := llmBus.GenerateStructured(context.Background(), nil, nil, "H", 100, 0.0)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestBus_NoProvidersRegistered(t *testing.T) {
	reg, tb := newTestRegistryAndTelemetry()
	llmBus := New(reg, tb, Config{}, nil)
	_, _, err := llmBus.GenerateStructured(context.Background(), nil, nil, "H", 100, 0.0)
	assert.Error(t, err)
}

func TestBus_CircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reg, tb := newTestRegistryAndTelemetry()
	p1 := &fakeLLMProvider{callErr: errors.New("down")}
	reg.RegisterGlobal(core.ServiceLLM, p1, core.PriorityNormal, nil)

	cfg := Config{BreakerConfig: BreakerConfig{FailureThreshold: 2, RecoveryTimeout: 0, HalfOpenMaxCalls: 1}}
	llmBus := New(reg, tb, cfg, nil)

	for i := 0; i < 2; i++ {
		_, _, err := llmBus.GenerateStructured(context.Background(), nil, nil, "H", 100, 0.0)
		assert.Error(t, err)
	}
	assert.Equal(t, 2, p1.calls, "breaker should have allowed exactly 2 calls before tripping")

	_, _, err := llmBus.GenerateStructured(context.Background(), nil, nil, "H", 100, 0.0)
	assert.Error(t, err)
	assert.Equal(t, 2, p1.calls, "breaker open: third call must be skipped, not forwarded to the provider")
}

type fakeTelemetryProvider struct{}

func (f *fakeTelemetryProvider) RecordMetric(ctx context.Context, name string, value float64, tags map[string]string) error {
	return nil
}
func (f *fakeTelemetryProvider) QueryTelemetry(ctx context.Context, query interface{}) (interface{}, error) {
	return nil, nil
}
func (f *fakeTelemetryProvider) IsHealthy(ctx context.Context) bool { return true }
func (f *fakeTelemetryProvider) Capabilities() []string             { return nil }
