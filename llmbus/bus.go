// Package llmbus implements the LLM bus (§4.4): priority-tiered provider
// selection, per-provider circuit breaking, failover across priority
// groups, and resource-usage telemetry emission.
package llmbus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/meridian-run/meridian/bus"
	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
	"github.com/meridian-run/meridian/telemetry"
)

// providerState is everything the bus tracks per registered LLM provider:
// its breaker, running metrics, and a stable key for round-robin rotation.
type providerState struct {
	name    string
	handler string
	reg     *registry.Registration
	breaker *gobreaker.CircuitBreaker

	mu      sync.Mutex
	metrics ServiceMetrics
}

func (s *providerState) recordSuccess(latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.TotalRequests++
	s.metrics.TotalLatencyMs += latencyMs
	s.metrics.ConsecutiveFailures = 0
}

func (s *providerState) recordFailure(latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.TotalRequests++
	s.metrics.FailedRequests++
	s.metrics.TotalLatencyMs += latencyMs
	s.metrics.ConsecutiveFailures++
}

func (s *providerState) snapshot() ServiceMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Bus selects, invokes, and fails over across registered LLM providers.
type Bus struct {
	reg          *registry.Registry
	telemetry    *bus.TelemetryBus
	logger       core.Logger
	strategy     core.DistributionStrategy
	breakerCfg   BreakerConfig

	mu          sync.Mutex
	states      map[*registry.Registration]*providerState
	roundRobin  map[core.Priority]*int64
}

// Config controls the bus's selection strategy and breaker parameters.
type Config struct {
	Strategy      core.DistributionStrategy
	BreakerConfig BreakerConfig
}

// New creates an LLM bus against the shared registry. telemetry may be
// nil, in which case metric emission is skipped entirely rather than
// failing the call — telemetry is always best-effort (§4.4).
func New(reg *registry.Registry, telemetry *bus.TelemetryBus, cfg Config, logger core.Logger) *Bus {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cfg.Strategy == "" {
		cfg.Strategy = core.StrategyLatencyBased
	}
	if cfg.BreakerConfig == (BreakerConfig{}) {
		cfg.BreakerConfig = DefaultBreakerConfig()
	}
	return &Bus{
		reg:        reg,
		telemetry:  telemetry,
		logger:     logger,
		strategy:   cfg.Strategy,
		breakerCfg: cfg.BreakerConfig,
		states:     make(map[*registry.Registration]*providerState),
		roundRobin: make(map[core.Priority]*int64),
	}
}

// ErrAllProvidersFailed is returned when every priority group is
// exhausted without a successful call (§4.4 step 3).
var ErrAllProvidersFailed = errors.New("all LLM services failed")

func (b *Bus) stateFor(reg *registry.Registration) *providerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[reg]
	if !ok {
		st = &providerState{
			name:    fmt.Sprintf("%s#%d", reg.Handler, len(b.states)+1),
			handler: reg.Handler,
			reg:     reg,
			breaker: newBreaker(reg.Handler, b.breakerCfg),
		}
		b.states[reg] = st
	}
	return st
}

func (b *Bus) counterFor(priority core.Priority) *int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.roundRobin[priority]
	if !ok {
		var zero int64
		c = &zero
		b.roundRobin[priority] = c
	}
	return c
}

// groupedCandidates enumerates every registered LLM provider advertising
// call_llm_structured and currently healthy, grouped by ascending
// priority (§4.4 step 1).
func (b *Bus) groupedCandidates(ctx context.Context) [][]*providerState {
	regs := b.reg.ListRegistrations(core.ServiceLLM)

	byPriority := make(map[core.Priority][]*providerState)
	for _, r := range regs {
		if !containsCapability(r.Provider.Capabilities(), CapabilityStructured) {
			continue
		}
		if !r.Provider.IsHealthy(ctx) {
			continue
		}
		byPriority[r.Priority] = append(byPriority[r.Priority], b.stateFor(r))
	}

	priorities := make([]core.Priority, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] < priorities[j] })

	groups := make([][]*providerState, 0, len(priorities))
	for _, p := range priorities {
		groups = append(groups, byPriority[p])
	}
	return groups
}

func containsCapability(have []string, want string) bool {
	for _, c := range have {
		if c == want {
			return true
		}
	}
	return false
}

// selectFrom picks one provider from a priority group per the bus's
// configured DistributionStrategy (§4.4 step 2a).
func (b *Bus) selectFrom(priority core.Priority, group []*providerState) []*providerState {
	ordered := make([]*providerState, len(group))
	copy(ordered, group)

	switch b.strategy {
	case core.StrategyRoundRobin:
		counter := b.counterFor(priority)
		n := atomic.AddInt64(counter, 1) - 1
		start := int(n) % len(ordered)
		ordered = append(ordered[start:], ordered[:start]...)
	case core.StrategyLatencyBased:
		sort.SliceStable(ordered, func(i, j int) bool {
			mi, mj := ordered[i].snapshot(), ordered[j].snapshot()
			if mi.TotalRequests == 0 {
				return true
			}
			if mj.TotalRequests == 0 {
				return false
			}
			return mi.AverageLatencyMs() < mj.AverageLatencyMs()
		})
	case core.StrategyLeastLoaded:
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].snapshot().TotalRequests < ordered[j].snapshot().TotalRequests
		})
	case core.StrategyRandom:
		rand.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })
	}
	return ordered
}

// GenerateStructured runs §4.4's full selection/failover algorithm and
// emits resource-usage telemetry for the call that succeeded (or, when
// every provider failed, none).
func (b *Bus) GenerateStructured(ctx context.Context, messages []Message, responseSchema interface{}, handler string, maxTokens int, temperature float64) (interface{}, ResourceUsage, error) {
	groups := b.groupedCandidates(ctx)

	var lastErr error
	for _, group := range groups {
		ordered := b.selectFrom(group[0].reg.Priority, group)
		for _, st := range ordered {
			if breakerOpen(st.breaker) {
				continue
			}

			provider, ok := st.reg.Provider.(Provider)
			if !ok {
				continue
			}

			start := time.Now()
			result, usage, callErr := b.invoke(ctx, st, provider, messages, responseSchema, maxTokens, temperature)
			latencyMs := time.Since(start).Milliseconds()

			if callErr != nil {
				st.recordFailure(latencyMs)
				lastErr = callErr
				b.logger.Warn("llm provider call failed", map[string]interface{}{
					"operation": "llm_provider_failed",
					"provider":  st.name,
					"handler":   handler,
					"error":     callErr.Error(),
				})
				continue
			}

			st.recordSuccess(latencyMs)
			usage.ModelUsed = st.name
			b.emitTelemetry(ctx, handler, st.name, usage, latencyMs)
			return result, usage, nil
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no healthy LLM providers registered")
	}
	return nil, ResourceUsage{}, core.NewFrameworkError("llmbus.GenerateStructured", "llm", errors.Join(ErrAllProvidersFailed, lastErr))
}

// invoke runs the provider call through its circuit breaker so breaker
// state transitions (§4.4's closed/open/half_open table) happen exactly
// once per attempt.
func (b *Bus) invoke(ctx context.Context, st *providerState, provider Provider, messages []Message, schema interface{}, maxTokens int, temperature float64) (interface{}, ResourceUsage, error) {
	type callResult struct {
		value interface{}
		usage ResourceUsage
	}

	raw, err := st.breaker.Execute(func() (interface{}, error) {
		value, usage, callErr := provider.CallLLMStructured(ctx, messages, schema, maxTokens, temperature)
		if callErr != nil {
			return nil, callErr
		}
		return callResult{value: value, usage: usage}, nil
	})
	if err != nil {
		return nil, ResourceUsage{}, err
	}
	cr := raw.(callResult)
	return cr.value, cr.usage, nil
}

// emitTelemetry records the per-call metrics named in §4.4. Failures are
// logged, never propagated — a telemetry outage must not fail an
// otherwise-successful LLM call.
func (b *Bus) emitTelemetry(ctx context.Context, handler, providerName string, usage ResourceUsage, latencyMs int64) {
	if b.telemetry == nil {
		return
	}

	tags := map[string]string{
		"service": providerName,
		"model":   usage.ModelUsed,
		"handler": handler,
	}

	metrics := map[string]float64{
		"llm.tokens.total":            float64(usage.TokensTotal),
		"llm.tokens.input":            float64(usage.TokensInput),
		"llm.tokens.output":           float64(usage.TokensOutput),
		"llm.cost.cents":              usage.CostCents,
		"llm.environmental.water_ml":  usage.WaterML,
		"llm.environmental.carbon_g":  usage.CarbonG,
		"llm.environmental.energy_kwh": usage.EnergyKWh,
		"llm.latency.ms":              float64(latencyMs),
	}

	labels := []string{"service", providerName, "model", usage.ModelUsed, "handler", handler}

	for name, value := range metrics {
		if res := b.telemetry.RecordMetric(ctx, handler, name, value, tags); res.Status != bus.StatusOK {
			b.logger.Warn("llm telemetry emission failed", map[string]interface{}{
				"operation": "llm_telemetry_emit",
				"metric":    name,
				"reason":    res.Reason,
			})
		}
		// Mirror onto the ambient OTel pipeline (distinct from the
		// TelemetryBus table above, which backs handleStats) so these
		// numbers actually leave the process via the configured exporter,
		// tagged with whatever baggage the caller's context carries.
		telemetry.EmitWithContext(ctx, name, value, labels...)
	}
}

// Metrics exposes a provider's running ServiceMetrics snapshot, keyed by
// its bus-local name (registered handler name plus a sequence number, so
// providers sharing a handler, such as global ones, stay distinct), for
// introspection/runtime_control.
func (b *Bus) Metrics() map[string]ServiceMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]ServiceMetrics, len(b.states))
	for _, st := range b.states {
		out[st.name] = st.snapshot()
	}
	return out
}
