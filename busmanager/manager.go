// Package busmanager owns one instance of every typed bus and the shared
// registry, and coordinates their lifecycle (§4.5). The LLM bus is not
// held here; it lives in the llmbus package.
package busmanager

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-run/meridian/bus"
	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
)

// namedBus is the minimal lifecycle contract every typed bus shares via
// bus.BaseBus embedding.
type namedBus interface {
	Start(ctx context.Context)
	Stop(timeout time.Duration)
	IsHealthy() bool
	GetStats() bus.Stats
}

// Manager owns the registry and every typed bus. Buses are started and
// stopped together; a single bus failing to start never blocks the
// others (§4.5).
type Manager struct {
	Registry      *registry.Registry
	Communication *bus.CommunicationBus
	Memory        *bus.MemoryBus
	Tool          *bus.ToolBus
	Audit         *bus.AuditBus
	Telemetry     *bus.TelemetryBus
	Wise          *bus.WiseBus
	Secrets       *bus.SecretsBus

	logger core.Logger
	buses  map[string]namedBus
}

// Config controls per-bus queue capacity; zero uses the bus package's
// default (1000, §6 max_queue_size).
type Config struct {
	QueueCapacity int
}

// New constructs every typed bus against the same registry.
func New(reg *registry.Registry, cfg Config, logger core.Logger) *Manager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	m := &Manager{
		Registry:      reg,
		Communication: bus.NewCommunicationBus(reg, cfg.QueueCapacity, logger),
		Memory:        bus.NewMemoryBus(reg, cfg.QueueCapacity, logger),
		Tool:          bus.NewToolBus(reg, cfg.QueueCapacity, logger),
		Audit:         bus.NewAuditBus(reg, cfg.QueueCapacity, logger),
		Telemetry:     bus.NewTelemetryBus(reg, cfg.QueueCapacity, logger),
		Wise:          bus.NewWiseBus(reg, cfg.QueueCapacity, logger),
		Secrets:       bus.NewSecretsBus(reg, cfg.QueueCapacity, logger),
		logger:        logger,
	}

	m.buses = map[string]namedBus{
		"communication": m.Communication,
		"memory":        m.Memory,
		"tool":          m.Tool,
		"audit":         m.Audit,
		"telemetry":     m.Telemetry,
		"wise_authority": m.Wise,
		"secrets":       m.Secrets,
	}

	return m
}

// Start launches every bus. A bus that panics during startup is logged
// and skipped; the rest still start (§4.5: "logging and continuing on
// individual failures").
func (m *Manager) Start(ctx context.Context) {
	for name, b := range m.buses {
		func(name string, b namedBus) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("bus failed to start", map[string]interface{}{
						"operation": "busmanager_start",
						"bus":       name,
						"panic":     r,
					})
				}
			}()
			b.Start(ctx)
		}(name, b)
	}
}

// Stop stops every bus concurrently via an errgroup so one slow bus
// doesn't serialize shutdown of the others; each bus gets its own
// timeout budget.
func (m *Manager) Stop(timeout time.Duration) {
	var g errgroup.Group
	for name, b := range m.buses {
		name, b := name, b
		g.Go(func() error {
			b.Stop(timeout)
			m.logger.Debug("bus stopped", map[string]interface{}{
				"operation": "busmanager_stop",
				"bus":       name,
			})
			return nil
		})
	}
	_ = g.Wait()
}

// HealthReport is the per-bus boolean health map returned by HealthCheck.
type HealthReport map[string]bool

// HealthCheck returns, per bus, running && queue_depth < 0.9*capacity
// (§4.5).
func (m *Manager) HealthCheck() HealthReport {
	report := make(HealthReport, len(m.buses))
	for name, b := range m.buses {
		report[name] = b.IsHealthy()
	}
	return report
}

// StatsReport aggregates per-bus stats for introspection/metrics export.
type StatsReport map[string]bus.Stats

// GetStats aggregates every bus's stats. The LLM bus's per-provider table
// is aggregated separately by the llmbus package and merged in by callers
// that hold both managers (cmd/meridiand wiring).
func (m *Manager) GetStats() StatsReport {
	report := make(StatsReport, len(m.buses))
	for name, b := range m.buses {
		report[name] = b.GetStats()
	}
	return report
}
