package bus

import (
	"context"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
)

// TelemetryBus resolves record_metric/query_telemetry synchronously.
type TelemetryBus struct {
	*BaseBus
	reg *registry.Registry
}

func NewTelemetryBus(reg *registry.Registry, capacity int, logger core.Logger) *TelemetryBus {
	b := &TelemetryBus{reg: reg}
	b.BaseBus = NewBaseBus("telemetry", capacity, logger, func(context.Context, interface{}) error { return nil })
	return b
}

// RecordMetric resolves a TelemetryProvider and records the metric.
// Telemetry failures are logged and do not affect the caller's own
// return value, per §4.4 — the bus logs and swallows here rather than
// propagating an error.
func (b *TelemetryBus) RecordMetric(ctx context.Context, handler, name string, value float64, tags map[string]string) Result {
	p, rerr := resolve[TelemetryProvider](ctx, b.reg, handler, core.ServiceTelemetry, nil)
	if rerr != nil {
		b.logger.Warn("telemetry provider unavailable", map[string]interface{}{
			"operation": "telemetry_record_metric",
			"metric":    name,
			"error":     rerr.Error(),
		})
		return ErrorResult(rerr.Error())
	}

	if err := p.RecordMetric(ctx, name, value, tags); err != nil {
		b.logger.Warn("telemetry record failed", map[string]interface{}{
			"operation": "telemetry_record_metric",
			"metric":    name,
			"error":     err.Error(),
		})
		return ErrorResult(err.Error())
	}
	return OK(nil)
}

// QueryTelemetry resolves a TelemetryProvider and runs query.
func (b *TelemetryBus) QueryTelemetry(ctx context.Context, handler string, query interface{}) (res Result, err error) {
	defer recoverPanic(&err)

	p, rerr := resolve[TelemetryProvider](ctx, b.reg, handler, core.ServiceTelemetry, nil)
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}

	out, qErr := p.QueryTelemetry(ctx, query)
	if qErr != nil {
		return ErrorResult(qErr.Error()), nil
	}
	return OK(out), nil
}
