package bus

import (
	"context"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
)

// AuditBus writes every event synchronously before returning to the
// caller — the spec treats audit durability-before-return as required
// (§9 Open Questions resolves this "yes"; see DESIGN.md).
type AuditBus struct {
	*BaseBus
	reg *registry.Registry
}

func NewAuditBus(reg *registry.Registry, capacity int, logger core.Logger) *AuditBus {
	b := &AuditBus{reg: reg}
	b.BaseBus = NewBaseBus("audit", capacity, logger, func(context.Context, interface{}) error { return nil })
	return b
}

// LogEvent resolves an AuditProvider and writes synchronously.
func (b *AuditBus) LogEvent(ctx context.Context, handler, eventType string, data map[string]interface{}) (res Result, err error) {
	defer recoverPanic(&err)

	p, rerr := resolve[AuditProvider](ctx, b.reg, handler, core.ServiceAudit, nil)
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}

	if logErr := p.LogEvent(ctx, eventType, data); logErr != nil {
		return ErrorResult(logErr.Error()), nil
	}
	return OK(nil), nil
}

// GetAuditTrail resolves an AuditProvider and reads its trail for entityID.
func (b *AuditBus) GetAuditTrail(ctx context.Context, handler, entityID string, limit int) (res Result, err error) {
	defer recoverPanic(&err)

	p, rerr := resolve[AuditProvider](ctx, b.reg, handler, core.ServiceAudit, nil)
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}

	trail, trailErr := p.GetAuditTrail(ctx, entityID, limit)
	if trailErr != nil {
		return ErrorResult(trailErr.Error()), nil
	}
	return OK(trail), nil
}
