package bus

import (
	"context"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
)

// MemoryBus resolves every operation synchronously — all memory ops in
// §4.3's table are synchronous pass-through.
type MemoryBus struct {
	*BaseBus
	reg *registry.Registry
}

// NewMemoryBus creates the bus. It has no queued operations, so its
// processor is never invoked, but it still embeds BaseBus for consistent
// start/stop/health-check semantics with every other typed bus.
func NewMemoryBus(reg *registry.Registry, capacity int, logger core.Logger) *MemoryBus {
	b := &MemoryBus{reg: reg}
	b.BaseBus = NewBaseBus("memory", capacity, logger, func(context.Context, interface{}) error { return nil })
	return b
}

func (b *MemoryBus) provider(ctx context.Context, handler string) (MemoryProvider, error) {
	return resolve[MemoryProvider](ctx, b.reg, handler, core.ServiceMemory, nil)
}

// Memorize writes node through the resolved provider.
func (b *MemoryBus) Memorize(ctx context.Context, handler string, node interface{}) (res Result, err error) {
	defer recoverPanic(&err)
	p, rerr := b.provider(ctx, handler)
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}
	if merr := p.Memorize(ctx, node); merr != nil {
		return ErrorResult(merr.Error()), nil
	}
	return OK(nil), nil
}

// Recall queries the resolved provider.
func (b *MemoryBus) Recall(ctx context.Context, handler string, query interface{}) (res Result, err error) {
	defer recoverPanic(&err)
	p, rerr := b.provider(ctx, handler)
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}
	out, rcErr := p.Recall(ctx, query)
	if rcErr != nil {
		return ErrorResult(rcErr.Error()), nil
	}
	return OK(out), nil
}

// Forget removes node through the resolved provider.
func (b *MemoryBus) Forget(ctx context.Context, handler string, node interface{}) (res Result, err error) {
	defer recoverPanic(&err)
	p, rerr := b.provider(ctx, handler)
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}
	if ferr := p.Forget(ctx, node); ferr != nil {
		return ErrorResult(ferr.Error()), nil
	}
	return OK(nil), nil
}
