package bus

import (
	"context"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
)

// WiseBus resolves deferral/guidance/review operations synchronously to
// the external Wise Authority adapter.
type WiseBus struct {
	*BaseBus
	reg *registry.Registry
}

func NewWiseBus(reg *registry.Registry, capacity int, logger core.Logger) *WiseBus {
	b := &WiseBus{reg: reg}
	b.BaseBus = NewBaseBus("wise_authority", capacity, logger, func(context.Context, interface{}) error { return nil })
	return b
}

func (b *WiseBus) provider(ctx context.Context, handler string) (WiseProvider, error) {
	return resolve[WiseProvider](ctx, b.reg, handler, core.ServiceWiseAuthority, nil)
}

// SendDeferral resolves a WiseProvider and forwards the deferral.
func (b *WiseBus) SendDeferral(ctx context.Context, handler, reason string, deferCtx map[string]interface{}) (res Result, err error) {
	defer recoverPanic(&err)
	p, rerr := b.provider(ctx, handler)
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}
	if sendErr := p.SendDeferral(ctx, reason, deferCtx); sendErr != nil {
		return ErrorResult(sendErr.Error()), nil
	}
	return OK(nil), nil
}

// FetchGuidance resolves a WiseProvider and asks question.
func (b *WiseBus) FetchGuidance(ctx context.Context, handler, question string) (res Result, err error) {
	defer recoverPanic(&err)
	p, rerr := b.provider(ctx, handler)
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}
	guidance, gErr := p.FetchGuidance(ctx, question)
	if gErr != nil {
		return ErrorResult(gErr.Error()), nil
	}
	return OK(guidance), nil
}

// RequestReview resolves a WiseProvider and raises a review request —
// the entry point the identity variance monitor (§4.8) and
// self-configuration orchestrator (§4.10) use to surface a breach.
func (b *WiseBus) RequestReview(ctx context.Context, handler, subject string, reviewCtx map[string]interface{}) (res Result, err error) {
	defer recoverPanic(&err)
	p, rerr := b.provider(ctx, handler)
	if rerr != nil {
		return ErrorResult(rerr.Error()), rerr
	}
	if reviewErr := p.RequestReview(ctx, subject, reviewCtx); reviewErr != nil {
		return ErrorResult(reviewErr.Error()), nil
	}
	return OK(nil), nil
}
