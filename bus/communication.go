package bus

import (
	"context"

	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/registry"
)

// CommunicationBus resolves send/fetch operations to a CommunicationProvider.
// SendMessageSync and FetchMessages are synchronous pass-throughs;
// SendMessage is fire-and-forget via the queue.
type CommunicationBus struct {
	*BaseBus
	reg *registry.Registry
}

type sendMessageItem struct {
	ctx       context.Context
	handler   string
	channelID string
	content   string
}

// NewCommunicationBus creates the bus and wires its queue processor to
// invoke the resolved provider's SendMessage.
func NewCommunicationBus(reg *registry.Registry, capacity int, logger core.Logger) *CommunicationBus {
	b := &CommunicationBus{reg: reg}
	b.BaseBus = NewBaseBus("communication", capacity, logger, b.processQueued)
	return b
}

func (b *CommunicationBus) processQueued(ctx context.Context, raw interface{}) error {
	item := raw.(sendMessageItem)
	_, err := b.SendMessageSync(item.ctx, item.handler, item.channelID, item.content)
	return err
}

// SendMessageSync resolves a CommunicationProvider and sends immediately,
// returning the provider's result.
func (b *CommunicationBus) SendMessageSync(ctx context.Context, handler, channelID, content string) (res Result, err error) {
	defer recoverPanic(&err)

	provider, resolveErr := resolve[CommunicationProvider](ctx, b.reg, handler, core.ServiceCommunication, nil)
	if resolveErr != nil {
		return ErrorResult(resolveErr.Error()), resolveErr
	}

	ok, sendErr := provider.SendMessage(ctx, channelID, content)
	if sendErr != nil {
		return ErrorResult(sendErr.Error()), nil
	}
	return OK(ok), nil
}

// SendMessage enqueues a fire-and-forget send. Returns false if the queue
// is full or the bus isn't running.
func (b *CommunicationBus) SendMessage(ctx context.Context, handler, channelID, content string) bool {
	return b.Enqueue(sendMessageItem{ctx: ctx, handler: handler, channelID: channelID, content: content})
}

// FetchMessages resolves a CommunicationProvider and fetches synchronously.
func (b *CommunicationBus) FetchMessages(ctx context.Context, handler, channelID string, limit int) (res Result, err error) {
	defer recoverPanic(&err)

	provider, resolveErr := resolve[CommunicationProvider](ctx, b.reg, handler, core.ServiceCommunication, nil)
	if resolveErr != nil {
		return ErrorResult(resolveErr.Error()), resolveErr
	}

	messages, fetchErr := provider.FetchMessages(ctx, channelID, limit)
	if fetchErr != nil {
		return ErrorResult(fetchErr.Error()), nil
	}
	return OK(messages), nil
}
