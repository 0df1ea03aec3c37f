package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	queueSize      = 100
	publishTimeout = 100 * time.Millisecond
)

// MessageBus connects channels to the agent loop. Publishing never blocks
// longer than publishTimeout; messages that do not fit are dropped and
// counted.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	droppedIn  atomic.Uint64
	droppedOut atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueSize),
		outbound: make(chan OutboundMessage, queueSize),
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	publish(mb.inbound, msg, &mb.droppedIn)
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	publish(mb.outbound, msg, &mb.droppedOut)
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return receive(ctx, mb.inbound)
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return receive(ctx, mb.outbound)
}

func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) DroppedInbound() uint64 {
	return mb.droppedIn.Load()
}

func (mb *MessageBus) DroppedOutbound() uint64 {
	return mb.droppedOut.Load()
}

func publish[T any](ch chan<- T, msg T, dropped *atomic.Uint64) {
	select {
	case ch <- msg:
		return
	default:
	}
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case ch <- msg:
	case <-timer.C:
		dropped.Add(1)
	}
}

func receive[T any](ctx context.Context, ch <-chan T) (T, bool) {
	var zero T
	select {
	case msg, ok := <-ch:
		if !ok {
			return zero, false
		}
		return msg, true
	case <-ctx.Done():
		return zero, false
	}
}
