package services

import (
	"context"
	"log/slog"
	"sync/atomic"

	"budgetledger/internal/amqp"
	"budgetledger/internal/ledger"
)

const defaultRelayBuffer = 1024

// EventRelay forwards committed ledger events and rate notifications to a
// Publisher from its own goroutine. Ledger listeners run inside the ledger's
// exclusive section, so enqueueing never blocks: when the buffer is full the
// message is dropped and the consumer falls back to its periodic refresh.
type EventRelay struct {
	out     Publisher
	queue   chan *amqp.EventMessage
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewEventRelay(out Publisher, buffer int) *EventRelay {
	if buffer <= 0 {
		buffer = defaultRelayBuffer
	}
	return &EventRelay{
		out:    out,
		queue:  make(chan *amqp.EventMessage, buffer),
		logger: slog.Default().With("component", "event_relay"),
	}
}

// LedgerChanged implements ledger.Listener.
func (r *EventRelay) LedgerChanged(ev ledger.Event) {
	r.enqueue(amqp.NewLedgerChangedMessage(ev))
}

// Publish implements Publisher by enqueueing msg.
func (r *EventRelay) Publish(_ context.Context, msg *amqp.EventMessage) error {
	r.enqueue(msg)
	return nil
}

func (r *EventRelay) enqueue(msg *amqp.EventMessage) {
	select {
	case r.queue <- msg:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("Event relay buffer full, dropping message",
			"kind", msg.Kind,
			"ledger_id", msg.LedgerID,
			"dropped_total", n)
	}
}

// Dropped reports how many messages were discarded.
func (r *EventRelay) Dropped() int64 { return r.dropped.Load() }

// Run publishes queued messages until ctx is done, then drains what is
// already queued on a best-effort basis.
func (r *EventRelay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx))
			return nil
		case msg := <-r.queue:
			r.send(ctx, msg)
		}
	}
}

func (r *EventRelay) drain(ctx context.Context) {
	for {
		select {
		case msg := <-r.queue:
			r.send(ctx, msg)
		default:
			return
		}
	}
}

func (r *EventRelay) send(ctx context.Context, msg *amqp.EventMessage) {
	if err := r.out.Publish(ctx, msg); err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish event message",
			"kind", msg.Kind,
			"ledger_id", msg.LedgerID,
			"error", err)
	}
}
