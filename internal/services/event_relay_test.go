package services

import (
	"context"
	"testing"
	"time"

	"budgetledger/internal/amqp"
	"budgetledger/internal/core"
	"budgetledger/internal/ledger"
)

func TestEventRelayDropsWhenFull(t *testing.T) {
	out := &recordingPublisher{}
	relay := NewEventRelay(out, 1)

	ev := ledger.Event{LedgerID: "l1", Kind: ledger.TransactionCreated, Periods: []core.Period{{Year: 2024, Month: 3}}}
	relay.LedgerChanged(ev)
	relay.LedgerChanged(ev)

	if got := relay.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := relay.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	msgs := out.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].Kind != amqp.KindLedgerChanged || msgs[0].LedgerID != "l1" {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestEventRelayForwards(t *testing.T) {
	out := &recordingPublisher{}
	relay := NewEventRelay(out, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	for i := 0; i < 3; i++ {
		if err := relay.Publish(ctx, &amqp.EventMessage{Kind: amqp.KindLedgerChanged, LedgerID: "l1"}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(out.messages()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := len(out.messages()); got != 3 {
		t.Errorf("published %d messages, want 3", got)
	}
	if relay.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", relay.Dropped())
	}
}
