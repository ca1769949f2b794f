package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"budgetledger/internal/core"
	"budgetledger/internal/ledger"
)

// Message kinds carried on the events queue.
const (
	KindLedgerChanged = "ledger_changed"
	KindRateRecorded  = "rate_recorded"
)

// RatePayload is an exchange rate on the wire. The rate travels as a decimal
// string so no precision is lost.
type RatePayload struct {
	Base  string    `json:"base"`
	Quote string    `json:"quote"`
	Rate  string    `json:"rate"`
	AsOf  time.Time `json:"as_of"`
}

// EventMessage tells workers that a ledger changed or a rate was recorded.
// It carries identifiers only; workers read current state from storage.
type EventMessage struct {
	Kind           string       `json:"kind"`
	LedgerID       string       `json:"ledger_id,omitempty"`
	Change         string       `json:"change,omitempty"`
	Periods        []string     `json:"periods,omitempty"`
	CategoryIDs    []string     `json:"category_ids,omitempty"`
	TransactionIDs []string     `json:"transaction_ids,omitempty"`
	AccountIDs     []string     `json:"account_ids,omitempty"`
	Rate           *RatePayload `json:"rate,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
}

// NewLedgerChangedMessage builds the message for a committed ledger event.
func NewLedgerChangedMessage(ev ledger.Event) *EventMessage {
	periods := make([]string, len(ev.Periods))
	for i, p := range ev.Periods {
		periods[i] = p.String()
	}
	return &EventMessage{
		Kind:           KindLedgerChanged,
		LedgerID:       ev.LedgerID,
		Change:         string(ev.Kind),
		Periods:        periods,
		CategoryIDs:    ev.CategoryIDs,
		TransactionIDs: ev.TransactionIDs,
		AccountIDs:     ev.AccountIDs,
		Timestamp:      time.Now(),
	}
}

func NewRateRecordedMessage(r core.ExchangeRate) *EventMessage {
	return &EventMessage{
		Kind: KindRateRecorded,
		Rate: &RatePayload{
			Base:  string(r.Base),
			Quote: string(r.Quote),
			Rate:  r.Rate.String(),
			AsOf:  r.AsOf,
		},
		Timestamp: time.Now(),
	}
}

// LedgerEvent decodes a ledger_changed message.
func (m *EventMessage) LedgerEvent() (ledger.Event, error) {
	if m.Kind != KindLedgerChanged {
		return ledger.Event{}, fmt.Errorf("message kind %q is not %s", m.Kind, KindLedgerChanged)
	}
	ev := ledger.Event{
		LedgerID:       m.LedgerID,
		Kind:           ledger.EventKind(m.Change),
		CategoryIDs:    m.CategoryIDs,
		TransactionIDs: m.TransactionIDs,
		AccountIDs:     m.AccountIDs,
		At:             m.Timestamp,
	}
	for _, s := range m.Periods {
		p, err := core.ParsePeriod(s)
		if err != nil {
			return ledger.Event{}, err
		}
		ev.Periods = append(ev.Periods, p)
	}
	return ev, nil
}

// ExchangeRate decodes a rate_recorded message.
func (m *EventMessage) ExchangeRate() (core.ExchangeRate, error) {
	if m.Kind != KindRateRecorded || m.Rate == nil {
		return core.ExchangeRate{}, fmt.Errorf("message kind %q carries no rate", m.Kind)
	}
	rate, err := decimal.NewFromString(m.Rate.Rate)
	if err != nil {
		return core.ExchangeRate{}, fmt.Errorf("parse rate %q: %w", m.Rate.Rate, err)
	}
	r := core.ExchangeRate{
		Base:  core.Currency(m.Rate.Base),
		Quote: core.Currency(m.Rate.Quote),
		Rate:  rate,
		AsOf:  m.Rate.AsOf,
	}
	return r, r.Validate()
}

// ToJSON converts the message to JSON bytes
func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EventMessageFromJSON decodes a message and checks its kind.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case KindLedgerChanged, KindRateRecorded:
		return &msg, nil
	}
	return nil, fmt.Errorf("unknown message kind %q", msg.Kind)
}
