// Package notify fans dashboard and ledger events out to subscribers.
//
// Publishers are injected wherever an event is produced; nothing in the
// module holds a process-wide notifier.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"
)

// Event names
const (
	EventSummaryUpdated = "summaryUpdated"
	EventLoanUpdated    = "loanUpdated"
	EventPaymentUpdated = "paymentUpdated"
)

// Publisher broadcasts a payload under an event name.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

// Envelope is the wire format shared by every transport.
type Envelope struct {
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Published time.Time       `json:"publishedAt"`
}

// Encode marshals payload into an envelope.
func Encode(event string, payload any, at time.Time) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: body, Published: at.UTC()})
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event string, payload any) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logging records each event at debug level and forwards it.
type Logging struct {
	Next   Publisher
	Logger *slog.Logger
}

func (l Logging) Publish(ctx context.Context, event string, payload any) error {
	err := l.Next.Publish(ctx, event, payload)
	if err != nil {
		l.Logger.WarnContext(ctx, "publish failed", "event", event, "error", err)
		return err
	}
	l.Logger.DebugContext(ctx, "event published", "event", event)
	return nil
}
