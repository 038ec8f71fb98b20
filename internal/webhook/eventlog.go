package webhook

import (
	"context"
	"time"

	"github.com/frahmantamala/checkout-payments/internal/reconcile"
)

// Entry is one row of the webhook event log.
type Entry struct {
	ID              int64
	ProviderEventID string
	EventType       string
	Payload         []byte
	Outcome         string
	ProcessingError string
	Attempts        int
	ProcessedAt     *time.Time
}

// EventLog persists every verified notification with the outcome of its last dispatch.
type EventLog interface {
	// Record inserts the event or, if it was seen before, updates the outcome
	// and bumps the attempt counter. The original payload is kept.
	Record(ctx context.Context, entry Entry) error
	// ListReplayable returns events whose last outcome is one of outcomes, oldest first.
	ListReplayable(ctx context.Context, outcomes []string, limit int) ([]Entry, error)
}

// newEntry builds the log row for one dispatch. Errors turn the outcome into
// failed; unresolved events keep their reason for later inspection.
func newEntry(eventID, eventType string, payload []byte, res reconcile.Result, dispatchErr error) Entry {
	now := time.Now()
	entry := Entry{
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         payload,
		Outcome:         string(res.Outcome),
		ProcessedAt:     &now,
	}
	switch {
	case dispatchErr != nil:
		entry.Outcome = string(reconcile.OutcomeFailed)
		entry.ProcessingError = dispatchErr.Error()
	case res.Outcome == reconcile.OutcomeUnresolved:
		entry.ProcessingError = res.Reason
	}
	return entry
}
