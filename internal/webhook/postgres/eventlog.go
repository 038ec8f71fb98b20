package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/core/datamodel/webhookevent"
	"github.com/frahmantamala/checkout-payments/internal/core/storage"
	"github.com/frahmantamala/checkout-payments/internal/webhook"
)

type EventLogRepository struct {
	db *gorm.DB
}

var _ webhook.EventLog = (*EventLogRepository)(nil)

func NewEventLogRepository(db *gorm.DB) *EventLogRepository {
	return &EventLogRepository{db: db}
}

func (r *EventLogRepository) Record(ctx context.Context, entry webhook.Entry) error {
	var processingError *string
	if entry.ProcessingError != "" {
		processingError = &entry.ProcessingError
	}

	model := &webhookevent.WebhookEvent{
		ProviderEventID: entry.ProviderEventID,
		EventType:       entry.EventType,
		Payload:         string(entry.Payload),
		Outcome:         entry.Outcome,
		ProcessingError: processingError,
		Attempts:        1,
		ProcessedAt:     entry.ProcessedAt,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_event_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"outcome":          entry.Outcome,
			"processing_error": processingError,
			"processed_at":     entry.ProcessedAt,
			"attempts":         gorm.Expr("webhook_events.attempts + 1"),
			"updated_at":       time.Now(),
		}),
	}).Create(model).Error
	return storage.Classify(err)
}

func (r *EventLogRepository) ListReplayable(ctx context.Context, outcomes []string, limit int) ([]webhook.Entry, error) {
	var models []webhookevent.WebhookEvent
	q := r.db.WithContext(ctx).Where("outcome IN ?", outcomes).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&models).Error; err != nil {
		return nil, storage.Classify(err)
	}

	entries := make([]webhook.Entry, 0, len(models))
	for i := range models {
		entries = append(entries, toEntry(&models[i]))
	}
	return entries, nil
}

// GetByProviderEventID backs `events show`. It returns internal.ErrEventNotFound
// for an event that was never recorded.
func (r *EventLogRepository) GetByProviderEventID(ctx context.Context, eventID string) (*webhook.Entry, error) {
	var m webhookevent.WebhookEvent
	if err := r.db.WithContext(ctx).Where("provider_event_id = ?", eventID).First(&m).Error; err != nil {
		return nil, storage.NotFoundOr(err, internal.ErrEventNotFound)
	}
	e := toEntry(&m)
	return &e, nil
}

func toEntry(m *webhookevent.WebhookEvent) webhook.Entry {
	e := webhook.Entry{
		ID:              m.ID,
		ProviderEventID: m.ProviderEventID,
		EventType:       m.EventType,
		Payload:         []byte(m.Payload),
		Outcome:         m.Outcome,
		Attempts:        m.Attempts,
		ProcessedAt:     m.ProcessedAt,
	}
	if m.ProcessingError != nil {
		e.ProcessingError = *m.ProcessingError
	}
	return e
}
