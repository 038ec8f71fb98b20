package webhookevent

import "time"

// WebhookEvent is the audit record of one processor notification after it
// passed signature verification.
type WebhookEvent struct {
	ID              int64      `gorm:"primaryKey"`
	ProviderEventID string     `gorm:"column:provider_event_id;size:191;not null;uniqueIndex"`
	EventType       string     `gorm:"column:event_type;size:100;not null;index"`
	Payload         string     `gorm:"column:payload;type:text;not null"`
	Outcome         string     `gorm:"column:outcome;size:16;not null;index"`
	ProcessingError *string    `gorm:"column:processing_error;type:text"`
	Attempts        int        `gorm:"column:attempts;not null"`
	ProcessedAt     *time.Time `gorm:"column:processed_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
