package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/frahmantamala/checkout-payments/internal/transport"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus   `json:"status"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CheckedAt  time.Time      `json:"checked_at"`
	DurationMs int64          `json:"duration_ms"`
}

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StatsProvider exposes the reconciliation outcome counters.
type StatsProvider interface {
	Snapshot() map[string]int64
}

type HealthHandler struct {
	*transport.BaseHandler
	db    Pinger
	stats StatsProvider
}

func NewHealthHandler(base *transport.BaseHandler, db Pinger, stats StatsProvider) *HealthHandler {
	return &HealthHandler{BaseHandler: base, db: db, stats: stats}
}

// Ping only says the process is up.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// Health checks the database and reports the reconciliation counters. Only
// the database decides the overall status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	start := time.Now()
	err := h.db.PingContext(ctx)

	db := CheckEntry{
		Status:     HealthHealthy,
		CheckedAt:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		db.Status = HealthUnhealthy
		db.Message = err.Error()
	}

	resp := HealthResponse{
		Status:     db.Status,
		CheckedAt:  time.Now(),
		Components: map[string]CheckEntry{"postgres": db},
	}

	if h.stats != nil {
		details := make(map[string]any)
		for outcome, n := range h.stats.Snapshot() {
			details[outcome] = n
		}
		resp.Components["reconcile"] = CheckEntry{
			Status:    HealthHealthy,
			Details:   details,
			CheckedAt: time.Now(),
		}
	}

	status := http.StatusOK
	if resp.Status == HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.WriteJSON(w, status, resp)
}
