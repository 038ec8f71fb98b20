package webhook

import (
	"context"
	"io"
	"net/http"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/reconcile"
	"github.com/frahmantamala/checkout-payments/internal/transport"
	"github.com/frahmantamala/checkout-payments/pkg/logger"
)

// Stripe caps event payloads well below this.
const maxPayloadBytes = 1 << 20

type EventVerifier interface {
	Verify(payload []byte, signature string) (reconcile.Event, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev reconcile.Event) (reconcile.Result, error)
}

type Acknowledgement struct {
	Received bool `json:"received"`
}

type Handler struct {
	*transport.BaseHandler
	verifier EventVerifier
	engine   Dispatcher
	events   EventLog
}

func NewHandler(baseHandler *transport.BaseHandler, verifier EventVerifier, engine Dispatcher, events EventLog) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		verifier:    verifier,
		engine:      engine,
		events:      events,
	}
}

// HandleStripeWebhook handles POST /webhook. Verification failures get a 400,
// storage outages a 503 so the processor redelivers, and everything else a
// 200 acknowledgement.
func (h *Handler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		h.Logger.Warn("webhook: unreadable body", "error", err)
		h.HandleServiceError(w, internal.NewValidationError("request body could not be read", internal.ErrCodeValidationFailed))
		return
	}

	ev, err := h.verifier.Verify(payload, r.Header.Get(SignatureHeader))
	if err != nil {
		h.Logger.Warn("webhook: signature verification failed", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	ctx := logger.With(context.WithoutCancel(r.Context()), "event_id", ev.EventID(), "event_type", ev.EventType())
	res, err := h.engine.Dispatch(ctx, ev)
	h.record(ctx, ev, payload, res, err)

	if err != nil {
		if internal.IsType(err, internal.ErrorTypeUnavailable) {
			h.HandleServiceError(w, err)
			return
		}
		logger.From(ctx).Error("webhook: event acknowledged despite processing error", "error", err)
	}

	h.WriteJSON(w, http.StatusOK, Acknowledgement{Received: true})
}

func (h *Handler) record(ctx context.Context, ev reconcile.Event, payload []byte, res reconcile.Result, dispatchErr error) {
	if h.events == nil {
		return
	}

	entry := newEntry(ev.EventID(), ev.EventType(), payload, res, dispatchErr)
	if err := h.events.Record(ctx, entry); err != nil {
		logger.From(ctx).Warn("webhook: failed to record event", "error", err)
	}
}
