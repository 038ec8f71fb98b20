package webhook_test

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	. "github.com/onsi/gomega"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"

	"github.com/frahmantamala/checkout-payments/internal/reconcile"
	"github.com/frahmantamala/checkout-payments/internal/webhook"
)

const testSecret = "whsec_test_secret"

func stripeEvent(id, eventType string, object map[string]interface{}) []byte {
	body, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"api_version": "2020-08-27",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"data":        map[string]interface{}{"object": object},
	})
	Expect(err).NotTo(HaveOccurred())
	return body
}

func sign(payload []byte, secret string) string {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

type stubDispatcher struct {
	mu       sync.Mutex
	result   reconcile.Result
	err      error
	received []reconcile.Event
	outcomes map[string]reconcile.Outcome
}

func (s *stubDispatcher) Dispatch(_ context.Context, ev reconcile.Event) (reconcile.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, ev)
	if s.err != nil {
		return reconcile.Result{Outcome: reconcile.OutcomeFailed}, s.err
	}
	if o, ok := s.outcomes[ev.EventID()]; ok {
		return reconcile.Result{Outcome: o}, nil
	}
	return s.result, nil
}

func (s *stubDispatcher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

type memoryEventLog struct {
	mu      sync.Mutex
	entries map[string]webhook.Entry
	order   []string
	err     error
}

func newMemoryEventLog() *memoryEventLog {
	return &memoryEventLog{entries: map[string]webhook.Entry{}}
}

func (m *memoryEventLog) Record(_ context.Context, entry webhook.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	prev, ok := m.entries[entry.ProviderEventID]
	if !ok {
		entry.Attempts = 1
		m.order = append(m.order, entry.ProviderEventID)
	} else {
		entry.Attempts = prev.Attempts + 1
		entry.Payload = prev.Payload
	}
	m.entries[entry.ProviderEventID] = entry
	return nil
}

func (m *memoryEventLog) ListReplayable(_ context.Context, outcomes []string, limit int) ([]webhook.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []webhook.Entry
	for _, id := range m.order {
		e := m.entries[id]
		for _, o := range outcomes {
			if e.Outcome == o {
				out = append(out, e)
				break
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryEventLog) get(id string) webhook.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[id]
}

func (m *memoryEventLog) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := append([]string(nil), m.order...)
	sort.Strings(ids)
	return ids
}
