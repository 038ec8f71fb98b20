package webhook_test

import (
	"context"
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/checkout-payments/internal/reconcile"
	"github.com/frahmantamala/checkout-payments/internal/webhook"
)

var _ = Describe("Replayer", func() {
	var (
		ctx        context.Context
		events     *memoryEventLog
		dispatcher *stubDispatcher
		lg         *slog.Logger
	)

	seed := func(id string, outcome reconcile.Outcome) {
		payload := stripeEvent(id, reconcile.TypePaymentIntentSucceeded, map[string]interface{}{
			"id":              "pi_" + id,
			"object":          "payment_intent",
			"amount_received": 1000,
			"currency":        "usd",
		})
		Expect(events.Record(ctx, webhook.Entry{
			ProviderEventID: id,
			EventType:       reconcile.TypePaymentIntentSucceeded,
			Payload:         payload,
			Outcome:         string(outcome),
		})).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		events = newMemoryEventLog()
		dispatcher = &stubDispatcher{
			result:   reconcile.Result{Outcome: reconcile.OutcomeApplied},
			outcomes: map[string]reconcile.Outcome{},
		}
		lg = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	It("re-dispatches only unresolved and failed events", func() {
		seed("evt_a", reconcile.OutcomeUnresolved)
		seed("evt_b", reconcile.OutcomeApplied)
		seed("evt_c", reconcile.OutcomeFailed)
		seed("evt_d", reconcile.OutcomeIgnored)
		dispatcher.outcomes["evt_c"] = reconcile.OutcomeUnresolved

		summary, err := webhook.NewReplayer(events, dispatcher, 3, lg).Run(ctx, 0)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Total).To(Equal(2))
		Expect(summary.Outcomes).To(Equal(map[string]int{"applied": 1, "unresolved": 1}))
		Expect(dispatcher.calls()).To(Equal(2))

		Expect(events.get("evt_a").Outcome).To(Equal("applied"))
		Expect(events.get("evt_a").Attempts).To(Equal(2))
		Expect(events.get("evt_c").Outcome).To(Equal("unresolved"))
		Expect(events.get("evt_b").Attempts).To(Equal(1))
	})

	It("respects the limit", func() {
		for _, id := range []string{"evt_1", "evt_2", "evt_3", "evt_4"} {
			seed(id, reconcile.OutcomeUnresolved)
		}

		summary, err := webhook.NewReplayer(events, dispatcher, 2, lg).Run(ctx, 3)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Total).To(Equal(3))
		Expect(dispatcher.calls()).To(Equal(3))
	})

	It("marks undecodable payloads as failed", func() {
		Expect(events.Record(ctx, webhook.Entry{
			ProviderEventID: "evt_bad",
			EventType:       reconcile.TypeChargeSucceeded,
			Payload:         []byte("{broken"),
			Outcome:         string(reconcile.OutcomeFailed),
		})).To(Succeed())

		summary, err := webhook.NewReplayer(events, dispatcher, 1, lg).Run(ctx, 0)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Outcomes).To(Equal(map[string]int{"failed": 1}))
		Expect(dispatcher.calls()).To(BeZero())
	})

	It("does nothing when the log is clean", func() {
		seed("evt_ok", reconcile.OutcomeApplied)

		summary, err := webhook.NewReplayer(events, dispatcher, 0, lg).Run(ctx, 10)

		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Total).To(BeZero())
	})
})
