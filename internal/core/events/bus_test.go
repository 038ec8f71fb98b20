package events_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/checkout-payments/internal/core/events"
)

var _ = Describe("EventBus", func() {
	var bus *events.EventBus

	BeforeEach(func() {
		bus = events.NewEventBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	})

	It("delivers asynchronously even after the publisher's context ends", func() {
		var got atomic.Int64
		bus.Subscribe(events.EventTypeOrderPaid, func(ctx context.Context, ev events.Event) error {
			time.Sleep(10 * time.Millisecond)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			got.Store(ev.(*events.OrderPaidEvent).OrderID)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		Expect(bus.Publish(ctx, events.NewOrderPaidEvent(9, 1, decimal.NewFromInt(50), "usd", "payment_intent.succeeded"))).To(Succeed())
		cancel()

		drainCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		Expect(bus.Drain(drainCtx)).To(Succeed())
		Expect(got.Load()).To(Equal(int64(9)))
	})

	It("ignores events nobody listens to", func() {
		Expect(bus.Publish(context.Background(), events.NewOrderCanceledEvent(1, 1, "PENDING", "declined"))).To(Succeed())
	})

	It("keeps delivering to other handlers when one fails", func() {
		var calls atomic.Int32
		bus.Subscribe(events.EventTypeOrderCanceled, func(context.Context, events.Event) error {
			calls.Add(1)
			return errors.New("mailer down")
		})
		bus.Subscribe(events.EventTypeOrderCanceled, func(context.Context, events.Event) error {
			calls.Add(1)
			return nil
		})

		Expect(bus.Publish(context.Background(), events.NewOrderCanceledEvent(3, 1, "PAID", "card declined"))).To(Succeed())

		drainCtx, stop := context.WithTimeout(context.Background(), time.Second)
		defer stop()
		Expect(bus.Drain(drainCtx)).To(Succeed())
		Expect(calls.Load()).To(Equal(int32(2)))
	})

	It("gives up draining when the deadline passes", func() {
		release := make(chan struct{})
		bus.Subscribe(events.EventTypeOrderPaid, func(context.Context, events.Event) error {
			<-release
			return nil
		})
		Expect(bus.Publish(context.Background(), events.NewOrderPaidEvent(1, 1, decimal.Zero, "usd", "test"))).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		Expect(bus.Drain(ctx)).To(MatchError(context.DeadlineExceeded))
		close(release)
	})

	It("describes events with their payload", func() {
		ev := events.NewOrderPaidEvent(4, 2, decimal.RequireFromString("12.50"), "eur", "checkout.session.completed")

		Expect(ev.EventType()).To(Equal(events.EventTypeOrderPaid))
		Expect(ev.EventID()).NotTo(BeEmpty())
		Expect(ev.Payload()).To(HaveKeyWithValue("amount", "12.5"))
	})
})
