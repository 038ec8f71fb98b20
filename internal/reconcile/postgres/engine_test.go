package postgres_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/core/events"
	"github.com/frahmantamala/checkout-payments/internal/order"
	orderPostgres "github.com/frahmantamala/checkout-payments/internal/order/postgres"
	"github.com/frahmantamala/checkout-payments/internal/payment"
	paymentPostgres "github.com/frahmantamala/checkout-payments/internal/payment/postgres"
	"github.com/frahmantamala/checkout-payments/internal/reconcile"
	"github.com/frahmantamala/checkout-payments/internal/reconcile/postgres"
)

type fakeCharges struct {
	mu      sync.Mutex
	charges map[string]*reconcile.Charge
	err     error
	calls   int
}

func (f *fakeCharges) LatestCharge(_ context.Context, paymentIntentID string) (*reconcile.Charge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.charges[paymentIntentID], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType())
	}
	return out
}

func checkoutCompleted(eventID string, orderID string, paymentIntent string, amount int64) reconcile.Event {
	raw, err := json.Marshal(map[string]interface{}{
		"id":                   "cs_test_" + eventID,
		"object":               "checkout.session",
		"metadata":             map[string]string{"orderId": orderID},
		"payment_intent":       paymentIntent,
		"amount_total":         amount,
		"currency":             "usd",
		"payment_method_types": []string{"card"},
	})
	Expect(err).NotTo(HaveOccurred())
	return reconcile.Decode(eventID, reconcile.TypeCheckoutSessionCompleted, raw)
}

func paymentIntentEvent(eventID, eventType, paymentIntent string, amount int64) reconcile.Event {
	raw, err := json.Marshal(map[string]interface{}{
		"id":              paymentIntent,
		"object":          "payment_intent",
		"amount":          amount,
		"amount_received": amount,
		"currency":        "usd",
	})
	Expect(err).NotTo(HaveOccurred())
	return reconcile.Decode(eventID, eventType, raw)
}

func chargeSucceeded(eventID, chargeID, paymentIntent, receiptURL string) reconcile.Event {
	body := map[string]interface{}{
		"id":          chargeID,
		"object":      "charge",
		"receipt_url": receiptURL,
	}
	if paymentIntent != "" {
		body["payment_intent"] = paymentIntent
	}
	raw, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	return reconcile.Decode(eventID, reconcile.TypeChargeSucceeded, raw)
}

// raceHooks lets a competing writer slip in right before the engine's first
// compare-and-set on an order, inside the engine's own transaction.
type raceHooks struct {
	beforePaid       func(ctx context.Context, tx reconcile.Store, id int64)
	beforeCanceled   func(ctx context.Context, tx reconcile.Store, id int64)
	alwaysLosePaid   bool
	paidAttempts     int
	canceledAttempts int
}

type racingStore struct {
	reconcile.Store
	hooks *raceHooks
}

func (s racingStore) Transaction(ctx context.Context, fn func(tx reconcile.Store) error) error {
	return s.Store.Transaction(ctx, func(tx reconcile.Store) error {
		return fn(racingStore{Store: tx, hooks: s.hooks})
	})
}

func (s racingStore) MarkOrderPaid(ctx context.Context, id int64, upd order.PaidUpdate) (bool, error) {
	s.hooks.paidAttempts++
	if s.hooks.alwaysLosePaid {
		return false, nil
	}
	if s.hooks.paidAttempts == 1 && s.hooks.beforePaid != nil {
		s.hooks.beforePaid(ctx, s.Store, id)
	}
	return s.Store.MarkOrderPaid(ctx, id, upd)
}

func (s racingStore) MarkOrderCanceled(ctx context.Context, id int64, from ...order.Status) (bool, error) {
	s.hooks.canceledAttempts++
	if s.hooks.canceledAttempts == 1 && s.hooks.beforeCanceled != nil {
		s.hooks.beforeCanceled(ctx, s.Store, id)
	}
	return s.Store.MarkOrderCanceled(ctx, id, from...)
}

// receiptAtPublish records the stored receipt link at the moment order.paid goes out.
type receiptAtPublish struct {
	payments *paymentPostgres.PaymentRepository
	seen     []string
}

func (r *receiptAtPublish) Publish(ctx context.Context, ev events.Event) error {
	paid, ok := ev.(*events.OrderPaidEvent)
	if !ok {
		return nil
	}
	p, err := r.payments.GetByOrderID(ctx, paid.OrderID)
	if err != nil {
		return err
	}
	link := ""
	if p.ReceiptURL != nil {
		link = *p.ReceiptURL
	}
	r.seen = append(r.seen, link)
	return nil
}

var _ = Describe("Reconciliation engine", func() {
	var (
		ctx       context.Context
		db        *gorm.DB
		orders    *orderPostgres.OrderRepository
		payments  *paymentPostgres.PaymentRepository
		charges   *fakeCharges
		publisher *recordingPublisher
		stats     *reconcile.Stats
		policy    reconcile.FailurePolicy
		engine    *reconcile.Engine
	)

	newEngine := func() *reconcile.Engine {
		return reconcile.NewEngine(postgres.NewStore(db), charges,
			reconcile.WithFailurePolicy(policy),
			reconcile.WithStats(stats),
			reconcile.WithPublisher(publisher),
			reconcile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)
	}

	createOrder := func(id int64, paymentIntent string) *order.Order {
		o := order.NewPendingOrder(42, 3, 1, decimal.RequireFromString("50.00"), "usd")
		o.ID = id
		if paymentIntent != "" {
			o.StripePaymentIntentID = &paymentIntent
		}
		Expect(orders.Create(ctx, o)).To(Succeed())
		return o
	}

	reload := func(id int64) *order.Order {
		o, err := orders.GetByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	paymentCount := func() int64 {
		var n int64
		Expect(db.Table("payments").Count(&n).Error).To(Succeed())
		return n
	}

	dispatch := func(ev reconcile.Event) reconcile.Result {
		res, err := engine.Dispatch(ctx, ev)
		Expect(err).NotTo(HaveOccurred())
		return res
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = openTestDB()
		orders = orderPostgres.NewOrderRepository(db)
		payments = paymentPostgres.NewPaymentRepository(db)
		charges = &fakeCharges{charges: map[string]*reconcile.Charge{
			"pi_1": {ID: "ch_1", ReceiptURL: "https://pay.stripe.com/receipts/ch_1"},
		}}
		publisher = &recordingPublisher{}
		stats = reconcile.NewStats()
		policy = reconcile.DefaultFailurePolicy()
		engine = newEngine()
	})

	Describe("checkout.session.completed", func() {
		It("marks the order paid and records the payment in major units", func() {
			createOrder(7, "")

			res := dispatch(checkoutCompleted("evt_1", "7", "pi_1", 5000))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeApplied))
			Expect(res.OrderID).To(Equal(int64(7)))

			o := reload(7)
			Expect(o.Status).To(Equal(order.StatusPaid))
			Expect(o.PaidAt).NotTo(BeNil())
			Expect(*o.StripePaymentIntentID).To(Equal("pi_1"))
			Expect(*o.PaymentMethod).To(Equal("card"))

			p, err := payments.GetByOrderID(ctx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(payment.StatusSucceeded))
			Expect(p.Amount.Equal(decimal.RequireFromString("50.00"))).To(BeTrue())
			Expect(p.UserID).To(Equal(int64(42)))
			Expect(*p.StripeChargeID).To(Equal("ch_1"))
			Expect(*p.ReceiptURL).To(Equal("https://pay.stripe.com/receipts/ch_1"))

			Expect(publisher.types()).To(Equal([]string{events.EventTypeOrderPaid}))
		})

		It("does nothing new when the same event is redelivered", func() {
			createOrder(7, "")
			dispatch(checkoutCompleted("evt_1", "7", "pi_1", 5000))
			first := reload(7)

			res := dispatch(checkoutCompleted("evt_1", "7", "pi_1", 5000))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeSkipped))
			Expect(paymentCount()).To(Equal(int64(1)))
			again := reload(7)
			Expect(again.Status).To(Equal(order.StatusPaid))
			Expect(again.PaidAt.Equal(*first.PaidAt)).To(BeTrue())
			Expect(publisher.types()).To(HaveLen(1))
		})

		It("treats a session without an order reference as unresolved", func() {
			res := dispatch(checkoutCompleted("evt_1", "", "pi_1", 5000))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeUnresolved))
			Expect(stats.Unresolved()).To(Equal(int64(1)))
			Expect(paymentCount()).To(BeZero())
		})

		It("treats an unknown order as unresolved", func() {
			res := dispatch(checkoutCompleted("evt_1", "999", "pi_1", 5000))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeUnresolved))
			Expect(paymentCount()).To(BeZero())
		})

		It("still applies when the charge lookup fails", func() {
			createOrder(7, "")
			charges.err = errors.New("stripe unreachable")

			res := dispatch(checkoutCompleted("evt_1", "7", "pi_1", 5000))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeApplied))
			p, err := payments.GetByOrderID(ctx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.StripeChargeID).To(BeNil())
			Expect(p.ReceiptURL).To(BeNil())
		})
	})

	Describe("payment_intent.succeeded", func() {
		It("is idempotent", func() {
			createOrder(7, "pi_1")

			first := dispatch(paymentIntentEvent("evt_1", reconcile.TypePaymentIntentSucceeded, "pi_1", 5000))
			afterFirst := reload(7)
			second := dispatch(paymentIntentEvent("evt_1", reconcile.TypePaymentIntentSucceeded, "pi_1", 5000))
			afterSecond := reload(7)

			Expect(first.Outcome).To(Equal(reconcile.OutcomeApplied))
			Expect(second.Outcome).To(Equal(reconcile.OutcomeSkipped))
			Expect(afterSecond.Status).To(Equal(afterFirst.Status))
			Expect(afterSecond.PaidAt.Equal(*afterFirst.PaidAt)).To(BeTrue())
			Expect(paymentCount()).To(Equal(int64(1)))

			p, err := payments.GetByOrderID(ctx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Amount.Equal(decimal.RequireFromString("50"))).To(BeTrue())
			Expect(*p.StripeChargeID).To(Equal("ch_1"))
		})

		It("is unresolved for an unknown payment intent", func() {
			res := dispatch(paymentIntentEvent("evt_1", reconcile.TypePaymentIntentSucceeded, "pi_nope", 5000))
			Expect(res.Outcome).To(Equal(reconcile.OutcomeUnresolved))
			Expect(charges.calls).To(BeZero())
		})

		It("converges when many deliveries race for one order", func() {
			createOrder(7, "pi_1")

			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				outcomes []reconcile.Outcome
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					res, err := engine.Dispatch(ctx, paymentIntentEvent("evt_1", reconcile.TypePaymentIntentSucceeded, "pi_1", 5000))
					Expect(err).NotTo(HaveOccurred())
					mu.Lock()
					outcomes = append(outcomes, res.Outcome)
					mu.Unlock()
				}()
			}
			wg.Wait()

			Expect(outcomes).To(HaveLen(8))
			applied := 0
			for _, o := range outcomes {
				if o == reconcile.OutcomeApplied {
					applied++
				}
			}
			Expect(applied).To(Equal(1))
			Expect(paymentCount()).To(Equal(int64(1)))
			Expect(reload(7).Status).To(Equal(order.StatusPaid))
		})
	})

	Describe("success signal ordering", func() {
		type terminal struct {
			OrderStatus   order.Status
			PaymentStatus payment.Status
			Amount        string
			ChargeID      string
			ReceiptURL    string
			Payments      int64
		}

		snapshot := func(id int64) terminal {
			p, err := payments.GetByOrderID(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			t := terminal{
				OrderStatus:   reload(id).Status,
				PaymentStatus: p.Status,
				Amount:        p.Amount.StringFixed(2),
				Payments:      paymentCount(),
			}
			if p.StripeChargeID != nil {
				t.ChargeID = *p.StripeChargeID
			}
			if p.ReceiptURL != nil {
				t.ReceiptURL = *p.ReceiptURL
			}
			return t
		}

		It("reaches the same state in either order", func() {
			createOrder(7, "pi_1")
			dispatch(checkoutCompleted("evt_cs", "7", "pi_1", 5000))
			dispatch(paymentIntentEvent("evt_pi", reconcile.TypePaymentIntentSucceeded, "pi_1", 5000))
			forward := snapshot(7)

			db = openTestDB()
			orders = orderPostgres.NewOrderRepository(db)
			payments = paymentPostgres.NewPaymentRepository(db)
			engine = newEngine()

			createOrder(7, "pi_1")
			dispatch(paymentIntentEvent("evt_pi", reconcile.TypePaymentIntentSucceeded, "pi_1", 5000))
			dispatch(checkoutCompleted("evt_cs", "7", "pi_1", 5000))
			reverse := snapshot(7)

			Expect(reverse).To(Equal(forward))
			Expect(forward.OrderStatus).To(Equal(order.StatusPaid))
			Expect(forward.Amount).To(Equal("50.00"))
			Expect(forward.Payments).To(Equal(int64(1)))
		})
	})

	Describe("payment_intent.payment_failed", func() {
		It("cancels a pending order without creating a payment", func() {
			createOrder(7, "pi_1")

			res := dispatch(paymentIntentEvent("evt_f", reconcile.TypePaymentIntentFailed, "pi_1", 5000))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeApplied))
			Expect(reload(7).Status).To(Equal(order.StatusCanceled))
			Expect(paymentCount()).To(BeZero())
			Expect(publisher.types()).To(Equal([]string{events.EventTypeOrderCanceled}))
		})

		It("never lets a later success resurrect a canceled order", func() {
			createOrder(7, "pi_1")
			dispatch(paymentIntentEvent("evt_f", reconcile.TypePaymentIntentFailed, "pi_1", 5000))

			cs := dispatch(checkoutCompleted("evt_cs", "7", "pi_1", 5000))
			ps := dispatch(paymentIntentEvent("evt_pi", reconcile.TypePaymentIntentSucceeded, "pi_1", 5000))

			Expect(cs.Outcome).To(Equal(reconcile.OutcomeSkipped))
			Expect(ps.Outcome).To(Equal(reconcile.OutcomeSkipped))
			Expect(reload(7).Status).To(Equal(order.StatusCanceled))
			Expect(paymentCount()).To(BeZero())
		})

		Context("when the order is already paid", func() {
			BeforeEach(func() {
				createOrder(7, "")
				dispatch(checkoutCompleted("evt_cs", "7", "pi_1", 5000))
			})

			It("cancels it and fails the payment under the default policy", func() {
				res := dispatch(paymentIntentEvent("evt_f", reconcile.TypePaymentIntentFailed, "pi_1", 5000))

				Expect(res.Outcome).To(Equal(reconcile.OutcomeApplied))
				Expect(reload(7).Status).To(Equal(order.StatusCanceled))
				p, err := payments.GetByOrderID(ctx, 7)
				Expect(err).NotTo(HaveOccurred())
				Expect(p.Status).To(Equal(payment.StatusFailed))
			})

			It("keeps it paid when the policy forbids overriding", func() {
				policy = reconcile.FailurePolicy{OverridePaid: false}
				engine = newEngine()

				res := dispatch(paymentIntentEvent("evt_f", reconcile.TypePaymentIntentFailed, "pi_1", 5000))

				Expect(res.Outcome).To(Equal(reconcile.OutcomeSkipped))
				Expect(reload(7).Status).To(Equal(order.StatusPaid))
				p, err := payments.GetByOrderID(ctx, 7)
				Expect(err).NotTo(HaveOccurred())
				Expect(p.Status).To(Equal(payment.StatusSucceeded))
			})
		})

		It("is unresolved for an unknown payment intent", func() {
			res := dispatch(paymentIntentEvent("evt_f", reconcile.TypePaymentIntentFailed, "pi_nope", 5000))
			Expect(res.Outcome).To(Equal(reconcile.OutcomeUnresolved))
		})
	})

	Describe("charge.succeeded", func() {
		It("acknowledges a charge for an unknown payment intent without changes", func() {
			createOrder(7, "pi_1")

			res := dispatch(chargeSucceeded("evt_ch", "ch_x", "pi_unknown", "https://receipt"))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeUnresolved))
			Expect(reload(7).Status).To(Equal(order.StatusPending))
			Expect(paymentCount()).To(BeZero())
		})

		It("skips a charge without payment intent", func() {
			res := dispatch(chargeSucceeded("evt_ch", "ch_x", "", "https://receipt"))
			Expect(res.Outcome).To(Equal(reconcile.OutcomeSkipped))
		})

		It("enriches the order's payment when the charge id is not yet known", func() {
			createOrder(7, "pi_2")
			dispatch(paymentIntentEvent("evt_pi", reconcile.TypePaymentIntentSucceeded, "pi_2", 5000))

			res := dispatch(chargeSucceeded("evt_ch", "ch_2", "pi_2", "https://pay.stripe.com/receipts/ch_2"))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeApplied))
			p, err := payments.GetByOrderID(ctx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(*p.StripeChargeID).To(Equal("ch_2"))
			Expect(*p.ReceiptURL).To(Equal("https://pay.stripe.com/receipts/ch_2"))
		})

		It("never creates a payment", func() {
			createOrder(7, "pi_1")

			res := dispatch(chargeSucceeded("evt_ch", "ch_1", "pi_1", "https://receipt"))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeSkipped))
			Expect(paymentCount()).To(BeZero())
		})
	})

	Describe("enrichment", func() {
		It("never clears a receipt that is already stored", func() {
			createOrder(7, "")
			dispatch(checkoutCompleted("evt_cs", "7", "pi_1", 5000))

			charges.charges["pi_1"] = &reconcile.Charge{ID: "ch_1"}
			dispatch(chargeSucceeded("evt_ch", "ch_1", "pi_1", ""))
			dispatch(paymentIntentEvent("evt_pi", reconcile.TypePaymentIntentSucceeded, "pi_1", 5000))

			p, err := payments.GetByOrderID(ctx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(*p.StripeChargeID).To(Equal("ch_1"))
			Expect(*p.ReceiptURL).To(Equal("https://pay.stripe.com/receipts/ch_1"))
		})
	})

	Describe("order.paid publication", func() {
		It("goes out after the receipt link is stored", func() {
			createOrder(7, "")
			pub := &receiptAtPublish{payments: payments}
			engine = reconcile.NewEngine(postgres.NewStore(db), charges,
				reconcile.WithPublisher(pub),
				reconcile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			)

			dispatch(checkoutCompleted("evt_1", "7", "pi_1", 5000))

			Expect(pub.seen).To(Equal([]string{"https://pay.stripe.com/receipts/ch_1"}))
		})
	})

	Describe("settled amount", func() {
		var logs bytes.Buffer

		BeforeEach(func() {
			logs.Reset()
			engine = reconcile.NewEngine(postgres.NewStore(db), charges,
				reconcile.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
			)
		})

		It("warns when the processor settled a different amount", func() {
			createOrder(7, "pi_1")

			res := dispatch(paymentIntentEvent("evt_pi", reconcile.TypePaymentIntentSucceeded, "pi_1", 4000))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeApplied))
			Expect(logs.String()).To(ContainSubstring("settled amount differs from order total"))
			Expect(logs.String()).To(ContainSubstring("expected_minor=5000"))
			p, err := payments.GetByOrderID(ctx, 7)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Amount.Equal(decimal.RequireFromString("40.00"))).To(BeTrue())
		})

		It("stays quiet when the amounts match", func() {
			createOrder(7, "")

			dispatch(checkoutCompleted("evt_1", "7", "pi_1", 5000))

			Expect(logs.String()).NotTo(ContainSubstring("settled amount differs"))
		})
	})

	Describe("unrecognized events", func() {
		It("are ignored and counted", func() {
			res := dispatch(reconcile.Decode("evt_x", "customer.created", json.RawMessage(`{"id":"cus_1"}`)))

			Expect(res.Outcome).To(Equal(reconcile.OutcomeIgnored))
			Expect(stats.Snapshot()).To(HaveKeyWithValue("ignored", int64(1)))
		})
	})

	Describe("storage errors", func() {
		It("surfaces them to the caller and counts a failure", func() {
			createOrder(7, "pi_1")
			sqlDB, err := db.DB()
			Expect(err).NotTo(HaveOccurred())
			Expect(sqlDB.Close()).To(Succeed())

			_, err = engine.Dispatch(ctx, paymentIntentEvent("evt_pi", reconcile.TypePaymentIntentSucceeded, "pi_1", 5000))

			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, internal.ErrOrderNotFound)).To(BeFalse())
			Expect(stats.Snapshot()).To(HaveKeyWithValue("failed", int64(1)))
		})
	})
})

var _ = Describe("Reconciliation engine under contention", func() {
	var (
		ctx       context.Context
		db        *gorm.DB
		orders    *orderPostgres.OrderRepository
		hooks     *raceHooks
		publisher *recordingPublisher
	)

	newEngine := func(policy reconcile.FailurePolicy) *reconcile.Engine {
		return reconcile.NewEngine(racingStore{Store: postgres.NewStore(db), hooks: hooks}, &fakeCharges{},
			reconcile.WithFailurePolicy(policy),
			reconcile.WithPublisher(publisher),
			reconcile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)
	}

	createOrder := func(id int64, paymentIntent string) {
		o := order.NewPendingOrder(42, 3, 1, decimal.RequireFromString("50.00"), "usd")
		o.ID = id
		if paymentIntent != "" {
			o.StripePaymentIntentID = &paymentIntent
		}
		Expect(orders.Create(ctx, o)).To(Succeed())
	}

	status := func(id int64) order.Status {
		o, err := orders.GetByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return o.Status
	}

	paymentCount := func() int64 {
		var n int64
		Expect(db.Table("payments").Count(&n).Error).To(Succeed())
		return n
	}

	cancelFirst := func(ctx context.Context, tx reconcile.Store, id int64) {
		won, err := tx.MarkOrderCanceled(ctx, id, order.StatusPending)
		Expect(err).NotTo(HaveOccurred())
		Expect(won).To(BeTrue())
	}

	payFirst := func(ctx context.Context, tx reconcile.Store, id int64) {
		won, err := tx.MarkOrderPaid(ctx, id, order.PaidUpdate{PaidAt: time.Now()})
		Expect(err).NotTo(HaveOccurred())
		Expect(won).To(BeTrue())
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = openTestDB()
		orders = orderPostgres.NewOrderRepository(db)
		hooks = &raceHooks{}
		publisher = &recordingPublisher{}
	})

	Context("when a cancellation wins the paid transition", func() {
		BeforeEach(func() {
			hooks.beforePaid = cancelFirst
		})

		It("re-reads and skips a payment_intent.succeeded", func() {
			createOrder(7, "pi_1")

			res, err := newEngine(reconcile.DefaultFailurePolicy()).Dispatch(ctx,
				paymentIntentEvent("evt_pi", reconcile.TypePaymentIntentSucceeded, "pi_1", 5000))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(reconcile.OutcomeSkipped))
			Expect(res.Reason).To(Equal("order already CANCELED"))
			Expect(hooks.paidAttempts).To(Equal(1))
			Expect(status(7)).To(Equal(order.StatusCanceled))
			Expect(paymentCount()).To(BeZero())
			Expect(publisher.types()).To(BeEmpty())
		})

		It("re-reads and skips a checkout.session.completed", func() {
			createOrder(7, "")

			res, err := newEngine(reconcile.DefaultFailurePolicy()).Dispatch(ctx,
				checkoutCompleted("evt_cs", "7", "pi_1", 5000))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(reconcile.OutcomeSkipped))
			Expect(status(7)).To(Equal(order.StatusCanceled))
			Expect(paymentCount()).To(BeZero())
			Expect(publisher.types()).To(BeEmpty())
		})
	})

	Context("when a payment wins the cancel transition", func() {
		BeforeEach(func() {
			hooks.beforeCanceled = payFirst
		})

		It("keeps the order paid when the policy forbids overriding", func() {
			createOrder(7, "pi_1")

			res, err := newEngine(reconcile.FailurePolicy{OverridePaid: false}).Dispatch(ctx,
				paymentIntentEvent("evt_fail", reconcile.TypePaymentIntentFailed, "pi_1", 5000))

			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(reconcile.OutcomeSkipped))
			Expect(res.Reason).To(ContainSubstring("failure policy keeps it"))
			Expect(hooks.canceledAttempts).To(Equal(1))
			Expect(status(7)).To(Equal(order.StatusPaid))
			Expect(publisher.types()).To(BeEmpty())
		})
	})

	It("skips a failure that loses to another cancellation", func() {
		hooks.beforeCanceled = cancelFirst
		createOrder(7, "pi_1")

		res, err := newEngine(reconcile.DefaultFailurePolicy()).Dispatch(ctx,
			paymentIntentEvent("evt_fail", reconcile.TypePaymentIntentFailed, "pi_1", 5000))

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(reconcile.OutcomeSkipped))
		Expect(res.Reason).To(Equal("order already CANCELED"))
		Expect(publisher.types()).To(BeEmpty())
	})

	It("gives up with a conflict after repeated lost transitions", func() {
		hooks.alwaysLosePaid = true
		createOrder(7, "pi_1")

		res, err := newEngine(reconcile.DefaultFailurePolicy()).Dispatch(ctx,
			paymentIntentEvent("evt_pi", reconcile.TypePaymentIntentSucceeded, "pi_1", 5000))

		Expect(err).To(HaveOccurred())
		Expect(internal.IsType(err, internal.ErrorTypeConflict)).To(BeTrue())
		Expect(res.Outcome).To(Equal(reconcile.OutcomeFailed))
		Expect(hooks.paidAttempts).To(Equal(3))
		Expect(status(7)).To(Equal(order.StatusPending))
		Expect(paymentCount()).To(BeZero())
	})
})
