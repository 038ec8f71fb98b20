package payment_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/checkout-payments/internal/payment"
)

var _ = Describe("minor units", func() {
	DescribeTable("ToMinorUnits",
		func(amount, currency string, want int64) {
			Expect(payment.ToMinorUnits(decimal.RequireFromString(amount), currency)).To(Equal(want))
		},
		Entry("two-decimal currency", "50.00", "usd", int64(5000)),
		Entry("upper-case currency code", "12.34", "EUR", int64(1234)),
		Entry("zero-decimal currency", "5000", "jpy", int64(5000)),
		Entry("rounds half away from zero", "0.125", "usd", int64(13)),
	)

	It("inverts AmountFromMinorUnits", func() {
		amount := payment.AmountFromMinorUnits(5000, "usd")

		Expect(amount.Equal(decimal.RequireFromString("50.00"))).To(BeTrue())
		Expect(payment.ToMinorUnits(amount, "usd")).To(Equal(int64(5000)))
	})
})

var _ = Describe("NewSucceeded", func() {
	It("keeps only the known charge refs", func() {
		p := payment.NewSucceeded(7, 42, decimal.RequireFromString("50.00"), "USD", payment.ChargeRef{ChargeID: "ch_1"})

		Expect(p.Status).To(Equal(payment.StatusSucceeded))
		Expect(p.Currency).To(Equal("usd"))
		Expect(*p.StripeChargeID).To(Equal("ch_1"))
		Expect(p.ReceiptURL).To(BeNil())
	})
})
