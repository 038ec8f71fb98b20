package validation_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	errors "github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/core/common/validation"
)

var _ = Describe("ValidationBuilder", func() {
	It("collects every failing field", func() {
		v := validation.NewValidator()
		v.Field("name", "").Required()
		v.Field("count", int64(0)).MinInt(1, errors.ErrCodeInvalidQuantity)
		v.Field("site", "ftp://example.com").AbsoluteURL()

		err := v.Validate()

		Expect(err).NotTo(BeNil())
		Expect(err.Type).To(Equal(errors.ErrorTypeValidation))
		details := err.Details.(errors.ValidationErrors)
		Expect(details.Errors).To(HaveLen(3))
		Expect(details.Errors[0].Field).To(Equal("name"))
		Expect(details.Errors[1].Code).To(Equal(string(errors.ErrCodeInvalidQuantity)))
		Expect(details.Errors[2].Code).To(Equal(string(errors.ErrCodeInvalidURL)))
	})

	It("passes valid input", func() {
		v := validation.NewValidator()
		v.Field("name", "checkout").Required().MaxLength(20)
		v.Field("site", "https://example.com/ok").AbsoluteURL()

		Expect(v.Validate()).To(BeNil())
	})

	It("treats empty strings as absent for URL checks", func() {
		v := validation.NewValidator()
		v.Field("cancel_url", "").MaxLength(2048).AbsoluteURL()

		Expect(v.Validate()).To(BeNil())
	})

	It("bounds integers on both sides", func() {
		v := validation.NewValidator()
		v.Field("quantity", int64(validation.MaxQuantity+1)).
			MinInt(1, errors.ErrCodeInvalidQuantity).
			MaxInt(validation.MaxQuantity, errors.ErrCodeInvalidQuantity)

		err := v.Validate()

		Expect(err).NotTo(BeNil())
		Expect(err.GetDetailedMessage()).To(Equal("quantity must not exceed 1000"))
	})
})
