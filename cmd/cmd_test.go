package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/webhook"
)

const testConfig = `
http_server:
  port: 9090
  read_header_timeout: 5s
  read_timeout: 15s
database:
  source: postgres://localhost/checkout
  max_open_conns: 10
  max_idle_conns: 2
security:
  jwt_secret: secret
stripe:
  api_key: ""
  webhook_secret: whsec_file
reconcile:
  failure_overrides_paid: false
`

func setenv(key, value string) {
	old, had := os.LookupEnv(key)
	Expect(os.Setenv(key, value)).To(Succeed())
	DeferCleanup(func() {
		if had {
			_ = os.Setenv(key, old)
			return
		}
		_ = os.Unsetenv(key)
	})
}

var _ = Describe("loadConfig", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "config.yml"), []byte(testConfig), 0o600)).To(Succeed())
		setenv("APP_ENV", "")
		setenv("DOCKER_ENV", "")
	})

	It("reads config.yml from the given directory", func() {
		cfg, err := loadConfig(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Port).To(Equal(9090))
		Expect(cfg.Server.ReadTimeout).To(Equal(15 * time.Second))
		Expect(cfg.Stripe.WebhookSecret).To(Equal("whsec_file"))
		Expect(cfg.Reconcile.OverridePaidOnFailure()).To(BeFalse())
	})

	It("lets ENV_ variables override file values", func() {
		setenv("ENV_STRIPE_API_KEY", "sk_test_env")

		cfg, err := loadConfig(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Stripe.APIKey).To(Equal("sk_test_env"))
		Expect(cfg.Validate()).To(Succeed())
	})

	It("fails closed when a Stripe secret is missing", func() {
		cfg, err := loadConfig(dir)
		Expect(err).NotTo(HaveOccurred())

		err = cfg.Validate()
		Expect(err).To(HaveOccurred())
		Expect(internal.IsType(err, internal.ErrorTypeConfiguration)).To(BeTrue())
	})

	It("errors when no config file exists", func() {
		_, err := loadConfig(GinkgoT().TempDir())
		Expect(err).To(HaveOccurred())
	})

	It("uses plain environment variables in production", func() {
		setenv("APP_ENV", "production")
		setenv("STRIPE_API_KEY", "sk_test_prod")
		setenv("STRIPE_WEBHOOK_SECRET", "whsec_prod")
		setenv("PORT", "7070")

		cfg, err := loadConfig(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Server.Port).To(Equal(7070))
		Expect(cfg.Stripe.APIKey).To(Equal("sk_test_prod"))
		Expect(cfg.Reconcile.OverridePaidOnFailure()).To(BeTrue())
	})
})

var _ = Describe("writeOutcomeReport", func() {
	It("prints one row per type and outcome plus a total", func() {
		var buf bytes.Buffer
		writeOutcomeReport(&buf, []outcomeRow{
			{EventType: "checkout.session.completed", Outcome: "applied", Count: 3},
			{EventType: "payment_intent.succeeded", Outcome: "unresolved", Count: 2},
		})

		out := buf.String()
		Expect(out).To(ContainSubstring("EVENT TYPE"))
		Expect(out).To(MatchRegexp(`checkout\.session\.completed\s+applied\s+3`))
		Expect(out).To(MatchRegexp(`payment_intent\.succeeded\s+unresolved\s+2`))
		Expect(out).To(MatchRegexp(`\s5\n$`))
	})
})

var _ = Describe("writeEventEntry", func() {
	It("prints the outcome and the indented payload", func() {
		processed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		var buf bytes.Buffer
		writeEventEntry(&buf, &webhook.Entry{
			ProviderEventID: "evt_1",
			EventType:       "payment_intent.succeeded",
			Payload:         []byte(`{"id":"pi_1","amount":5000}`),
			Outcome:         "unresolved",
			ProcessingError: "no order for payment intent",
			Attempts:        2,
			ProcessedAt:     &processed,
		})

		out := buf.String()
		Expect(out).To(MatchRegexp(`EVENT ID\s+evt_1`))
		Expect(out).To(MatchRegexp(`OUTCOME\s+unresolved`))
		Expect(out).To(MatchRegexp(`ATTEMPTS\s+2`))
		Expect(out).To(ContainSubstring("2025-03-01T12:00:00Z"))
		Expect(out).To(ContainSubstring("no order for payment intent"))
		Expect(out).To(ContainSubstring("\n  \"amount\": 5000"))
	})

	It("falls back to the raw payload when it is not JSON", func() {
		var buf bytes.Buffer
		writeEventEntry(&buf, &webhook.Entry{ProviderEventID: "evt_2", Payload: []byte("not json")})

		Expect(buf.String()).To(ContainSubstring("not json"))
		Expect(buf.String()).NotTo(ContainSubstring("ERROR"))
	})
})
