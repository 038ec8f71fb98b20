package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/checkout-payments/internal/auth"
	"github.com/frahmantamala/checkout-payments/internal/checkout"
	"github.com/frahmantamala/checkout-payments/internal/product"
	"github.com/frahmantamala/checkout-payments/internal/transport"
	"github.com/frahmantamala/checkout-payments/internal/transport/middleware"
	"github.com/frahmantamala/checkout-payments/internal/transport/swagger"
	"github.com/frahmantamala/checkout-payments/internal/user"
	"github.com/frahmantamala/checkout-payments/internal/webhook"
)

// Handlers groups everything the router mounts. Nil handlers are skipped.
type Handlers struct {
	Health   *HealthHandler
	Webhook  *webhook.Handler
	Auth     *auth.Handler
	Product  *product.Handler
	User     *user.Handler
	Checkout *checkout.Handler
}

// WebhookPath receives Stripe events. Its body is never buffered or logged.
const WebhookPath = "/api/v1/webhook"

type RouterConfig struct {
	AllowedOrigins string
	OpenAPISpec    []byte
	Tokens         middleware.TokenValidator
	Logger         *slog.Logger
}

func RegisterAllRoutes(router chi.Router, cfg RouterConfig, h Handlers) error {
	base := transport.NewBaseHandler(cfg.Logger)

	router.Use(middleware.CORS(cfg.AllowedOrigins))
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(base.Logger))
	router.Use(middleware.LoggingMiddleware(base.Logger, WebhookPath))

	contract := func(next http.Handler) http.Handler { return next }
	if len(cfg.OpenAPISpec) > 0 {
		validator, err := middleware.OpenAPIValidator(cfg.OpenAPISpec, base.Logger)
		if err != nil {
			return err
		}
		contract = validator

		router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(cfg.OpenAPISpec)
		})
		router.Handle("/swagger/*", swagger.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		if h.Health != nil {
			r.Get("/health", h.Health.Health)
			r.Get("/ping", h.Health.Ping)
		}

		// The webhook must see the body exactly as Stripe signed it, so it
		// stays outside the contract validator.
		if h.Webhook != nil {
			r.Post("/webhook", h.Webhook.HandleStripeWebhook)
		}

		if h.Auth != nil {
			r.Route("/auth", func(ar chi.Router) {
				ar.Post("/login", h.Auth.Login)
				ar.Post("/refresh", h.Auth.RefreshToken)
			})
		}

		if h.Product != nil {
			r.Get("/products", h.Product.GetProducts)
			r.Get("/products/{id}", h.Product.GetProduct)
		}

		if cfg.Tokens == nil {
			return
		}

		r.Group(func(pr chi.Router) {
			pr.Use(middleware.Authenticate(cfg.Tokens, base))

			if h.User != nil {
				pr.Get("/users/me", h.User.GetCurrentUser)
			}

			if h.Checkout != nil {
				pr.Route("/checkout", func(cr chi.Router) {
					cr.Use(contract)
					cr.Post("/", h.Checkout.CreateCheckout)
					cr.Get("/sessions/{id}", h.Checkout.GetCheckoutSession)
				})
			}
		})
	})

	return nil
}
