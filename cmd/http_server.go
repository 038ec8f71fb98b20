package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/checkout-payments/api"
	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/auth"
	"github.com/frahmantamala/checkout-payments/internal/checkout"
	"github.com/frahmantamala/checkout-payments/internal/core/events"
	orderPostgres "github.com/frahmantamala/checkout-payments/internal/order/postgres"
	"github.com/frahmantamala/checkout-payments/internal/product"
	productPostgres "github.com/frahmantamala/checkout-payments/internal/product/postgres"
	"github.com/frahmantamala/checkout-payments/internal/transport"
	"github.com/frahmantamala/checkout-payments/internal/transport/rest"
	"github.com/frahmantamala/checkout-payments/internal/user"
	userPostgres "github.com/frahmantamala/checkout-payments/internal/user/postgres"
	"github.com/frahmantamala/checkout-payments/internal/webhook"
	webhookPostgres "github.com/frahmantamala/checkout-payments/internal/webhook/postgres"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server for checkout requests and Stripe webhooks`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config *internal.Config
	DB     *sqlx.DB
	Bus    *events.EventBus
	Router *chi.Mux
	Logger *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		// receipts already handed to the bus still get sent
		if err := deps.Bus.Drain(ctx); err != nil {
			deps.Logger.Warn("Event handlers did not finish before shutdown", "error", err)
		}
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("Database close error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// no Stripe secrets, no traffic
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	lg := configureLogger(config)

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	userRepo := userPostgres.NewUserRepository(gdb)
	productRepo := productPostgres.NewProductRepository(gdb)
	orderRepo := orderPostgres.NewOrderRepository(gdb)
	eventLog := webhookPostgres.NewEventLogRepository(gdb)

	gateway := newGateway(config, lg)
	verifier, err := webhook.NewVerifier(config.Stripe.WebhookSecret)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	bus := events.NewEventBus(lg)
	engine := newEngine(config, gdb, gateway, bus, lg)

	registerReceipts(config, gdb, bus, lg)

	authService := auth.NewService(userRepo, auth.NewJWTTokenGenerator(config.Security.JWTSecret))
	checkoutService := checkout.NewService(productRepo, userRepo, orderRepo, gateway, checkout.URLs{
		Success: config.Stripe.SuccessURLOrDefault(),
		Cancel:  config.Stripe.CancelURLOrDefault(),
	}, lg)

	base := transport.NewBaseHandler(lg)
	router := chi.NewRouter()
	err = rest.RegisterAllRoutes(router, rest.RouterConfig{
		AllowedOrigins: config.Server.AllowedOrigins,
		OpenAPISpec:    api.OpenAPISpec,
		Tokens:         authService,
		Logger:         lg,
	}, rest.Handlers{
		Health:   rest.NewHealthHandler(base, db, engine.Stats()),
		Webhook:  webhook.NewHandler(base, verifier, engine, eventLog),
		Auth:     auth.NewHandler(base, authService),
		Product:  product.NewHandler(base, product.NewService(productRepo, lg)),
		User:     user.NewHandler(user.NewService(userRepo)),
		Checkout: checkout.NewHandler(base, checkoutService),
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to register routes: %w", err)
	}

	return &Dependencies{
		Config: config,
		DB:     db,
		Bus:    bus,
		Router: router,
		Logger: lg,
	}, nil
}
