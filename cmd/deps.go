package cmd

import (
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/core/events"
	"github.com/frahmantamala/checkout-payments/internal/notification"
	paymentPostgres "github.com/frahmantamala/checkout-payments/internal/payment/postgres"
	"github.com/frahmantamala/checkout-payments/internal/paymentgateway"
	"github.com/frahmantamala/checkout-payments/internal/reconcile"
	reconcilePostgres "github.com/frahmantamala/checkout-payments/internal/reconcile/postgres"
	userPostgres "github.com/frahmantamala/checkout-payments/internal/user/postgres"
	"github.com/frahmantamala/checkout-payments/pkg/logger"
)

// initDB opens the shared connection pool.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm layers gorm over the same pool so both share connection limits.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm: %w", err)
	}
	return gdb, nil
}

func configureLogger(cfg *internal.Config) *slog.Logger {
	return logger.Configure(logger.Options{
		Env:    os.Getenv("APP_ENV"),
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
}

func newGateway(cfg *internal.Config, lg *slog.Logger) *paymentgateway.Client {
	return paymentgateway.NewClient(paymentgateway.Config{APIKey: cfg.Stripe.APIKey}, lg)
}

func newEngine(cfg *internal.Config, gdb *gorm.DB, charges reconcile.ChargeLookup, bus *events.EventBus, lg *slog.Logger) *reconcile.Engine {
	return reconcile.NewEngine(
		reconcilePostgres.NewStore(gdb),
		charges,
		reconcile.WithFailurePolicy(reconcile.FailurePolicy{OverridePaid: cfg.Reconcile.OverridePaidOnFailure()}),
		reconcile.WithStats(reconcile.NewStats()),
		reconcile.WithPublisher(bus),
		reconcile.WithLogger(lg),
	)
}

// newMailer falls back to logging receipts when SendGrid is not configured.
func newMailer(cfg *internal.Config, lg *slog.Logger) notification.Mailer {
	if cfg.Notification.SendGridAPIKey == "" {
		return notification.NewLogMailer(lg)
	}
	return notification.NewSendGridMailer(notification.SendGridConfig{
		APIKey:    cfg.Notification.SendGridAPIKey,
		FromEmail: cfg.Notification.FromEmail,
		FromName:  cfg.Notification.FromName,
	}, lg)
}

func registerReceipts(cfg *internal.Config, gdb *gorm.DB, bus *events.EventBus, lg *slog.Logger) {
	notifier := notification.NewReceiptNotifier(
		userPostgres.NewUserRepository(gdb),
		paymentPostgres.NewPaymentRepository(gdb),
		newMailer(cfg, lg),
		lg,
	)
	notifier.Register(bus)
}
