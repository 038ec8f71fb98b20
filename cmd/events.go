package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/checkout-payments/internal"
	"github.com/frahmantamala/checkout-payments/internal/core/events"
	"github.com/frahmantamala/checkout-payments/internal/webhook"
	webhookPostgres "github.com/frahmantamala/checkout-payments/internal/webhook/postgres"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and replay recorded webhook events",
}

var eventsReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Count recorded webhook events by type and outcome",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		rows, err := outcomeReport(cmd.Context(), db)
		if err != nil {
			log.Fatalf("failed to build report: %v", err)
		}
		writeOutcomeReport(os.Stdout, rows)
	},
}

var eventsShowCmd = &cobra.Command{
	Use:   "show <event-id>",
	Short: "Print one recorded webhook event with its last outcome",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()
		gdb, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		entry, err := webhookPostgres.NewEventLogRepository(gdb).GetByProviderEventID(cmd.Context(), args[0])
		if errors.Is(err, internal.ErrEventNotFound) {
			log.Fatalf("event %s was never recorded", args[0])
		}
		if err != nil {
			log.Fatalf("failed to load event: %v", err)
		}
		writeEventEntry(os.Stdout, entry)
	},
}

var replayLimit int

var eventsReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-dispatch unresolved and failed webhook events",
	Long: `Re-dispatch recorded events whose last outcome was unresolved or failed.
Useful after an order row that arrived late, or after a storage outage.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		if err := cfg.Stripe.Validate(); err != nil {
			log.Fatalf("invalid config: %v", err)
		}
		lg := configureLogger(cfg)

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()
		gdb, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		bus := events.NewEventBus(lg)
		registerReceipts(cfg, gdb, bus, lg)
		engine := newEngine(cfg, gdb, newGateway(cfg, lg), bus, lg)
		replayer := webhook.NewReplayer(webhookPostgres.NewEventLogRepository(gdb), engine, cfg.Reconcile.Workers(), lg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		summary, err := replayer.Run(ctx, replayLimit)
		if err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := bus.Drain(drainCtx); err != nil {
			lg.Warn("receipt handlers did not finish", "error", err)
		}
		fmt.Printf("replayed %d events\n", summary.Total)
		for outcome, n := range summary.Outcomes {
			fmt.Printf("  %-10s %d\n", outcome, n)
		}
	},
}

type outcomeRow struct {
	EventType string `db:"event_type"`
	Outcome   string `db:"outcome"`
	Count     int64  `db:"count"`
}

func outcomeReport(ctx context.Context, db *sqlx.DB) ([]outcomeRow, error) {
	var rows []outcomeRow
	err := db.SelectContext(ctx, &rows, `
		SELECT event_type, outcome, COUNT(*) AS count
		FROM webhook_events
		GROUP BY event_type, outcome
		ORDER BY event_type, outcome`)
	return rows, err
}

func writeOutcomeReport(out io.Writer, rows []outcomeRow) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT TYPE\tOUTCOME\tCOUNT")
	var total int64
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", r.EventType, r.Outcome, r.Count)
		total += r.Count
	}
	fmt.Fprintf(tw, "\t\t%d\n", total)
	tw.Flush()
}

func writeEventEntry(out io.Writer, e *webhook.Entry) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "EVENT ID\t%s\n", e.ProviderEventID)
	fmt.Fprintf(tw, "TYPE\t%s\n", e.EventType)
	fmt.Fprintf(tw, "OUTCOME\t%s\n", e.Outcome)
	fmt.Fprintf(tw, "ATTEMPTS\t%d\n", e.Attempts)
	if e.ProcessedAt != nil {
		fmt.Fprintf(tw, "PROCESSED AT\t%s\n", e.ProcessedAt.UTC().Format(time.RFC3339))
	}
	if e.ProcessingError != "" {
		fmt.Fprintf(tw, "ERROR\t%s\n", e.ProcessingError)
	}
	tw.Flush()

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, e.Payload, "", "  "); err != nil {
		fmt.Fprintf(out, "\n%s\n", e.Payload)
		return
	}
	fmt.Fprintf(out, "\n%s\n", pretty.String())
}

func init() {
	eventsReplayCmd.Flags().IntVar(&replayLimit, "limit", 500, "maximum number of events to replay")

	eventsCmd.AddCommand(eventsReportCmd)
	eventsCmd.AddCommand(eventsShowCmd)
	eventsCmd.AddCommand(eventsReplayCmd)
}
