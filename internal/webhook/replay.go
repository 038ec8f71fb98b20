package webhook

import (
	"context"
	"log/slog"
	"sync"

	"github.com/frahmantamala/checkout-payments/internal/reconcile"
)

// ReplayableOutcomes are the outcomes worth another dispatch.
var ReplayableOutcomes = []string{
	string(reconcile.OutcomeUnresolved),
	string(reconcile.OutcomeFailed),
}

type ReplayJob struct {
	Entry Entry
}

type Worker struct {
	ID         int
	WorkerPool chan chan ReplayJob
	JobChannel chan ReplayJob
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan ReplayJob, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan ReplayJob),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(context.Context, ReplayJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker replaying event", "worker_id", w.ID, "event_id", job.Entry.ProviderEventID)
				processFunc(ctx, job)
			case <-ctx.Done():
				w.Logger.Debug("worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

// ReplaySummary counts the outcome of each replayed event.
type ReplaySummary struct {
	Total    int            `json:"total"`
	Outcomes map[string]int `json:"outcomes"`
}

type Replayer struct {
	events  EventLog
	engine  Dispatcher
	workers int
	logger  *slog.Logger
}

func NewReplayer(events EventLog, engine Dispatcher, workers int, logger *slog.Logger) *Replayer {
	if workers <= 0 {
		workers = 1
	}
	return &Replayer{
		events:  events,
		engine:  engine,
		workers: workers,
		logger:  logger,
	}
}

// Run re-dispatches up to limit unresolved or failed events through a bounded
// worker pool and records each new outcome.
func (r *Replayer) Run(ctx context.Context, limit int) (*ReplaySummary, error) {
	entries, err := r.events.ListReplayable(ctx, ReplayableOutcomes, limit)
	if err != nil {
		return nil, err
	}

	summary := &ReplaySummary{Outcomes: map[string]int{}}
	if len(entries) == 0 {
		return summary, nil
	}

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		done       sync.WaitGroup
		workerPool = make(chan chan ReplayJob, r.workers)
	)
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	process := func(ctx context.Context, job ReplayJob) {
		defer done.Done()
		outcome := r.replay(ctx, job.Entry)

		mu.Lock()
		summary.Total++
		summary.Outcomes[outcome]++
		mu.Unlock()
	}

	for i := 0; i < r.workers; i++ {
		NewWorker(i, workerPool, r.logger).Start(poolCtx, &wg, process)
	}

	for _, entry := range entries {
		select {
		case jobChannel := <-workerPool:
			done.Add(1)
			jobChannel <- ReplayJob{Entry: entry}
		case <-ctx.Done():
			done.Wait()
			cancel()
			wg.Wait()
			return summary, ctx.Err()
		}
	}

	done.Wait()
	cancel()
	wg.Wait()

	r.logger.Info("replay finished", "total", summary.Total, "outcomes", summary.Outcomes)
	return summary, nil
}

func (r *Replayer) replay(ctx context.Context, entry Entry) string {
	lg := r.logger.With("event_id", entry.ProviderEventID, "event_type", entry.EventType)

	ev, err := DecodeEvent(entry.Payload)
	if err != nil {
		lg.Error("stored event could not be decoded", "error", err)
		return string(reconcile.OutcomeFailed)
	}

	res, dispatchErr := r.engine.Dispatch(ctx, ev)

	record := newEntry(entry.ProviderEventID, entry.EventType, entry.Payload, res, dispatchErr)
	if err := r.events.Record(ctx, record); err != nil {
		lg.Warn("failed to record replay outcome", "error", err)
	}
	return record.Outcome
}
