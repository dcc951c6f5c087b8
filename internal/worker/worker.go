// Package worker executes queued ingestion runs.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/metrics"
	"github.com/JakeFAU/vacancy-ingest/internal/pipeline"
	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// Runner executes one ingestion run and reports each committed batch.
type Runner interface {
	RunWithProgress(ctx context.Context, req vacancy.RunRequest, progress func(pipeline.BatchReport)) ([]vacancy.Result, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a RunEvent when a run reaches a terminal status. An empty Topic
	// leaves the choice to the publisher's default topic.
	Topic string
}

// RunEvent is published when a run finishes.
type RunEvent struct {
	RunID      string            `json:"run_id"`
	Status     vacancy.RunStatus `json:"status"`
	Vacancies  int               `json:"vacancies"`
	New        int               `json:"new"`
	ErrorText  string            `json:"error_text,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

// EventType names the event for message attributes.
func (RunEvent) EventType() string { return "run_finished" }

// Worker consumes queue items and executes the ingestion pipeline.
type Worker struct {
	queue     vacancy.Queue
	runs      vacancy.RunStore
	runner    Runner
	registry  *Registry
	publisher vacancy.Publisher
	clock     vacancy.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher and clock may be nil.
func New(
	queue vacancy.Queue,
	runs vacancy.RunStore,
	runner Runner,
	registry *Registry,
	publisher vacancy.Publisher,
	clock vacancy.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &Worker{
		queue:     queue,
		runs:      runs,
		runner:    runner,
		registry:  registry,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, vacancy.ErrQueueClosed) {
				w.logger.Info("queue closed, worker exiting")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		w.processRun(ctx, item)
	}
}

func (w *Worker) processRun(ctx context.Context, item vacancy.QueueItem) {
	logger := w.logger.With(zap.String("run_id", item.RunID))
	// Status writes outlive shutdown so a stopped run is still recorded.
	storeCtx := context.WithoutCancel(ctx)

	runCtx, release, ok := w.registry.begin(ctx, item.RunID)
	defer release()
	if !ok {
		logger.Info("run canceled before start")
		w.finish(storeCtx, item.RunID, vacancy.RunStatusCanceled, "canceled before start", vacancy.RunCounters{})
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	var counters vacancy.RunCounters
	if err := w.runs.UpdateRunStatus(storeCtx, item.RunID, vacancy.RunStatusRunning, "", counters); err != nil {
		logger.Error("update run status failed", zap.Error(err))
		return
	}

	req := item.Request
	req.RunID = item.RunID
	results, err := w.runner.RunWithProgress(runCtx, req, func(r pipeline.BatchReport) {
		counters.Vacancies += r.Persisted
		counters.New += r.New
		if err := w.runs.UpdateRunStatus(storeCtx, item.RunID, vacancy.RunStatusRunning, "", counters); err != nil {
			logger.Warn("update run counters failed", zap.Error(err))
		}
	})

	if saveErr := w.runs.SaveResults(storeCtx, item.RunID, results); saveErr != nil {
		logger.Error("save run results failed", zap.Error(saveErr))
	}

	status, errText := deriveFinalStatus(runCtx, err)
	if err != nil {
		logger.Warn("run stopped", zap.String("status", string(status)), zap.Error(err))
	} else {
		logger.Info("run succeeded", zap.Int("vacancies", counters.Vacancies), zap.Int("new", counters.New))
	}
	w.finish(storeCtx, item.RunID, status, errText, counters)
}

func (w *Worker) finish(ctx context.Context, runID string, status vacancy.RunStatus, errText string, counters vacancy.RunCounters) {
	if err := w.runs.UpdateRunStatus(ctx, runID, status, errText, counters); err != nil {
		w.logger.Error("final run status update failed", zap.String("run_id", runID), zap.Error(err))
	}
	metrics.ObserveRun(string(status))
	w.publishFinished(ctx, RunEvent{
		RunID:      runID,
		Status:     status,
		Vacancies:  counters.Vacancies,
		New:        counters.New,
		ErrorText:  errText,
		FinishedAt: w.clock.Now(),
	})
}

func (w *Worker) publishFinished(ctx context.Context, event RunEvent) {
	if w.publisher == nil {
		return
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Warn("publish run event failed", zap.String("run_id", event.RunID), zap.Error(err))
	}
}

func deriveFinalStatus(runCtx context.Context, err error) (vacancy.RunStatus, string) {
	switch {
	case err == nil:
		return vacancy.RunStatusSucceeded, ""
	case runCtx.Err() != nil && pipeline.IsCanceled(err):
		return vacancy.RunStatusCanceled, err.Error()
	default:
		return vacancy.RunStatusFailed, err.Error()
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
