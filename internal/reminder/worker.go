package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtrack/scheduling-engine/internal/metrics"
)

// Dispatcher hands a due task to the external notification collaborator.
// Delivery, retry and backoff live on the other side of this interface.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// Worker drains due reminder tasks on each run. It is driven by a ticker in
// the reminder-worker binary.
type Worker struct {
	repo       Repository
	dispatcher Dispatcher
	batchSize  int
	metrics    *metrics.EngineMetrics
	log        zerolog.Logger
}

func NewWorker(repo Repository, dispatcher Dispatcher, batchSize int, m *metrics.EngineMetrics, log zerolog.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Worker{
		repo:       repo,
		dispatcher: dispatcher,
		batchSize:  batchSize,
		metrics:    m,
		log:        log,
	}
}

// DispatchDue hands every due pending task to the dispatcher and records the
// outcome. It returns how many tasks were handed off.
func (w *Worker) DispatchDue(ctx context.Context) (int, error) {
	due, err := w.repo.ListDue(ctx, time.Now(), w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	dispatched := 0
	for _, task := range due {
		status := TaskSent
		if err := w.dispatcher.Dispatch(ctx, task); err != nil {
			w.log.Warn().Err(err).Stringer("task_id", task.ID).Str("channel", string(task.Channel)).Msg("reminder dispatch failed")
			status = TaskFailed
		}

		if err := w.repo.MarkDispatched(ctx, task.ID, status); err != nil {
			// ErrTaskNotFound here means a supersede won the race; skip.
			w.log.Debug().Err(err).Stringer("task_id", task.ID).Msg("reminder status not updated")
			continue
		}
		w.metrics.ObserveReminder(string(status))
		dispatched++
	}

	return dispatched, nil
}
