package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtrack/scheduling-engine/internal/config"
	"github.com/medtrack/scheduling-engine/internal/db"
	"github.com/medtrack/scheduling-engine/internal/reminder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "reminder-worker").Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	repo := reminder.NewPgRepository(pgPool)
	dispatcher := &logDispatcher{log: log}
	worker := reminder.NewWorker(repo, dispatcher, 100, nil, log)

	// Run once at startup
	runOnce(rootCtx, worker, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, worker, log)
		}
	}
}

func runOnce(ctx context.Context, worker *reminder.Worker, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := worker.DispatchDue(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("reminder run error")
		return
	}
	log.Info().Int("dispatched", n).Dur("took", time.Since(start)).Msg("reminder run complete")
}

// logDispatcher stands in for the notification gateway. It records the
// hand-off; actual delivery is a separate system.
type logDispatcher struct {
	log zerolog.Logger
}

func (d *logDispatcher) Dispatch(ctx context.Context, task reminder.Task) error {
	d.log.Info().
		Stringer("task_id", task.ID).
		Stringer("appointment_id", task.AppointmentID).
		Str("channel", string(task.Channel)).
		Time("send_at", task.SendAt).
		Msg("reminder dispatched")
	return nil
}
