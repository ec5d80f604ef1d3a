package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medtrack/scheduling-engine/internal/appointment"
	"github.com/medtrack/scheduling-engine/internal/config"
	"github.com/medtrack/scheduling-engine/internal/metrics"
)

// Scheduler computes reminder tasks for bookings. It satisfies the booking
// service's ReminderScheduler hook.
type Scheduler struct {
	repo    Repository
	cfg     config.Config
	metrics *metrics.EngineMetrics
	log     zerolog.Logger
}

func NewScheduler(repo Repository, cfg config.Config, m *metrics.EngineMetrics, log zerolog.Logger) *Scheduler {
	return &Scheduler{repo: repo, cfg: cfg, metrics: m, log: log}
}

// Schedule inserts the default reminder pair: a day-ahead email and a
// last-hour SMS. Offsets that have already passed are skipped rather than
// fired late.
func (s *Scheduler) Schedule(ctx context.Context, appt appointment.Appointment) error {
	now := time.Now()

	plan := []struct {
		channel Channel
		gap     time.Duration
	}{
		{ChannelEmail, s.cfg.FirstReminderGap},
		{ChannelSMS, s.cfg.FinalReminderGap},
	}

	var tasks []Task
	for _, p := range plan {
		sendAt := appt.StartTime.Add(-p.gap)
		if sendAt.Before(now) {
			continue
		}
		tasks = append(tasks, Task{
			ID:            uuid.New(),
			AppointmentID: appt.ID,
			Channel:       p.channel,
			SendAt:        sendAt,
			Status:        TaskPending,
		})
	}

	if err := s.repo.CreateTasks(ctx, tasks); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}

	for range tasks {
		s.metrics.ObserveReminder("scheduled")
	}
	s.log.Debug().Stringer("appointment_id", appt.ID).Int("tasks", len(tasks)).Msg("reminders scheduled")
	return nil
}

// Supersede cancels every still-pending task for an appointment. Tasks the
// dispatcher already handled stay as they are.
func (s *Scheduler) Supersede(ctx context.Context, appointmentID uuid.UUID) error {
	n, err := s.repo.CancelPending(ctx, appointmentID)
	if err != nil {
		return fmt.Errorf("supersede reminders: %w", err)
	}
	for i := 0; i < n; i++ {
		s.metrics.ObserveReminder("superseded")
	}
	return nil
}
