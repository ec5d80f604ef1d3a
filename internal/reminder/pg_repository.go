package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const taskColumns = `id, appointment_id, channel, send_at, status, created_at, updated_at`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(
		&t.ID,
		&t.AppointmentID,
		&t.Channel,
		&t.SendAt,
		&t.Status,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()

	var result []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CreateTasks(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reminder tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range tasks {
		_, err := tx.Exec(ctx, `
			INSERT INTO reminder_tasks (id, appointment_id, channel, send_at, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, t.ID, t.AppointmentID, t.Channel, t.SendAt, t.Status)
		if err != nil {
			return fmt.Errorf("insert reminder task: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reminder tx: %w", err)
	}
	return nil
}

func (r *PgRepository) ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM reminder_tasks
		WHERE appointment_id = $1
		ORDER BY send_at
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func (r *PgRepository) CancelPending(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminder_tasks
		SET status = $2,
		    updated_at = now()
		WHERE appointment_id = $1
		  AND status = $3
	`, appointmentID, TaskCancelled, TaskPending)
	if err != nil {
		return 0, fmt.Errorf("cancel pending reminders: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PgRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM reminder_tasks
		WHERE status = $1
		  AND send_at <= $2
		ORDER BY send_at
		LIMIT $3
	`, TaskPending, now, limit)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

func (r *PgRepository) MarkDispatched(ctx context.Context, id uuid.UUID, status TaskStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reminder_tasks
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, id, status, TaskPending)
	if err != nil {
		return fmt.Errorf("mark reminder dispatched: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}
