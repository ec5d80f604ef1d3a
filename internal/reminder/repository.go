package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrTaskNotFound = errors.New("reminder task not found")

// Repository contains all DB interactions needed by the scheduler and the
// dispatch worker.
type Repository interface {
	CreateTasks(ctx context.Context, tasks []Task) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error)

	// CancelPending marks every pending task for an appointment cancelled
	// and reports how many were affected. Sent tasks are untouched.
	CancelPending(ctx context.Context, appointmentID uuid.UUID) (int, error)

	// ListDue returns pending tasks whose send time has passed, ordered by
	// send time, for the dispatcher to drain.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Task, error)

	// MarkDispatched moves a pending task to sent or failed. A task that is
	// no longer pending surfaces ErrTaskNotFound so a concurrent supersede
	// is never overwritten.
	MarkDispatched(ctx context.Context, id uuid.UUID, status TaskStatus) error
}
