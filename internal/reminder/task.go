package reminder

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskSent      TaskStatus = "sent"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

type Channel string

const (
	// ChannelEmail carries the day-ahead reminder.
	ChannelEmail Channel = "email"
	// ChannelSMS carries the last-hour reminder.
	ChannelSMS Channel = "sms"
)

// Task is one reminder dispatch request. The engine computes tasks; the
// external dispatcher owns delivery and writes sent/failed back.
type Task struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Channel       Channel
	SendAt        time.Time
	Status        TaskStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
