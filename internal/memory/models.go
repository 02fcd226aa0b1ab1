package memory

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is one stored user/assistant exchange. Append-only; the core
// never mutates or deletes rows.
type Conversation struct {
	ID        string
	CreatedAt time.Time
	UserInput string
	Response  string
	Context   string
}

// Task is a scheduled item created by the scheduler (and mirrored reminders).
// Status is the only field mutable after creation. Priority is 1 (high)
// through 3 (low).
type Task struct {
	ID          string
	CreatedAt   time.Time
	DueDate     time.Time
	Title       string
	Description string
	Status      string
	Priority    int
}

// Device is a smart-home device registered lazily on first control or
// discovery. State changes only through the smart-home handler.
type Device struct {
	ID           string
	Type         string
	State        string
	LastSeen     time.Time
	Capabilities string // JSON array stored as text
	Integration  string
}

// TaskStatusPending is the status tasks are created with.
const TaskStatusPending = "pending"
