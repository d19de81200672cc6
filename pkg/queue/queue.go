// Package queue carries publish requests to workers.
//
// Delivery is at-least-once. A reserved task stays on a processing list
// until the worker acknowledges it after the publish returns, so a worker
// that dies mid-publish leaves the task to be recovered and run again.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dandiarchive/dandipub/dpapi"
)

const LOG_TAG = "queue"

// Task asks for one publish of a girder draft.
type Task struct {
	ID       uuid.UUID `json:"id"`
	GirderID string    `json:"girder_id"`
	Token    string    `json:"token,omitempty"`
	Enqueued time.Time `json:"enqueued"`
}

// NewTask returns a task with a fresh id.
func NewTask(girderID, token string) Task {
	return Task{
		ID:       uuid.New(),
		GirderID: girderID,
		Token:    token,
		Enqueued: time.Now().UTC(),
	}
}

// Reservation is a task taken off the pending list and not yet acknowledged.
type Reservation struct {
	Task Task
	// raw is the exact payload on the processing list, needed to remove it.
	raw string
}

const (
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Status is the recorded outcome of the last run of a task.
type Status struct {
	TaskID    uuid.UUID       `json:"task_id"`
	State     string          `json:"state"`
	Location  string          `json:"location,omitempty"`
	Version   dpapi.VersionID `json:"version,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Finished  time.Time       `json:"finished"`
}

type Queue interface {
	// Enqueue appends a task to the pending list.
	//
	// Errors:
	//
	//   - dandi-error-queue -- when the broker cannot be reached
	Enqueue(ctx context.Context, task Task) error

	// Reserve moves the oldest pending task to the processing list, waiting up to
	// wait for one to arrive. ok is false when none arrived in time.
	//
	// Errors:
	//
	//   - dandi-error-queue -- when the broker cannot be reached or a payload is corrupt
	Reserve(ctx context.Context, wait time.Duration) (r Reservation, ok bool, err error)

	// Ack removes a reserved task from the processing list.
	//
	// Errors:
	//
	//   - dandi-error-queue -- when the broker cannot be reached
	Ack(ctx context.Context, r Reservation) error

	// Recover moves every task left on the processing list back to the front of
	// the pending list and returns how many were moved. Only call it while no
	// other worker of the same queue is running.
	//
	// Errors:
	//
	//   - dandi-error-queue -- when the broker cannot be reached
	Recover(ctx context.Context) (int, error)

	// SetStatus records the outcome of a task.
	//
	// Errors:
	//
	//   - dandi-error-queue -- when the broker cannot be reached
	SetStatus(ctx context.Context, s Status) error

	// Status returns the recorded outcome of a task; ok is false when there is none.
	//
	// Errors:
	//
	//   - dandi-error-queue -- when the broker cannot be reached
	Status(ctx context.Context, id uuid.UUID) (s Status, ok bool, err error)

	Ping(ctx context.Context) error
	Close() error
}

func encodeTask(t Task) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", dpapi.ErrorSerialization("encoding task", err)
	}
	return string(b), nil
}

func decodeTask(raw string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return Task{}, dpapi.ErrorQueue("decoding task", err)
	}
	return t, nil
}
