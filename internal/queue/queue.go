package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Task type names, one queue for both (original split: message + file queues).
const (
	TaskSendMessage = "send-message"
	TaskProcessFile = "process-file"
)

const (
	DefaultMaxAttempts = 3
	backoffBase        = time.Second
)

var ErrNoTask = errors.New("no pending task")

type Task struct {
	ID          string
	Type        string
	Payload     []byte
	Attempts    int
	MaxAttempts int
}

// Queue is the enqueue capability handed to the API process. Once a task is
// submitted the submitter never touches it again.
type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload interface{}) (string, error)
}

// Backend is the full queue contract the runner drives in the worker process.
type Backend interface {
	Queue
	// Claim atomically takes one due pending task, or returns ErrNoTask.
	Claim(ctx context.Context) (*Task, error)
	Complete(ctx context.Context, taskID string) error
	// Fail reschedules the task with exponential backoff until the attempt
	// limit is reached; it reports whether the failure is terminal.
	Fail(ctx context.Context, task *Task, reason string) (terminal bool, err error)
}

func marshalPayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

// retryDelay returns 1s, 2s, 4s, ... for attempts 1, 2, 3, ...
func retryDelay(attempts int) time.Duration {
	delay := backoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	return delay
}
