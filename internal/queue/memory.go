package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memTask struct {
	task          Task
	status        string
	nextAttemptAt time.Time
}

// Memory is the queue double used by tests and single-binary runs.
type Memory struct {
	mu    sync.Mutex
	tasks []*memTask
}

func NewMemory() *Memory {
	return &Memory{}
}

func (q *Memory) Enqueue(ctx context.Context, taskType string, payload interface{}) (string, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.NewString()
	q.tasks = append(q.tasks, &memTask{
		task: Task{
			ID:          id,
			Type:        taskType,
			Payload:     body,
			MaxAttempts: DefaultMaxAttempts,
		},
		status: "pending",
	})
	return id, nil
}

func (q *Memory) Claim(ctx context.Context) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, mt := range q.tasks {
		if mt.status != "pending" || mt.nextAttemptAt.After(now) {
			continue
		}
		mt.status = "processing"
		mt.task.Attempts++
		claimed := mt.task
		return &claimed, nil
	}
	return nil, ErrNoTask
}

func (q *Memory) Complete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, mt := range q.tasks {
		if mt.task.ID == taskID {
			mt.status = "completed"
		}
	}
	return nil
}

func (q *Memory) Fail(ctx context.Context, task *Task, reason string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, mt := range q.tasks {
		if mt.task.ID != task.ID {
			continue
		}
		if task.Attempts >= task.MaxAttempts {
			mt.status = "failed"
			return true, nil
		}
		mt.status = "pending"
		mt.nextAttemptAt = time.Now().Add(retryDelay(task.Attempts))
		return false, nil
	}
	return false, nil
}

// Pending reports how many tasks of the given type are not yet terminal.
func (q *Memory) Pending(taskType string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, mt := range q.tasks {
		if mt.task.Type == taskType && (mt.status == "pending" || mt.status == "processing") {
			count++
		}
	}
	return count
}

// Tasks returns a snapshot of every enqueued task of the given type.
func (q *Memory) Tasks(taskType string) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Task
	for _, mt := range q.tasks {
		if mt.task.Type == taskType {
			out = append(out, mt.task)
		}
	}
	return out
}
