package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Postgres is the durable outbox-table queue shared by both processes.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) (*Postgres, error) {
	schema := `
        CREATE TABLE IF NOT EXISTS job_outbox (
            id              TEXT PRIMARY KEY,
            task_type       VARCHAR(50) NOT NULL,
            payload         TEXT NOT NULL,
            status          VARCHAR(20) NOT NULL DEFAULT 'pending',
            attempts        INT NOT NULL DEFAULT 0,
            max_attempts    INT NOT NULL DEFAULT 3,
            next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            last_error      TEXT,
            created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );

        CREATE INDEX IF NOT EXISTS idx_job_outbox_claim
            ON job_outbox(status, next_attempt_at);
    `
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (q *Postgres) Enqueue(ctx context.Context, taskType string, payload interface{}) (string, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = q.db.ExecContext(ctx, `
        INSERT INTO job_outbox (id, task_type, payload, max_attempts)
        VALUES ($1, $2, $3, $4)
    `, id, taskType, string(body), DefaultMaxAttempts)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (q *Postgres) Claim(ctx context.Context) (*Task, error) {
	task := &Task{}
	var payload string
	err := q.db.QueryRowContext(ctx, `
        UPDATE job_outbox
        SET status = 'processing', attempts = attempts + 1
        WHERE id = (
            SELECT id FROM job_outbox
            WHERE status = 'pending' AND next_attempt_at <= NOW()
            ORDER BY created_at
            LIMIT 1
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, task_type, payload, attempts, max_attempts
    `).Scan(&task.ID, &task.Type, &payload, &task.Attempts, &task.MaxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoTask
	}
	if err != nil {
		return nil, err
	}
	task.Payload = []byte(payload)
	return task, nil
}

func (q *Postgres) Complete(ctx context.Context, taskID string) error {
	_, err := q.db.ExecContext(ctx, `
        UPDATE job_outbox SET status = 'completed', last_error = NULL WHERE id = $1
    `, taskID)
	return err
}

func (q *Postgres) Fail(ctx context.Context, task *Task, reason string) (bool, error) {
	if task.Attempts >= task.MaxAttempts {
		_, err := q.db.ExecContext(ctx, `
            UPDATE job_outbox SET status = 'failed', last_error = $1 WHERE id = $2
        `, reason, task.ID)
		return true, err
	}

	nextAttempt := time.Now().Add(retryDelay(task.Attempts))
	_, err := q.db.ExecContext(ctx, `
        UPDATE job_outbox
        SET status = 'pending', last_error = $1, next_attempt_at = $2
        WHERE id = $3
    `, reason, nextAttempt, task.ID)
	return false, err
}
