package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/lib/pq"
)

const notifyChannel = "store_events"

type notifyEnvelope struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}

// Postgres implements Store on the app database: a kv table with expiry plus
// LISTEN/NOTIFY as the pub/sub bus. Both processes point at the same DB, so a
// NOTIFY in the API process reaches subscribers in the worker process.
type Postgres struct {
	db  *sql.DB
	dsn string
}

func NewPostgres(db *sql.DB, dsn string) (*Postgres, error) {
	schema := `
        CREATE TABLE IF NOT EXISTS kv_store (
            key        TEXT PRIMARY KEY,
            value      TEXT NOT NULL,
            expires_at TIMESTAMPTZ
        );
    `
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Postgres{db: db, dsn: dsn}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `
        SELECT value FROM kv_store
        WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
    `, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expires sql.NullTime
	if ttl > 0 {
		expires = sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO kv_store (key, value, expires_at) VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
    `, key, value, expires)
	return err
}

// Decr is the only mutation allowed on counter keys. A missing key counts
// from zero, matching the decrement semantics the worker relies on.
func (p *Postgres) Decr(ctx context.Context, key string) (int64, error) {
	var value int64
	err := p.db.QueryRowContext(ctx, `
        INSERT INTO kv_store (key, value) VALUES ($1, '-1')
        ON CONFLICT (key) DO UPDATE SET value = ((kv_store.value)::bigint - 1)::text
        RETURNING (value)::bigint
    `, key).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

// GetDel is a single DELETE ... RETURNING, so concurrent redemptions of the
// same key resolve to exactly one winner.
func (p *Postgres) GetDel(ctx context.Context, key string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `
        DELETE FROM kv_store
        WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
        RETURNING value
    `, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (p *Postgres) Del(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key)
	return err
}

func (p *Postgres) Publish(ctx context.Context, topic, payload string) error {
	envelope, err := json.Marshal(notifyEnvelope{Topic: topic, Payload: payload})
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(envelope))
	return err
}

func (p *Postgres) Subscribe(ctx context.Context, topics ...string) (<-chan Message, error) {
	listener := pq.NewListener(p.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("store: listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, err
	}

	wanted := make(map[string]bool, len(topics))
	for _, t := range topics {
		wanted[t] = true
	}

	out := make(chan Message, 256)
	go func() {
		defer close(out)
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				if n == nil {
					// reconnect marker from pq, nothing to deliver
					continue
				}
				var envelope notifyEnvelope
				if err := json.Unmarshal([]byte(n.Extra), &envelope); err != nil {
					log.Printf("store: bad notify payload: %v", err)
					continue
				}
				if !wanted[envelope.Topic] {
					continue
				}
				select {
				case out <- Message{Topic: envelope.Topic, Payload: envelope.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
