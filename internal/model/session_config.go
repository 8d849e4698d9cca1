package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrSessionConfigNotFound = errors.New("session config not found")

// SessionConfig is the operator-managed registry entry for one session slot.
// Only configured sessions may be connected or blasted from.
type SessionConfig struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionConfigRepo persists session configs in the local SQLite DB so the
// registry survives restarts without touching the app Postgres.
type SessionConfigRepo struct {
	db *sql.DB
}

func NewSessionConfigRepo(db *sql.DB) *SessionConfigRepo {
	return &SessionConfigRepo{db: db}
}

func (r *SessionConfigRepo) List(ctx context.Context) ([]SessionConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, label, enabled, created_at, updated_at FROM sessions ORDER BY id
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []SessionConfig
	for rows.Next() {
		var sc SessionConfig
		if err := rows.Scan(&sc.ID, &sc.Label, &sc.Enabled, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, err
		}
		configs = append(configs, sc)
	}
	return configs, rows.Err()
}

func (r *SessionConfigRepo) Get(ctx context.Context, id string) (SessionConfig, error) {
	var sc SessionConfig
	err := r.db.QueryRowContext(ctx, `
        SELECT id, label, enabled, created_at, updated_at FROM sessions WHERE id = ?
    `, id).Scan(&sc.ID, &sc.Label, &sc.Enabled, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionConfig{}, fmt.Errorf("%w: %s", ErrSessionConfigNotFound, id)
	}
	if err != nil {
		return SessionConfig{}, err
	}
	return sc, nil
}

func (r *SessionConfigRepo) Create(ctx context.Context, id, label string) (SessionConfig, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO sessions (id, label, enabled, created_at, updated_at)
        VALUES (?, ?, 1, ?, ?)
    `, id, label, now, now)
	if err != nil {
		return SessionConfig{}, err
	}
	return SessionConfig{ID: id, Label: label, Enabled: true, CreatedAt: now, UpdatedAt: now}, nil
}

func (r *SessionConfigRepo) Update(ctx context.Context, id, label string, enabled bool) (SessionConfig, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE sessions SET label = ?, enabled = ?, updated_at = ? WHERE id = ?
    `, label, enabled, time.Now().UTC(), id)
	if err != nil {
		return SessionConfig{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return SessionConfig{}, fmt.Errorf("%w: %s", ErrSessionConfigNotFound, id)
	}
	return r.Get(ctx, id)
}

func (r *SessionConfigRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionConfigNotFound, id)
	}
	return nil
}

// EnsureDefaults inserts configs for the statically configured session ids so
// a fresh install can connect without touching the CRUD API first.
func (r *SessionConfigRepo) EnsureDefaults(ctx context.Context, ids []string) error {
	for _, id := range ids {
		now := time.Now().UTC()
		_, err := r.db.ExecContext(ctx, `
            INSERT INTO sessions (id, label, enabled, created_at, updated_at)
            VALUES (?, ?, 1, ?, ?)
            ON CONFLICT (id) DO NOTHING
        `, id, id, now, now)
		if err != nil {
			return err
		}
	}
	return nil
}
