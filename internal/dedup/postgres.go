package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool the postgres store needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// The conflicting row is only overwritten once it has aged out of the window,
// so the upsert returns a row exactly when the key is seen for the first time.
const checkAndRecordSQL = `
INSERT INTO dedup_entries (key_digest, repository, entity_id, action, recorded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key_digest) DO UPDATE
	SET recorded_at = EXCLUDED.recorded_at
	WHERE dedup_entries.recorded_at <= EXCLUDED.recorded_at - ($6 * INTERVAL '1 millisecond')
RETURNING recorded_at`

const deleteExpiredSQL = `DELETE FROM dedup_entries WHERE recorded_at <= $1`

const deleteOverCapacitySQL = `
DELETE FROM dedup_entries
WHERE key_digest IN (
	SELECT key_digest FROM dedup_entries ORDER BY recorded_at DESC OFFSET $1
)`

type Postgres struct {
	db  Querier
	cfg Config
	now func() time.Time
}

func NewPostgres(db Querier, cfg Config) *Postgres {
	return &Postgres{
		db:  db,
		cfg: cfg.withDefaults(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (p *Postgres) CheckAndRecord(ctx context.Context, key Key) (Result, error) {
	if err := key.Validate(); err != nil {
		return FirstSeen, err
	}

	var recorded time.Time
	err := p.db.QueryRow(ctx, checkAndRecordSQL,
		key.Digest(), key.Repository, key.EntityID, key.Action, p.now(), p.cfg.Window.Milliseconds(),
	).Scan(&recorded)
	if errors.Is(err, pgx.ErrNoRows) {
		return DuplicateWithinWindow, nil
	}
	if err != nil {
		return FirstSeen, fmt.Errorf("upserting dedup entry (key=%s): %w", key, err)
	}
	return FirstSeen, nil
}

// Prune removes expired rows, then the oldest rows beyond the capacity.
func (p *Postgres) Prune(ctx context.Context) (int64, error) {
	expired, err := p.db.Exec(ctx, deleteExpiredSQL, p.now().Add(-p.cfg.Window))
	if err != nil {
		return 0, fmt.Errorf("deleting expired dedup entries: %w", err)
	}
	evicted, err := p.db.Exec(ctx, deleteOverCapacitySQL, p.cfg.Capacity)
	if err != nil {
		return expired.RowsAffected(), fmt.Errorf("evicting dedup entries over capacity: %w", err)
	}
	return expired.RowsAffected() + evicted.RowsAffected(), nil
}

// RunJanitor prunes on every tick until ctx is done.
func (p *Postgres) RunJanitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.Prune(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "dedup janitor failed", "error", err)
				continue
			}
			if removed > 0 {
				slog.DebugContext(ctx, "dedup janitor pruned entries", "removed", removed)
			}
		}
	}
}
