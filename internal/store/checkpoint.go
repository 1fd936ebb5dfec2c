package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Checkpoint is one entity's sync cursor. LastSyncedAt is the timestamp
// cursor; LastSyncedKey the opaque key cursor used where the source
// timestamp is unreliable (ratings).
type Checkpoint struct {
	LastSyncedAt  *time.Time
	LastSyncedKey *string
}

// GetCheckpoint loads the cursor for an entity. A missing row yields a
// zero checkpoint (first run).
func (s *Store) GetCheckpoint(ctx context.Context, q Querier, entity string) (Checkpoint, error) {
	var cp Checkpoint
	err := q.QueryRow(ctx,
		`SELECT last_synced_at, last_synced_key FROM sys.sync_state WHERE entity_name = $1`,
		entity).Scan(&cp.LastSyncedAt, &cp.LastSyncedKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Checkpoint{}, nil
		}
		return Checkpoint{}, err
	}
	return cp, nil
}

// SaveCheckpoint persists the cursor. Called after every committed batch,
// in its own commit, so a crash loses at most one batch. The timestamp is
// clamped to now: a source row scheduled in the future must not pin the
// cursor forward.
func (s *Store) SaveCheckpoint(ctx context.Context, q Querier, entity string, cp Checkpoint) error {
	at := cp.LastSyncedAt
	if at != nil {
		now := time.Now().UTC()
		if at.After(now) {
			at = &now
		}
	}
	_, err := q.Exec(ctx, `
		INSERT INTO sys.sync_state (entity_name, last_synced_at, last_synced_key, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (entity_name) DO UPDATE SET
			last_synced_at  = EXCLUDED.last_synced_at,
			last_synced_key = EXCLUDED.last_synced_key,
			updated_at      = now()`,
		entity, at, cp.LastSyncedKey)
	return err
}
