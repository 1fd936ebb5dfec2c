package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AppendChange writes one append-only change-log row.
func (s *Store) AppendChange(ctx context.Context, q Querier, e ChangeEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO sys.change_log (cons_id, field, old_value, new_value, source)
		VALUES ($1, $2, $3, $4, $5)`,
		e.ConsID, e.Field, e.OldValue, e.NewValue, e.Source)
	if err != nil {
		return fmt.Errorf("append change %s/%s: %w", e.ConsID, e.Field, err)
	}
	return nil
}

// SyncDirection names the side a change was pushed to.
type SyncDirection string

const (
	SyncedToChat SyncDirection = "chat"
	SyncedToERP  SyncDirection = "erp"
)

// MarkChangeSynced flips the sync pointer on the most recent log row for
// (cons_id, field) after a background push to the other side.
func (s *Store) MarkChangeSynced(ctx context.Context, q Querier, consID, field string, dir SyncDirection) error {
	column := "synced_to_chat"
	if dir == SyncedToERP {
		column = "synced_to_erp"
	}
	_, err := q.Exec(ctx, `
		UPDATE sys.change_log SET `+column+` = true
		WHERE id = (
			SELECT id FROM sys.change_log
			WHERE cons_id = $1 AND field = $2
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)`, consID, field)
	return err
}

// ChangeOrigin describes the most recent logged change to a field.
type ChangeOrigin struct {
	Source       Source
	SyncedToChat bool
	SyncedToERP  bool
}

// LastChangeSource returns the origin of the most recent change to a
// field; ok is false when the field was never logged. The pull uses it to
// avoid echoing a change back over the side it came from.
func (s *Store) LastChangeSource(ctx context.Context, q Querier, consID, field string) (ChangeOrigin, bool, error) {
	var origin ChangeOrigin
	err := q.QueryRow(ctx, `
		SELECT source, synced_to_chat, synced_to_erp FROM sys.change_log
		WHERE cons_id = $1 AND field = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, consID, field).Scan(&origin.Source, &origin.SyncedToChat, &origin.SyncedToERP)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChangeOrigin{}, false, nil
		}
		return ChangeOrigin{}, false, err
	}
	return origin, true, nil
}
