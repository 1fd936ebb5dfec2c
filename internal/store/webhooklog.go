package store

import (
	"context"
)

// InsertWebhookLog stores the raw inbound payload and returns the row id.
func (s *Store) InsertWebhookLog(ctx context.Context, q Querier, event string, payload []byte) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO log.webhook_log (event, payload)
		VALUES ($1, $2)
		RETURNING id`, event, payload).Scan(&id)
	return id, err
}

// MarkWebhookProcessed flips the processed flag on a webhook log row.
func (s *Store) MarkWebhookProcessed(ctx context.Context, q Querier, id int64) error {
	_, err := q.Exec(ctx,
		`UPDATE log.webhook_log SET processed = true, error_message = NULL WHERE id = $1`, id)
	return err
}

// MarkWebhookFailed records the handler error on a webhook log row. It
// writes on the pool because the handler's transaction has already been
// rolled back when this runs.
func (s *Store) MarkWebhookFailed(ctx context.Context, id int64, msg string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE log.webhook_log SET processed = false, error_message = $2 WHERE id = $1`, id, msg)
	return err
}
