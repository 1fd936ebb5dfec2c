package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Notification types recorded in the ledger. Each distinct (type,
// entity_id, identifying data) tuple is emitted at most once, ever.
const (
	NotifyRedate       = "redate"
	NotifyRating       = "rating"
	NotifyReassignment = "manager_reassignment"
	NotifyQueueUpdate  = "queue_update"
	NotifyStatusClose  = "status_close"
	NotifyCancelled    = "cancelled"
	NotifyQueueClosed  = "queue_closed"
)

// NotificationHash computes the deterministic ledger key over the
// identifying tuple. Nulls become empty strings and keys are sorted
// recursively, so representation noise cannot defeat deduplication.
// Volatile display values (wait-time estimates) must not be part of data.
func NotificationHash(notifType, entityID string, data map[string]any) string {
	var b strings.Builder
	b.WriteString(notifType)
	b.WriteByte('|')
	b.WriteString(entityID)
	b.WriteByte('|')
	writeCanonical(&b, data)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString(`""`)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			writeCanonical(b, x[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, e)
		}
		b.WriteByte(']')
	default:
		raw, _ := json.Marshal(x)
		b.Write(raw)
	}
}

// WasNotified reports whether the ledger already holds the hash.
func (s *Store) WasNotified(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sys.notification_log WHERE unique_hash = $1)`,
		hash).Scan(&exists)
	return exists, err
}

// TryRecordNotification claims the ledger key. It writes on the pool, not
// on the batch transaction: the claim's commit must survive a later
// rollback of the batch, or a crash between flush and commit would re-send
// the message. Returns false when the key was already claimed; the caller
// must not send.
func (s *Store) TryRecordNotification(ctx context.Context, notifType, entityID, hash string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO sys.notification_log (unique_hash, notification_type, entity_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (unique_hash) DO NOTHING`,
		hash, notifType, entityID)
	if err != nil {
		return false, fmt.Errorf("record notification %s/%s: %w", notifType, entityID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveNotification releases a claimed ledger key after a failed send, so
// the next run retries the fan-out.
func (s *Store) RemoveNotification(ctx context.Context, hash string) error {
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM sys.notification_log WHERE unique_hash = $1`, hash)
	return err
}
