package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ReplaceUsers rebuilds the operator catalog and skill set from scratch.
// Runs inside the caller's transaction so a failed rebuild leaves the
// previous catalog intact.
func (s *Store) ReplaceUsers(ctx context.Context, q Querier, users []User, skills []UserSkill) error {
	if _, err := q.Exec(ctx, `DELETE FROM cons.user_skill`); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `DELETE FROM cons.app_user`); err != nil {
		return err
	}

	for _, u := range users {
		_, err := q.Exec(ctx, `
			INSERT INTO cons.app_user (
				account_id, cl_ref_key, description, department, con_limit,
				start_hour, end_hour, ru, uz, deletion_mark, invalid,
				consultation_enabled, chatwoot_user_id, chatwoot_team
			) VALUES ($1, $2, $3, $4, $5, $6::time, $7::time, $8, $9, $10, $11, $12, $13, $14)`,
			u.AccountID, u.ClRefKey, u.Description, u.Department, u.ConLimit,
			u.StartHour, u.EndHour, u.RU, u.UZ, u.DeletionMark, u.Invalid,
			u.ConsultationEnabled, u.ChatwootUserID, u.ChatwootTeam)
		if err != nil {
			return fmt.Errorf("insert user %s: %w", u.AccountID, err)
		}
	}

	for _, sk := range skills {
		_, err := q.Exec(ctx, `
			INSERT INTO cons.user_skill (user_key, category_key)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, sk.UserKey, sk.CategoryKey)
		if err != nil {
			return fmt.Errorf("insert skill %s/%s: %w", sk.UserKey, sk.CategoryKey, err)
		}
	}
	return nil
}

// SetChatwootUserID links an operator to their chat agent and refreshes
// the reverse mapping used by the webhook reconciler.
func (s *Store) SetChatwootUserID(ctx context.Context, q Querier, accountID uuid.UUID, chatwootUserID int) error {
	var clRefKey *uuid.UUID
	err := q.QueryRow(ctx, `
		UPDATE cons.app_user SET chatwoot_user_id = $2
		WHERE account_id = $1
		RETURNING cl_ref_key`, accountID, chatwootUserID).Scan(&clRefKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if clRefKey == nil {
		return nil
	}
	_, err = q.Exec(ctx, `
		INSERT INTO cons.user_mapping (chatwoot_user_id, cl_ref_key)
		VALUES ($1, $2)
		ON CONFLICT (chatwoot_user_id) DO UPDATE SET cl_ref_key = EXCLUDED.cl_ref_key`,
		chatwootUserID, clRefKey)
	return err
}

// MapChatwootUser translates a CHAT assignee id to the ERP operator key.
// Returns ErrNotFound when unmapped.
func (s *Store) MapChatwootUser(ctx context.Context, q Querier, chatwootUserID int) (uuid.UUID, error) {
	var key uuid.UUID
	err := q.QueryRow(ctx,
		`SELECT cl_ref_key FROM cons.user_mapping WHERE chatwoot_user_id = $1`,
		chatwootUserID).Scan(&key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, err
	}
	return key, nil
}

// ManagerDisplayName resolves an operator's display name by cl_ref_key.
func (s *Store) ManagerDisplayName(ctx context.Context, q Querier, clRefKey uuid.UUID) (string, error) {
	var name string
	err := q.QueryRow(ctx,
		`SELECT description FROM cons.app_user WHERE cl_ref_key = $1`, clRefKey).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return name, nil
}

// Operator is a selection candidate: the catalog row plus its skill set.
type Operator struct {
	User
	Skills map[uuid.UUID]bool
}

// ListOperators loads all operators with their skills for the selector.
func (s *Store) ListOperators(ctx context.Context, q Querier) ([]Operator, error) {
	rows, err := q.Query(ctx, `
		SELECT account_id, cl_ref_key, description, department, con_limit,
		       to_char(start_hour, 'HH24:MI'), to_char(end_hour, 'HH24:MI'),
		       ru, uz, deletion_mark, invalid, consultation_enabled,
		       chatwoot_user_id, chatwoot_team
		FROM cons.app_user`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byKey := make(map[uuid.UUID]*Operator)
	var ops []*Operator
	for rows.Next() {
		var o Operator
		o.Skills = make(map[uuid.UUID]bool)
		if err := rows.Scan(
			&o.AccountID, &o.ClRefKey, &o.Description, &o.Department, &o.ConLimit,
			&o.StartHour, &o.EndHour, &o.RU, &o.UZ, &o.DeletionMark, &o.Invalid,
			&o.ConsultationEnabled, &o.ChatwootUserID, &o.ChatwootTeam,
		); err != nil {
			return nil, err
		}
		ops = append(ops, &o)
		if o.ClRefKey != nil {
			byKey[*o.ClRefKey] = &o
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	skillRows, err := q.Query(ctx, `SELECT user_key, category_key FROM cons.user_skill`)
	if err != nil {
		return nil, err
	}
	defer skillRows.Close()
	for skillRows.Next() {
		var userKey, catKey uuid.UUID
		if err := skillRows.Scan(&userKey, &catKey); err != nil {
			return nil, err
		}
		if op, ok := byKey[userKey]; ok {
			op.Skills[catKey] = true
		}
	}
	if err := skillRows.Err(); err != nil {
		return nil, err
	}

	out := make([]Operator, 0, len(ops))
	for _, op := range ops {
		out = append(out, *op)
	}
	return out, nil
}
