package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const consultationColumns = `
	cons_id, cl_ref_key, number, status, consultation_type, denied,
	create_date, start_date, end_date, redate, to_char(redate_time, 'HH24:MI'),
	client_key, client_id, org_inn, manager, author, comment,
	online_question_cat, online_question, source, con_blocks, con_calls, con_rates`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(
		&c.ConsID, &c.ClRefKey, &c.Number, &c.Status, &c.Type, &c.Denied,
		&c.CreateDate, &c.StartDate, &c.EndDate, &c.Redate, &c.RedateTime,
		&c.ClientKey, &c.ClientID, &c.OrgINN, &c.Manager, &c.Author, &c.Comment,
		&c.OnlineQuestionCat, &c.OnlineQuestion, &c.Source, &c.ConBlocks, &c.ConCalls, &c.ConRates,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetConsultationByRefKey looks a consultation up by its ERP key.
func (s *Store) GetConsultationByRefKey(ctx context.Context, q Querier, refKey uuid.UUID) (*Consultation, error) {
	return scanConsultation(q.QueryRow(ctx,
		`SELECT `+consultationColumns+` FROM cons.consultation WHERE cl_ref_key = $1`, refKey))
}

// GetConsultationByConsID looks a consultation up by its CHAT/synthetic id.
func (s *Store) GetConsultationByConsID(ctx context.Context, q Querier, consID string) (*Consultation, error) {
	return scanConsultation(q.QueryRow(ctx,
		`SELECT `+consultationColumns+` FROM cons.consultation WHERE cons_id = $1`, consID))
}

// InsertConsultation creates a new row.
func (s *Store) InsertConsultation(ctx context.Context, q Querier, c *Consultation) error {
	_, err := q.Exec(ctx, `
		INSERT INTO cons.consultation (
			cons_id, cl_ref_key, number, status, consultation_type, denied,
			create_date, start_date, end_date, redate, redate_time,
			client_key, client_id, org_inn, manager, author, comment,
			online_question_cat, online_question, source, con_blocks, con_calls, con_rates
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11::time,
			$12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23
		)`,
		c.ConsID, c.ClRefKey, c.Number, c.Status, c.Type, c.Denied,
		c.CreateDate, c.StartDate, c.EndDate, c.Redate, c.RedateTime,
		c.ClientKey, c.ClientID, c.OrgINN, c.Manager, c.Author, c.Comment,
		c.OnlineQuestionCat, c.OnlineQuestion, c.Source, c.ConBlocks, c.ConCalls, c.ConRates,
	)
	if err != nil {
		return fmt.Errorf("insert consultation %s: %w", c.ConsID, err)
	}
	return nil
}

// UpdateConsultation rewrites the mutable columns of an existing row. The
// caller has already diffed the fields and recorded the change log.
func (s *Store) UpdateConsultation(ctx context.Context, q Querier, c *Consultation) error {
	tag, err := q.Exec(ctx, `
		UPDATE cons.consultation SET
			cl_ref_key = $2, number = $3, status = $4, consultation_type = $5, denied = $6,
			create_date = $7, start_date = $8, end_date = $9, redate = $10, redate_time = $11::time,
			client_key = $12, client_id = $13, org_inn = $14, manager = $15, author = $16,
			comment = $17, online_question_cat = $18, online_question = $19, source = $20,
			con_blocks = $21, con_calls = $22, con_rates = $23,
			updated_at = now()
		WHERE cons_id = $1`,
		c.ConsID, c.ClRefKey, c.Number, c.Status, c.Type, c.Denied,
		c.CreateDate, c.StartDate, c.EndDate, c.Redate, c.RedateTime,
		c.ClientKey, c.ClientID, c.OrgINN, c.Manager, c.Author,
		c.Comment, c.OnlineQuestionCat, c.OnlineQuestion, c.Source,
		c.ConBlocks, c.ConCalls, c.ConRates,
	)
	if err != nil {
		return fmt.Errorf("update consultation %s: %w", c.ConsID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RenameConsID rewrites a temporary cons_id to the CHAT-assigned one,
// stitching the two key spaces together.
func (s *Store) RenameConsID(ctx context.Context, q Querier, oldID, newID string) error {
	tag, err := q.Exec(ctx,
		`UPDATE cons.consultation SET cons_id = $2, updated_at = now() WHERE cons_id = $1`,
		oldID, newID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOpenRefKeys returns the ERP keys of all non-terminal consultations,
// the working set of open-update mode.
func (s *Store) ListOpenRefKeys(ctx context.Context, q Querier) ([]uuid.UUID, error) {
	rows, err := q.Query(ctx, `
		SELECT cl_ref_key FROM cons.consultation
		WHERE cl_ref_key IS NOT NULL
		  AND status NOT IN ('closed', 'resolved', 'cancelled')
		ORDER BY cl_ref_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []uuid.UUID
	for rows.Next() {
		var k uuid.UUID
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ListActiveByManager returns active consultations (pending/open, not
// denied) assigned to a manager that carry a real CHAT id. Used for the
// queue-closed fan-out.
func (s *Store) ListActiveByManager(ctx context.Context, q Querier, managerKey uuid.UUID) ([]Consultation, error) {
	rows, err := q.Query(ctx, `
		SELECT `+consultationColumns+`
		FROM cons.consultation
		WHERE manager = $1
		  AND denied = false
		  AND status IN ('pending', 'open')`,
		managerKey.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// QueueCounts returns, per manager key, the number of non-denied
// consultations in pending/open across all sources. Bulk-pulled rows
// (source ERP_ALL) count too; that is the reason they exist.
func (s *Store) QueueCounts(ctx context.Context, q Querier) (map[string]int, error) {
	rows, err := q.Query(ctx, `
		SELECT manager, count(*)
		FROM cons.consultation
		WHERE manager IS NOT NULL
		  AND denied = false
		  AND status IN ('pending', 'open')
		GROUP BY manager`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var mgr string
		var n int
		if err := rows.Scan(&mgr, &n); err != nil {
			return nil, err
		}
		counts[mgr] = n
	}
	return counts, rows.Err()
}

// AvgHandleMinutes computes a manager's average consultation duration in
// minutes over resolved/closed consultations of the trailing window.
// Returns 0 with ok=false when no statistic exists.
func (s *Store) AvgHandleMinutes(ctx context.Context, q Querier, managerKey string, since time.Time) (float64, bool, error) {
	var avg *float64
	err := q.QueryRow(ctx, `
		SELECT avg(EXTRACT(EPOCH FROM (end_date - start_date)) / 60)
		FROM cons.consultation
		WHERE manager = $1
		  AND status IN ('resolved', 'closed')
		  AND start_date IS NOT NULL
		  AND end_date IS NOT NULL
		  AND end_date >= $2`,
		managerKey, since).Scan(&avg)
	if err != nil {
		return 0, false, err
	}
	if avg == nil {
		return 0, false, nil
	}
	return *avg, true, nil
}

// ReplaceQA rebuilds the Q&A child rows of one consultation from scratch.
func (s *Store) ReplaceQA(ctx context.Context, q Querier, consRefKey uuid.UUID, rows []QARow) error {
	if _, err := q.Exec(ctx,
		`DELETE FROM cons.consultation_qa WHERE cons_ref_key = $1`, consRefKey); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := q.Exec(ctx, `
			INSERT INTO cons.consultation_qa (cons_ref_key, line_number, question, answer, block_key)
			VALUES ($1, $2, $3, $4, $5)`,
			r.ConsRefKey, r.LineNumber, r.Question, r.Answer, r.BlockKey); err != nil {
			return fmt.Errorf("insert qa line %d: %w", r.LineNumber, err)
		}
	}
	return nil
}
