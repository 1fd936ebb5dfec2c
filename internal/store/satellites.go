package store

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// InsertCall records a dial attempt. Duplicate attempts are ignored.
func (s *Store) InsertCall(ctx context.Context, q Querier, c Call) error {
	_, err := q.Exec(ctx, `
		INSERT INTO cons.call (period, cons_key, manager)
		VALUES ($1, $2, $3)
		ON CONFLICT (period, cons_key, manager) DO NOTHING`,
		c.Period, c.ConsKey, c.Manager)
	return err
}

// ListCalls returns a consultation's dial attempts in period order, for
// the con_calls aggregate.
func (s *Store) ListCalls(ctx context.Context, q Querier, consKey uuid.UUID) ([]Call, error) {
	rows, err := q.Query(ctx, `
		SELECT period, cons_key, manager FROM cons.call
		WHERE cons_key = $1 ORDER BY period`, consKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.Period, &c.ConsKey, &c.Manager); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertRedate records a reschedule. Returns true when the row is new;
// only new rows fire the redate notification and the ERP write-back.
func (s *Store) InsertRedate(ctx context.Context, q Querier, r Redate) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO cons.cons_redate (cons_key, clients_key, manager_key, period, old_date, new_date)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cons_key, clients_key, manager_key, period) DO NOTHING`,
		r.ConsKey, r.ClientsKey, r.ManagerKey, r.Period, r.OldDate, r.NewDate)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertRatingAnswer stores one rating answer. Returns true when the row
// is newly inserted (as opposed to updated); only new rows fire the
// rating notification.
func (s *Store) UpsertRatingAnswer(ctx context.Context, q Querier, r RatingAnswer) (bool, error) {
	var inserted bool
	err := q.QueryRow(ctx, `
		INSERT INTO cons.cons_rating_answer (cons_key, manager_key, question_number, ref_key, value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cons_key, manager_key, question_number) DO UPDATE SET
			ref_key = EXCLUDED.ref_key,
			value   = EXCLUDED.value
		RETURNING (xmax = 0)`,
		r.ConsKey, r.ManagerKey, r.QuestionNumber, r.RefKey, r.Value).Scan(&inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ComputeRatingAggregate materializes {average, count, per-question list}
// for one consultation. average = round(sum/count, 2) over non-null
// values.
func (s *Store) ComputeRatingAggregate(ctx context.Context, q Querier, consKey uuid.UUID) (*RatingAggregate, error) {
	rows, err := q.Query(ctx, `
		SELECT question_number, value FROM cons.cons_rating_answer
		WHERE cons_key = $1 ORDER BY question_number`, consKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agg := &RatingAggregate{Questions: []RatingDetail{}}
	var sum float64
	for rows.Next() {
		var d RatingDetail
		if err := rows.Scan(&d.QuestionNumber, &d.Value); err != nil {
			return nil, err
		}
		agg.Questions = append(agg.Questions, d)
		if d.Value != nil {
			sum += *d.Value
			agg.Count++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if agg.Count > 0 {
		agg.Average = math.Round(sum/float64(agg.Count)*100) / 100
	}
	return agg, nil
}

// SaveRatingAggregate writes the con_rates aggregate onto the parent
// consultation.
func (s *Store) SaveRatingAggregate(ctx context.Context, q Querier, consKey uuid.UUID, agg *RatingAggregate) error {
	raw, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		UPDATE cons.consultation SET con_rates = $2, updated_at = now()
		WHERE cl_ref_key = $1`, consKey, raw)
	return err
}

// UpsertQueueClosing marks an operator's queue closed for a day.
func (s *Store) UpsertQueueClosing(ctx context.Context, q Querier, c QueueClosing) error {
	_, err := q.Exec(ctx, `
		INSERT INTO cons.queue_closing (period_day, manager_key)
		VALUES ($1, $2)
		ON CONFLICT (period_day, manager_key) DO NOTHING`,
		c.PeriodDay, c.ManagerKey)
	return err
}

// DeleteQueueClosing reopens an operator's queue for a day.
func (s *Store) DeleteQueueClosing(ctx context.Context, q Querier, c QueueClosing) error {
	_, err := q.Exec(ctx, `
		DELETE FROM cons.queue_closing WHERE period_day = $1 AND manager_key = $2`,
		c.PeriodDay, c.ManagerKey)
	return err
}

// ClosedManagersOn returns the set of managers whose queue is closed on
// the given day.
func (s *Store) ClosedManagersOn(ctx context.Context, q Querier, day time.Time) (map[uuid.UUID]bool, error) {
	rows, err := q.Query(ctx, `
		SELECT manager_key FROM cons.queue_closing WHERE period_day = $1`,
		day.Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	closed := make(map[uuid.UUID]bool)
	for rows.Next() {
		var k uuid.UUID
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		closed[k] = true
	}
	return closed, rows.Err()
}
