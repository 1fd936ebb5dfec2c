package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/consbridge/consbridge/internal/mapper"
	"github.com/consbridge/consbridge/internal/odata"
	"github.com/consbridge/consbridge/internal/store"
)

// RunClosings pulls queue-closing flags. Only rows dated today are
// materialized: a closing is a one-day fact. Closing a queue fans a
// "you will be reassigned" message out to that operator's active
// consultations; reopening just deletes the row.
func (e *ETL) RunClosings(ctx context.Context) error {
	log := e.Log.With().Str("entity", EntityClosings).Logger()
	start := time.Now()
	log.Info().Msg("pull start")

	cp, err := e.Store.GetCheckpoint(ctx, e.Store.Pool, EntityClosings)
	if err != nil {
		return err
	}
	from := e.since(cp, e.Cfg.ClosingBuffer())
	cursor := from
	if cp.LastSyncedAt != nil {
		cursor = *cp.LastSyncedAt
	}

	filter := fmt.Sprintf("Date ge %s", odata.DatetimeLiteral(from))
	skip, total := 0, 0
	for {
		page, err := odata.FetchPage[mapper.QueueClosingRecord](ctx, e.OData, odataClosings, odata.Query{
			Filter:  filter,
			OrderBy: "Date asc",
			Top:     e.Cfg.PageSize,
			Skip:    skip,
		})
		if err != nil {
			return fmt.Errorf("fetch queue closings page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		batchMax, err := e.processClosingBatch(ctx, page)
		if err != nil {
			return err
		}
		if batchMax.After(cursor) {
			cursor = batchMax
		}

		clamped := clampNow(cursor)
		if err := e.Store.SaveCheckpoint(ctx, e.Store.Pool, EntityClosings, store.Checkpoint{LastSyncedAt: &clamped}); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}

		total += len(page)
		log.Info().Int("batch", len(page)).Int("total", total).Time("cursor", clamped).Msg("batch_progress")

		skip += len(page)
		if len(page) < e.Cfg.PageSize {
			break
		}
	}

	log.Info().Int("records", total).Dur("duration", time.Since(start)).Msg("pull finish")
	return nil
}

func (e *ETL) processClosingBatch(ctx context.Context, page []mapper.QueueClosingRecord) (time.Time, error) {
	tx, err := e.Store.Pool.Begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback(ctx)

	throttle := &errThrottle{max: e.Cfg.MaxErrorLogs, log: e.Log}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	var batchMax time.Time
	for _, rec := range page {
		batchMax = maxTime(batchMax, mapper.CleanTime(rec.Date))

		day := mapper.CleanTime(rec.Date)
		managerKey := mapper.CleanUUID(rec.ManagerKey)
		if day == nil || managerKey == nil {
			throttle.record(fmt.Errorf("closing row missing date or manager"), rec.ManagerKey)
			continue
		}
		if !day.UTC().Truncate(24 * time.Hour).Equal(today) {
			continue
		}

		closing := store.QueueClosing{PeriodDay: today, ManagerKey: *managerKey}
		if !rec.Closed {
			if err := e.Store.DeleteQueueClosing(ctx, tx, closing); err != nil {
				return time.Time{}, err
			}
			continue
		}

		if err := e.Store.UpsertQueueClosing(ctx, tx, closing); err != nil {
			return time.Time{}, err
		}
		if err := e.notifyQueueClosed(ctx, tx, closing); err != nil {
			return time.Time{}, err
		}
	}
	throttle.finish()

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("commit closing batch: %w", err)
	}
	return batchMax, nil
}

// notifyQueueClosed tells every waiting client of the closed operator.
// The ledger keys on (manager, day), so repeated pulls of the same flag
// send nothing new.
func (e *ETL) notifyQueueClosed(ctx context.Context, tx pgx.Tx, closing store.QueueClosing) error {
	active, err := e.Store.ListActiveByManager(ctx, tx, closing.ManagerKey)
	if err != nil {
		return err
	}
	for i := range active {
		c := &active[i]
		if !mapper.IsValidChatID(c.ConsID) {
			continue
		}
		e.warn(e.Notifier.QueueClosed(ctx, c, closing.ManagerKey.String(), closing.PeriodDay), c.ConsID, "queue_closed_message")
	}
	return nil
}
