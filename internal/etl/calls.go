package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/consbridge/consbridge/internal/mapper"
	"github.com/consbridge/consbridge/internal/odata"
	"github.com/consbridge/consbridge/internal/store"
)

// RunCalls pulls dial attempts. Inserts are conflict-ignored, then the
// touched consultations get their con_calls aggregate rebuilt.
func (e *ETL) RunCalls(ctx context.Context) error {
	log := e.Log.With().Str("entity", EntityCalls).Logger()
	start := time.Now()
	log.Info().Msg("pull start")

	cp, err := e.Store.GetCheckpoint(ctx, e.Store.Pool, EntityCalls)
	if err != nil {
		return err
	}
	from := e.since(cp, e.Cfg.ConsultationBuffer())
	cursor := from
	if cp.LastSyncedAt != nil {
		cursor = *cp.LastSyncedAt
	}

	filter := fmt.Sprintf("Period ge %s", odata.DatetimeLiteral(from))
	skip, total := 0, 0
	for {
		page, err := odata.FetchPage[mapper.CallRecord](ctx, e.OData, odataCalls, odata.Query{
			Filter:  filter,
			OrderBy: "Period asc",
			Top:     e.Cfg.PageSize,
			Skip:    skip,
		})
		if err != nil {
			return fmt.Errorf("fetch calls page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		batchMax, err := e.processCallBatch(ctx, page)
		if err != nil {
			return err
		}
		if batchMax.After(cursor) {
			cursor = batchMax
		}

		clamped := clampNow(cursor)
		if err := e.Store.SaveCheckpoint(ctx, e.Store.Pool, EntityCalls, store.Checkpoint{LastSyncedAt: &clamped}); err != nil {
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

func (e *ETL) processCallBatch(ctx context.Context, page []mapper.CallRecord) (time.Time, error) {
	tx, err := e.Store.Pool.Begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback(ctx)

	throttle := &errThrottle{max: e.Cfg.MaxErrorLogs, log: e.Log}
	touched := map[uuid.UUID]bool{}
	var batchMax time.Time
	for _, rec := range page {
		batchMax = maxTime(batchMax, mapper.CleanTime(rec.Period))

		period := mapper.CleanTime(rec.Period)
		consKey := mapper.CleanUUID(rec.ConsKey)
		manager := mapper.CleanUUID(rec.ManagerKey)
		if period == nil || consKey == nil || manager == nil {
			throttle.record(fmt.Errorf("call row missing period, consultation or manager"), rec.ConsKey)
			continue
		}

		if err := e.Store.InsertCall(ctx, tx, store.Call{
			Period:  *period,
			ConsKey: *consKey,
			Manager: *manager,
		}); err != nil {
			return time.Time{}, err
		}
		touched[*consKey] = true
	}
	throttle.finish()

	for consKey := range touched {
		c, err := e.Store.GetConsultationByRefKey(ctx, tx, consKey)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return time.Time{}, err
		}
		if err := e.refreshCallsAggregate(ctx, tx, c); err != nil {
			return time.Time{}, err
		}
		if err := e.Store.UpdateConsultation(ctx, tx, c); err != nil {
			return time.Time{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("commit call batch: %w", err)
	}
	return batchMax, nil
}
