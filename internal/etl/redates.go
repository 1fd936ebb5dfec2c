package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/consbridge/consbridge/internal/mapper"
	"github.com/consbridge/consbridge/internal/odata"
	"github.com/consbridge/consbridge/internal/store"
)

// RunRedates pulls reschedule events. A genuinely new row updates the
// parent consultation's redate fields, notifies the client once, and
// writes the new start date back to the ERP in the background.
func (e *ETL) RunRedates(ctx context.Context) error {
	log := e.Log.With().Str("entity", EntityRedates).Logger()
	start := time.Now()
	log.Info().Msg("pull start")

	cp, err := e.Store.GetCheckpoint(ctx, e.Store.Pool, EntityRedates)
	if err != nil {
		return err
	}
	from := e.since(cp, e.Cfg.RedateBuffer())
	cursor := from
	if cp.LastSyncedAt != nil {
		cursor = *cp.LastSyncedAt
	}

	filter := fmt.Sprintf("Period ge %s", odata.DatetimeLiteral(from))
	skip, total := 0, 0
	for {
		page, err := odata.FetchPage[mapper.RedateRecord](ctx, e.OData, odataRedates, odata.Query{
			Filter:  filter,
			OrderBy: "Period asc",
			Top:     e.Cfg.PageSize,
			Skip:    skip,
		})
		if err != nil {
			return fmt.Errorf("fetch redates page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		batchMax, err := e.processRedateBatch(ctx, page)
		if err != nil {
			return err
		}
		if batchMax.After(cursor) {
			cursor = batchMax
		}

		clamped := clampNow(cursor)
		if err := e.Store.SaveCheckpoint(ctx, e.Store.Pool, EntityRedates, store.Checkpoint{LastSyncedAt: &clamped}); err != nil {
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

func (e *ETL) processRedateBatch(ctx context.Context, page []mapper.RedateRecord) (time.Time, error) {
	tx, err := e.Store.Pool.Begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback(ctx)

	throttle := &errThrottle{max: e.Cfg.MaxErrorLogs, log: e.Log}
	var batchMax time.Time
	for _, rec := range page {
		batchMax = maxTime(batchMax, mapper.CleanTime(rec.Period))

		if err := e.processRedateRecord(ctx, tx, rec); err != nil {
			if isSemantic(err) {
				throttle.record(err, rec.ConsKey)
				continue
			}
			return time.Time{}, err
		}
	}
	throttle.finish()

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("commit redate batch: %w", err)
	}
	return batchMax, nil
}

func (e *ETL) processRedateRecord(ctx context.Context, tx pgx.Tx, rec mapper.RedateRecord) error {
	period := mapper.CleanTime(rec.Period)
	consKey := mapper.CleanUUID(rec.ConsKey)
	clientsKey := mapper.CleanUUID(rec.ClientsKey)
	managerKey := mapper.CleanUUID(rec.ManagerKey)
	if period == nil || consKey == nil || clientsKey == nil || managerKey == nil {
		return semanticError{fmt.Errorf("redate row missing key fields")}
	}

	r := store.Redate{
		ConsKey:    *consKey,
		ClientsKey: *clientsKey,
		ManagerKey: *managerKey,
		Period:     *period,
		OldDate:    mapper.CleanTime(rec.OldDate),
		NewDate:    mapper.CleanTime(rec.NewDate),
	}
	inserted, err := e.Store.InsertRedate(ctx, tx, r)
	if err != nil {
		return err
	}
	if !inserted {
		// Already seen on a previous run: the buffer window re-reads it.
		return nil
	}

	c, err := e.Store.GetConsultationByRefKey(ctx, tx, *consKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if r.NewDate != nil {
		day := r.NewDate.UTC().Truncate(24 * time.Hour)
		hhmm := r.NewDate.UTC().Format("15:04")
		c.Redate = &day
		c.RedateTime = &hhmm
		if err := e.Store.UpdateConsultation(ctx, tx, c); err != nil {
			return err
		}
		if mapper.IsValidChatID(c.ConsID) {
			e.warn(e.Chat.UpdateConversationCustomAttributes(ctx, c.ConsID, mapper.MirrorAttributes(c)), c.ConsID, "mirror_attributes")
		}
	}

	e.warn(e.Notifier.Redate(ctx, c, r), c.ConsID, "redate_message")

	if r.NewDate != nil {
		refKey := *consKey
		newDate := *r.NewDate
		e.background(ctx, c.ConsID, func(bctx context.Context) error {
			patch := odata.ConsultationPatch{StartDate: &newDate}
			return e.OData.UpdateConsultation(bctx, odataConsultations, refKey, patch)
		})
	}
	return nil
}
