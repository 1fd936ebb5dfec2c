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

// RunBulk pulls the full consultation set, without the ownership filter.
// These rows exist so the queue engine counts load from consultations that
// did not come through CHAT. No CHAT fan-out ever happens here.
func (e *ETL) RunBulk(ctx context.Context) error {
	log := e.Log.With().Str("entity", EntityBulk).Logger()
	start := time.Now()
	log.Info().Msg("pull start")

	cp, err := e.Store.GetCheckpoint(ctx, e.Store.Pool, EntityBulk)
	if err != nil {
		return err
	}
	from := e.since(cp, e.Cfg.ConsultationBuffer())
	cursor := from
	if cp.LastSyncedAt != nil {
		cursor = *cp.LastSyncedAt
	}

	filter := fmt.Sprintf("ChangeDate ge %s", odata.DatetimeLiteral(from))
	skip, total := 0, 0
	for {
		page, err := odata.FetchPage[mapper.ConsultationRecord](ctx, e.OData, odataConsultations, odata.Query{
			Filter:  filter,
			OrderBy: "ChangeDate asc",
			Top:     e.Cfg.PageSize,
			Skip:    skip,
		})
		if err != nil {
			return fmt.Errorf("fetch bulk consultations page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		batchMax, err := e.processConsultationBatch(ctx, page, true)
		if err != nil {
			return err
		}
		if batchMax.After(cursor) {
			cursor = batchMax
		}

		clamped := clampNow(cursor)
		if err := e.Store.SaveCheckpoint(ctx, e.Store.Pool, EntityBulk, store.Checkpoint{LastSyncedAt: &clamped}); err != nil {
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

// processBulkRecord upserts one foreign consultation. Rows already owned
// by the tenant (source other than ERP_ALL) are left alone: the pivot
// puller is authoritative for those.
func (e *ETL) processBulkRecord(ctx context.Context, tx pgx.Tx, rec mapper.ConsultationRecord) error {
	mapped, ok := mapper.MapConsultation(rec)
	if !ok {
		return semanticError{fmt.Errorf("record without usable Ref_Key: %q", rec.RefKey)}
	}

	existing, err := e.Store.GetConsultationByRefKey(ctx, tx, *mapped.ClRefKey)
	if errors.Is(err, store.ErrNotFound) {
		mapped.ConsID = mapper.TempBulkConsID(*mapped.ClRefKey)
		mapped.Source = store.SourceERPAll
		return e.Store.InsertConsultation(ctx, tx, &mapped)
	}
	if err != nil {
		return err
	}
	if existing.Source != store.SourceERPAll {
		return nil
	}

	if changes := mergeConsultation(existing, &mapped); len(changes) == 0 {
		return nil
	}
	return e.Store.UpdateConsultation(ctx, tx, existing)
}
