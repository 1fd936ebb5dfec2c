package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/consbridge/consbridge/internal/mapper"
	"github.com/consbridge/consbridge/internal/odata"
	"github.com/consbridge/consbridge/internal/store"
)

// RunRatings pulls rating answers. The register's Period is often null,
// so the cursor is the Ref_Key itself: records come back in ascending key
// order and a row is skipped only if its key strictly precedes the stored
// one. Textual UUID comparison is stable for this.
func (e *ETL) RunRatings(ctx context.Context) error {
	log := e.Log.With().Str("entity", EntityRatings).Logger()
	start := time.Now()
	log.Info().Msg("pull start")

	cp, err := e.Store.GetCheckpoint(ctx, e.Store.Pool, EntityRatings)
	if err != nil {
		return err
	}
	lastKey := ""
	if cp.LastSyncedKey != nil {
		lastKey = *cp.LastSyncedKey
	}

	skip, total := 0, 0
	for {
		page, err := odata.FetchPage[mapper.RatingRecord](ctx, e.OData, odataRatings, odata.Query{
			OrderBy: "Ref_Key asc",
			Top:     e.Cfg.PageSize,
			Skip:    skip,
		})
		if err != nil {
			return fmt.Errorf("fetch ratings page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		batchKey, processed, err := e.processRatingBatch(ctx, page, lastKey)
		if err != nil {
			return err
		}
		if batchKey > lastKey {
			lastKey = batchKey
			if err := e.Store.SaveCheckpoint(ctx, e.Store.Pool, EntityRatings, store.Checkpoint{LastSyncedKey: &lastKey}); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
		}

		total += processed
		log.Info().Int("batch", processed).Int("total", total).Str("cursor", lastKey).Msg("batch_progress")

		skip += len(page)
		if len(page) < e.Cfg.PageSize {
			break
		}
	}

	log.Info().Int("records", total).Dur("duration", time.Since(start)).Msg("pull finish")
	return nil
}

func (e *ETL) processRatingBatch(ctx context.Context, page []mapper.RatingRecord, lastKey string) (string, int, error) {
	tx, err := e.Store.Pool.Begin(ctx)
	if err != nil {
		return "", 0, err
	}
	defer tx.Rollback(ctx)

	throttle := &errThrottle{max: e.Cfg.MaxErrorLogs, log: e.Log}
	touched := map[uuid.UUID]bool{}
	batchKey := lastKey
	processed := 0
	for _, rec := range page {
		if rec.RefKey < lastKey {
			continue
		}
		if rec.RefKey > batchKey {
			batchKey = rec.RefKey
		}

		if err := e.processRatingRecord(ctx, tx, rec, touched); err != nil {
			if isSemantic(err) {
				throttle.record(err, rec.RefKey)
				continue
			}
			return "", 0, err
		}
		processed++
	}
	throttle.finish()

	for consKey := range touched {
		agg, err := e.Store.ComputeRatingAggregate(ctx, tx, consKey)
		if err != nil {
			return "", 0, err
		}
		if err := e.Store.SaveRatingAggregate(ctx, tx, consKey, agg); err != nil {
			return "", 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", 0, fmt.Errorf("commit rating batch: %w", err)
	}
	return batchKey, processed, nil
}

func (e *ETL) processRatingRecord(ctx context.Context, tx pgx.Tx, rec mapper.RatingRecord, touched map[uuid.UUID]bool) error {
	refKey := mapper.CleanUUID(rec.RefKey)
	consKey := mapper.CleanUUID(rec.ConsKey)
	managerKey := mapper.CleanUUID(rec.ManagerKey)
	if refKey == nil || consKey == nil || managerKey == nil {
		return semanticError{fmt.Errorf("rating row missing key fields")}
	}

	r := store.RatingAnswer{
		ConsKey:        *consKey,
		ManagerKey:     *managerKey,
		QuestionNumber: rec.QuestionNumber,
		RefKey:         *refKey,
		Value:          rec.Value,
	}
	inserted, err := e.Store.UpsertRatingAnswer(ctx, tx, r)
	if err != nil {
		return err
	}
	touched[*consKey] = true
	if !inserted {
		return nil
	}

	c, err := e.Store.GetConsultationByRefKey(ctx, tx, *consKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	name, err := e.Store.ManagerDisplayName(ctx, tx, *managerKey)
	if err != nil {
		name = managerKey.String()
	}
	e.warn(e.Notifier.Rating(ctx, c, r, name), c.ConsID, "rating_message")
	return nil
}
