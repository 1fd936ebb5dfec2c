package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/consbridge/consbridge/internal/chat"
	"github.com/consbridge/consbridge/internal/mapper"
	"github.com/consbridge/consbridge/internal/odata"
	"github.com/consbridge/consbridge/internal/selector"
	"github.com/consbridge/consbridge/internal/store"
)

// RunConsultations executes the pivot puller in the given mode; an empty
// mode falls back to the configured default.
func (e *ETL) RunConsultations(ctx context.Context, mode string) error {
	if mode == "" {
		mode = e.Cfg.ETLMode
	}
	if mode == "open_update" {
		return e.runOpenUpdate(ctx)
	}
	return e.runIncremental(ctx)
}

// runIncremental pulls by ChangeDate ascending, one page per batch, and
// checkpoints after every committed batch.
func (e *ETL) runIncremental(ctx context.Context) error {
	log := e.Log.With().Str("entity", EntityConsultations).Logger()
	start := time.Now()
	log.Info().Msg("pull start")

	cp, err := e.Store.GetCheckpoint(ctx, e.Store.Pool, EntityConsultations)
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
			return fmt.Errorf("fetch consultations page: %w", err)
		}
		if len(page) == 0 {
			break
		}

		batchMax, err := e.processConsultationBatch(ctx, page, false)
		if err != nil {
			// Checkpoint untouched: this batch reruns on the next run.
			return err
		}
		if batchMax.After(cursor) {
			cursor = batchMax
		}

		// Checkpoint in its own commit, after the batch committed.
		clamped := clampNow(cursor)
		if err := e.Store.SaveCheckpoint(ctx, e.Store.Pool, EntityConsultations, store.Checkpoint{LastSyncedAt: &clamped}); err != nil {
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

// processConsultationBatch handles one page inside a single transaction
// and returns the max observed ChangeDate. CHAT side effects happen after
// the store mutation is flushed but before the commit; replays after a
// crash are absorbed by the notification ledger and the terminal guard.
func (e *ETL) processConsultationBatch(ctx context.Context, page []mapper.ConsultationRecord, bulk bool) (time.Time, error) {
	tx, err := e.Store.Pool.Begin(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback(ctx)

	throttle := &errThrottle{max: e.Cfg.MaxErrorLogs, log: e.Log}
	var batchMax time.Time
	for _, rec := range page {
		batchMax = maxTime(batchMax, mapper.CleanTime(rec.ChangeDate))

		var perr error
		if bulk {
			perr = e.processBulkRecord(ctx, tx, rec)
		} else {
			perr = e.processConsultationRecord(ctx, tx, rec)
		}
		if perr != nil {
			if isSemantic(perr) {
				throttle.record(perr, rec.RefKey)
				continue
			}
			return time.Time{}, perr
		}
	}
	throttle.finish()

	if err := tx.Commit(ctx); err != nil {
		return time.Time{}, fmt.Errorf("commit consultation batch: %w", err)
	}
	return batchMax, nil
}

// semanticError marks a per-record problem: skip, count, continue.
type semanticError struct{ err error }

func (s semanticError) Error() string { return s.err.Error() }
func (s semanticError) Unwrap() error { return s.err }

func isSemantic(err error) bool {
	var s semanticError
	return errors.As(err, &s)
}

// processConsultationRecord creates or reconciles one owned consultation.
func (e *ETL) processConsultationRecord(ctx context.Context, tx pgx.Tx, rec mapper.ConsultationRecord) error {
	mapped, ok := mapper.MapConsultation(rec)
	if !ok {
		return semanticError{fmt.Errorf("record without usable Ref_Key: %q", rec.RefKey)}
	}

	existing, err := e.Store.GetConsultationByRefKey(ctx, tx, *mapped.ClRefKey)
	if errors.Is(err, store.ErrNotFound) && mapper.IsValidChatID(rec.ChatID) {
		existing, err = e.Store.GetConsultationByConsID(ctx, tx, rec.ChatID)
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if existing == nil {
		return e.createConsultation(ctx, tx, rec, mapped)
	}
	return e.reconcileConsultation(ctx, tx, rec, mapped, existing)
}

func (e *ETL) createConsultation(ctx context.Context, tx pgx.Tx, rec mapper.ConsultationRecord, c store.Consultation) error {
	if mapper.IsValidChatID(rec.ChatID) {
		c.ConsID = rec.ChatID
	} else {
		// CHAT has not assigned an id yet; the webhook reconciler
		// stitches the real one in later.
		c.ConsID = mapper.TempConsID(*c.ClRefKey)
	}
	c.Source = store.SourceETL

	qa := mapper.QARows(rec)
	c.ConBlocks = mapper.FirstBlockKey(qa)
	if err := e.refreshCallsAggregate(ctx, tx, &c); err != nil {
		return err
	}

	if err := e.Store.InsertConsultation(ctx, tx, &c); err != nil {
		return err
	}
	if err := e.Store.ReplaceQA(ctx, tx, *c.ClRefKey, qa); err != nil {
		return err
	}
	if err := e.logChange(ctx, tx, c.ConsID, "status", nil, string(c.Status), store.SourceERP); err != nil {
		return err
	}

	// A fresh pending consultation with no manager goes through operator
	// selection.
	if c.Status == store.StatusPending && c.Manager == nil {
		if err := e.assignOperator(ctx, tx, &c); err != nil {
			e.Log.Warn().Err(err).Str("cons_id", c.ConsID).Msg("operator selection failed, leaving unassigned")
		}
	}

	if mapper.IsValidChatID(c.ConsID) {
		e.warn(e.Chat.UpdateConversationCustomAttributes(ctx, c.ConsID, mapper.MirrorAttributes(&c)), c.ConsID, "mirror_attributes")
	}
	return nil
}

// reconcileConsultation diffs the incoming record against the stored row
// and fans the differences out.
func (e *ETL) reconcileConsultation(ctx context.Context, tx pgx.Tx, rec mapper.ConsultationRecord, in store.Consultation, cur *store.Consultation) error {
	prevStatus := cur.Status
	prevManager := cur.Manager

	if err := e.maskPendingChatFields(ctx, tx, cur, &in); err != nil {
		return err
	}
	changes := mergeConsultation(cur, &in)
	if len(changes) == 0 {
		// Q&A is still rebuilt: the rebuild is a fixed point, so an
		// unchanged record causes no effective mutation.
		qa := mapper.QARows(rec)
		return e.Store.ReplaceQA(ctx, tx, *cur.ClRefKey, qa)
	}

	qa := mapper.QARows(rec)
	cur.ConBlocks = mapper.FirstBlockKey(qa)
	if err := e.refreshCallsAggregate(ctx, tx, cur); err != nil {
		return err
	}

	if err := e.Store.UpdateConsultation(ctx, tx, cur); err != nil {
		return err
	}
	if err := e.Store.ReplaceQA(ctx, tx, *cur.ClRefKey, qa); err != nil {
		return err
	}
	for _, ch := range changes {
		ch.ConsID = cur.ConsID
		if err := e.Store.AppendChange(ctx, tx, ch); err != nil {
			return err
		}
	}

	// Store mutation is flushed; fan out to CHAT before the commit. All
	// failures here are demoted: a pull never fails on downstream errors.
	if cur.Status != prevStatus {
		e.fanOutStatus(ctx, cur)
	}
	if mapper.IsValidChatID(cur.ConsID) {
		e.warn(e.Chat.UpdateConversationCustomAttributes(ctx, cur.ConsID, mapper.MirrorAttributes(cur)), cur.ConsID, "mirror_attributes")
	}
	if managerChanged(prevManager, cur.Manager) {
		e.fanOutManagerChange(ctx, tx, cur)
	}
	return nil
}

// maskPendingChatFields keeps the pull from echoing over a CHAT- or
// API-originated change that has not been written back to the ERP yet:
// for such a field the stored value wins until the background push lands.
func (e *ETL) maskPendingChatFields(ctx context.Context, q store.Querier, cur, in *store.Consultation) error {
	for _, field := range []string{"status", "manager"} {
		origin, logged, err := e.Store.LastChangeSource(ctx, q, cur.ConsID, field)
		if err != nil {
			return err
		}
		if !holdForERP(origin, logged) {
			continue
		}
		switch field {
		case "status":
			in.Status = cur.Status
			in.Denied = cur.Denied
		case "manager":
			in.Manager = cur.Manager
		}
	}
	return nil
}

// fanOutStatus maps a stored status flip onto CHAT calls and messages.
func (e *ETL) fanOutStatus(ctx context.Context, c *store.Consultation) {
	if !mapper.IsValidChatID(c.ConsID) {
		return
	}
	switch c.Status {
	case store.StatusClosed, store.StatusResolved:
		e.warn(e.Chat.ToggleConversationStatus(ctx, c.ConsID, "resolved"), c.ConsID, "toggle_resolved")
		e.warn(e.Notifier.StatusClose(ctx, c), c.ConsID, "status_close_message")
	case store.StatusCancelled:
		e.warn(e.Chat.ToggleConversationStatus(ctx, c.ConsID, "resolved"), c.ConsID, "toggle_resolved")
		e.warn(e.Notifier.Cancelled(ctx, c), c.ConsID, "cancelled_message")
	case store.StatusOpen:
		st := "open"
		e.warn(e.Chat.UpdateConversation(ctx, c.ConsID, chat.ConversationUpdate{Status: &st}), c.ConsID, "update_status")
	case store.StatusPending:
		st := "pending"
		e.warn(e.Chat.UpdateConversation(ctx, c.ConsID, chat.ConversationUpdate{Status: &st}), c.ConsID, "update_status")
	}
}

// fanOutManagerChange sends the reassignment and queue-update messages.
// The manager change observed here came from the ERP, so there is no
// write-back; selector-made assignments write back via assignOperator.
func (e *ETL) fanOutManagerChange(ctx context.Context, tx pgx.Tx, c *store.Consultation) {
	if c.Manager == nil {
		return
	}
	name := *c.Manager
	if key := mapper.CleanUUID(*c.Manager); key != nil {
		if n, err := e.Store.ManagerDisplayName(ctx, tx, *key); err == nil {
			name = n
		}
	}
	e.warn(e.Notifier.Reassignment(ctx, c, *c.Manager, name), c.ConsID, "reassignment_message")
	e.sendQueueUpdate(ctx, tx, c)
}

// sendQueueUpdate computes the queue position and wait estimate for the
// consultation's manager and posts the queue message.
func (e *ETL) sendQueueUpdate(ctx context.Context, q store.Querier, c *store.Consultation) {
	if c.Manager == nil {
		return
	}
	counts, err := e.Store.QueueCounts(ctx, q)
	if err != nil {
		e.warn(err, c.ConsID, "queue_counts")
		return
	}
	stat, hasStat, err := e.Store.AvgHandleMinutes(ctx, q, *c.Manager, time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		e.warn(err, c.ConsID, "avg_handle_minutes")
		return
	}
	est := selector.EstimateWait(counts[*c.Manager], stat, hasStat)
	e.warn(e.Notifier.QueueUpdate(ctx, c, *c.Manager, est), c.ConsID, "queue_update_message")
}

// assignOperator runs operator selection for a new pending consultation,
// records the assignment with origin ETL and writes it back to the ERP in
// the background (the change did not originate there).
func (e *ETL) assignOperator(ctx context.Context, tx pgx.Tx, c *store.Consultation) error {
	cand, err := e.pickOperator(ctx, tx, c, time.Now())
	if err != nil {
		return err
	}
	if cand.Operator.ClRefKey == nil {
		return fmt.Errorf("selected operator %s has no erp key", cand.Operator.AccountID)
	}

	key := cand.Operator.ClRefKey.String()
	c.Manager = &key
	if err := e.Store.UpdateConsultation(ctx, tx, c); err != nil {
		return err
	}
	if err := e.logChange(ctx, tx, c.ConsID, "manager", nil, key, store.SourceETL); err != nil {
		return err
	}

	if mapper.IsValidChatID(c.ConsID) && cand.Operator.ChatwootUserID != nil {
		e.warn(e.Chat.AssignConversationAgent(ctx, c.ConsID, *cand.Operator.ChatwootUserID), c.ConsID, "assign_agent")
	}
	e.warn(e.Notifier.Reassignment(ctx, c, key, cand.Operator.Description), c.ConsID, "reassignment_message")

	est := selector.EstimateWait(cand.QueueCount, 0, false)
	if stat, hasStat, serr := e.Store.AvgHandleMinutes(ctx, tx, key, time.Now().UTC().AddDate(0, 0, -30)); serr == nil {
		est = selector.EstimateWait(cand.QueueCount, stat, hasStat)
	}
	e.warn(e.Notifier.QueueUpdate(ctx, c, key, est), c.ConsID, "queue_update_message")

	consID := c.ConsID
	refKey := *c.ClRefKey
	mgrKey := *cand.Operator.ClRefKey
	e.background(ctx, consID, func(bctx context.Context) error {
		patch := odata.ConsultationPatch{ManagerKey: &mgrKey}
		if err := e.OData.UpdateConsultation(bctx, odataConsultations, refKey, patch); err != nil {
			return err
		}
		return e.Store.MarkChangeSynced(bctx, e.Store.Pool, consID, "manager", store.SyncedToERP)
	})
	return nil
}

// pickOperator loads the selection inputs and runs the selector.
func (e *ETL) pickOperator(ctx context.Context, q store.Querier, c *store.Consultation, now time.Time) (*selector.Candidate, error) {
	ops, err := e.Store.ListOperators(ctx, q)
	if err != nil {
		return nil, err
	}
	counts, err := e.Store.QueueCounts(ctx, q)
	if err != nil {
		return nil, err
	}
	closed, err := e.Store.ClosedManagersOn(ctx, q, now)
	if err != nil {
		return nil, err
	}

	in := selector.Input{
		Now:         now,
		Type:        c.Type,
		CategoryKey: mapper.CleanUUID(c.OnlineQuestionCat),
	}
	return e.Selector.Select(in, ops, counts, closed)
}

// refreshCallsAggregate recomputes con_calls from the calls table.
func (e *ETL) refreshCallsAggregate(ctx context.Context, q store.Querier, c *store.Consultation) error {
	calls, err := e.Store.ListCalls(ctx, q, *c.ClRefKey)
	if err != nil {
		return err
	}
	raw, err := mapper.CallsJSON(calls)
	if err != nil {
		return err
	}
	c.ConCalls = raw
	return nil
}

func (e *ETL) logChange(ctx context.Context, q store.Querier, consID, field string, oldVal *string, newVal string, src store.Source) error {
	return e.Store.AppendChange(ctx, q, store.ChangeEntry{
		ConsID:   consID,
		Field:    field,
		OldValue: oldVal,
		NewValue: &newVal,
		Source:   src,
	})
}

func managerChanged(prev, cur *string) bool {
	if cur == nil {
		return false // a pull never clears the manager
	}
	return prev == nil || *prev != *cur
}

// --- open-update mode ---

// runOpenUpdate reconciles every known non-terminal consultation by key.
// A key the ERP no longer returns was deleted there: mark cancelled, close
// the conversation, explain once.
func (e *ETL) runOpenUpdate(ctx context.Context) error {
	log := e.Log.With().Str("entity", EntityConsultations).Str("mode", "open_update").Logger()
	start := time.Now()
	log.Info().Msg("pull start")

	keys, err := e.Store.ListOpenRefKeys(ctx, e.Store.Pool)
	if err != nil {
		return err
	}

	processed := 0
	for chunkStart := 0; chunkStart < len(keys); chunkStart += e.Cfg.MaxKeysPerRequest {
		chunk := keys[chunkStart:min(chunkStart+e.Cfg.MaxKeysPerRequest, len(keys))]

		page, err := odata.FetchPage[mapper.ConsultationRecord](ctx, e.OData, odataConsultations, odata.Query{
			Filter: odata.GuidAnyFilter("Ref_Key", chunk),
			Top:    len(chunk),
		})
		if err != nil {
			return fmt.Errorf("fetch open-update chunk: %w", err)
		}

		returned := make(map[uuid.UUID]bool, len(page))
		for _, rec := range page {
			if k := mapper.CleanUUID(rec.RefKey); k != nil {
				returned[*k] = true
			}
		}

		tx, err := e.Store.Pool.Begin(ctx)
		if err != nil {
			return err
		}

		throttle := &errThrottle{max: e.Cfg.MaxErrorLogs, log: log}
		err = func() error {
			for _, rec := range page {
				if perr := e.processConsultationRecord(ctx, tx, rec); perr != nil {
					if isSemantic(perr) {
						throttle.record(perr, rec.RefKey)
						continue
					}
					return perr
				}
			}
			for _, key := range chunk {
				if returned[key] {
					continue
				}
				if perr := e.cancelMissing(ctx, tx, key); perr != nil {
					return perr
				}
			}
			return tx.Commit(ctx)
		}()
		if err != nil {
			tx.Rollback(ctx)
			return err
		}
		throttle.finish()

		processed += len(chunk)
		log.Info().Int("keys", processed).Msg("batch_progress")
	}

	log.Info().Int("keys", processed).Dur("duration", time.Since(start)).Msg("pull finish")
	return nil
}

// cancelMissing marks a queried-but-absent consultation cancelled and
// closes the conversation. The ledger keeps re-runs from repeating the
// message.
func (e *ETL) cancelMissing(ctx context.Context, tx pgx.Tx, refKey uuid.UUID) error {
	c, err := e.Store.GetConsultationByRefKey(ctx, tx, refKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	if c.Status == store.StatusCancelled {
		return nil
	}

	old := string(c.Status)
	c.Status = store.StatusCancelled
	if err := e.Store.UpdateConsultation(ctx, tx, c); err != nil {
		return err
	}
	if err := e.logChange(ctx, tx, c.ConsID, "status", &old, string(c.Status), store.SourceETL); err != nil {
		return err
	}

	if mapper.IsValidChatID(c.ConsID) {
		e.warn(e.Chat.ToggleConversationStatus(ctx, c.ConsID, "resolved"), c.ConsID, "toggle_resolved")
		e.warn(e.Notifier.Cancelled(ctx, c), c.ConsID, "cancelled_message")
	}
	return nil
}
