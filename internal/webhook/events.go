package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/consbridge/consbridge/internal/chat"
	"github.com/consbridge/consbridge/internal/mapper"
	"github.com/consbridge/consbridge/internal/odata"
	"github.com/consbridge/consbridge/internal/selector"
	"github.com/consbridge/consbridge/internal/store"
)

// erpConsultationEntity is the OData entity receiving write-backs.
const erpConsultationEntity = "ConsultationDoc"

// refKeyAttribute carries the ERP reference on conversations opened from
// the ERP side; it is what lets created events stitch temporary ids.
const refKeyAttribute = "cl_ref_key"

type event struct {
	Event            string         `json:"event"`
	ID               int            `json:"id"`
	Status           string         `json:"status"`
	Meta             eventMeta      `json:"meta"`
	CustomAttributes map[string]any `json:"custom_attributes"`
	// message.created nests the conversation instead of flattening it.
	Conversation *conversation `json:"conversation"`
}

type eventMeta struct {
	Assignee *assignee `json:"assignee"`
}

type assignee struct {
	ID int `json:"id"`
}

type conversation struct {
	ID               int            `json:"id"`
	Status           string         `json:"status"`
	Meta             eventMeta      `json:"meta"`
	CustomAttributes map[string]any `json:"custom_attributes"`
}

// flatten returns the conversation view of the event, regardless of shape.
func (e event) flatten() conversation {
	if e.Conversation != nil {
		return *e.Conversation
	}
	return conversation{
		ID:               e.ID,
		Status:           e.Status,
		Meta:             e.Meta,
		CustomAttributes: e.CustomAttributes,
	}
}

func (s *Server) processEvent(ctx context.Context, ev event) error {
	name := strings.ReplaceAll(ev.Event, ".", "_")
	conv := ev.flatten()
	if conv.ID == 0 {
		return fmt.Errorf("event %q without conversation id", ev.Event)
	}

	switch name {
	case "conversation_created":
		return s.handleCreated(ctx, conv)
	case "conversation_updated", "conversation_status_changed", "conversation_resolved":
		return s.handleUpdate(ctx, conv)
	case "message_created":
		return s.handleMessage(ctx, conv)
	default:
		s.Log.Debug().Str("event", ev.Event).Msg("ignoring webhook event")
		return nil
	}
}

// handleCreated stitches a new conversation onto an ERP-born consultation
// when the payload carries the reference key, or records a fresh
// CHAT-born one otherwise.
func (s *Server) handleCreated(ctx context.Context, conv conversation) error {
	consID := strconv.Itoa(conv.ID)

	tx, err := s.Store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := s.Store.GetConsultationByConsID(ctx, tx, consID); err == nil {
		return tx.Commit(ctx)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if refKey := s.payloadRefKey(conv); refKey != nil {
		c, err := s.Store.GetConsultationByRefKey(ctx, tx, *refKey)
		if err == nil && !mapper.IsValidChatID(c.ConsID) {
			if err := s.Store.RenameConsID(ctx, tx, c.ConsID, consID); err != nil {
				return err
			}
			if err := tx.Commit(ctx); err != nil {
				return err
			}
			s.Log.Info().Str("cons_id", consID).Str("ref_key", refKey.String()).Msg("stitched conversation onto consultation")
			return nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	c := &store.Consultation{
		ConsID: consID,
		Status: store.StatusNew,
		Type:   store.TypeTechSupport,
		Source: store.SourceChat,
	}
	if st := mapChatStatus(conv.Status); st != "" {
		c.Status = st
	}
	s.applyAttributes(c, conv.CustomAttributes)
	if err := s.Store.InsertConsultation(ctx, tx, c); err != nil {
		return err
	}
	if err := s.logChange(ctx, tx, c.ConsID, "status", nil, string(c.Status)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// handleUpdate applies the CHAT-side diff: status, assignee and mirrored
// attributes. Accounting consultations refuse client closure.
func (s *Server) handleUpdate(ctx context.Context, conv conversation) error {
	consID := strconv.Itoa(conv.ID)

	tx, err := s.Store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	c, err := s.Store.GetConsultationByConsID(ctx, tx, consID)
	if errors.Is(err, store.ErrNotFound) {
		tx.Rollback(ctx)
		return s.handleCreated(ctx, conv)
	}
	if err != nil {
		return err
	}

	newStatus := mapChatStatus(conv.Status)

	if c.Type == store.TypeAccounting && (newStatus == store.StatusResolved || newStatus == store.StatusClosed) {
		// Clients cannot close accounting consultations: push the stored
		// status back and leave the row untouched.
		tx.Rollback(ctx)
		prev := chatStatus(c.Status)
		if err := s.Chat.UpdateConversation(ctx, consID, chat.ConversationUpdate{Status: &prev}); err != nil {
			s.Log.Warn().Err(err).Str("cons_id", consID).Msg("failed to revert client closure")
		}
		s.Log.Info().Str("cons_id", consID).Msg("refused client closure of accounting consultation")
		return nil
	}

	var statusChanged, managerChanged bool
	var newManagerKey *uuid.UUID

	if newStatus != "" && newStatus != c.Status {
		old := string(c.Status)
		c.Status = newStatus
		if c.Status.Terminal() && c.EndDate == nil {
			now := time.Now().UTC()
			c.EndDate = &now
		}
		if err := s.logChange(ctx, tx, c.ConsID, "status", &old, string(c.Status)); err != nil {
			return err
		}
		statusChanged = true
	}

	if conv.Meta.Assignee != nil {
		newMgr, key := s.translateAssignee(ctx, tx, conv.Meta.Assignee.ID)
		if c.Manager == nil || *c.Manager != newMgr {
			old := c.Manager
			c.Manager = &newMgr
			if err := s.logChange(ctx, tx, c.ConsID, "manager", old, newMgr); err != nil {
				return err
			}
			managerChanged = true
			newManagerKey = key
		}
	}

	s.applyAttributes(c, conv.CustomAttributes)

	if err := s.Store.UpdateConsultation(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	if managerChanged && c.Manager != nil && mapper.IsValidChatID(c.ConsID) {
		name := *c.Manager
		if newManagerKey != nil {
			if n, err := s.Store.ManagerDisplayName(ctx, s.Store.Pool, *newManagerKey); err == nil {
				name = n
			}
		}
		if err := s.Notifier.Reassignment(ctx, c, *c.Manager, name); err != nil {
			s.Log.Warn().Err(err).Str("cons_id", c.ConsID).Msg("reassignment message failed")
		}
		s.sendQueueUpdate(ctx, c)
	}

	if c.ClRefKey != nil && (statusChanged || managerChanged) {
		s.enqueueERPWrite(c, statusChanged, managerChanged, newManagerKey)
	}
	return nil
}

// sendQueueUpdate posts the queue position and wait estimate for the
// consultation's new manager. Failures are logged, never surfaced: the
// webhook must stay 200 once the row is committed.
func (s *Server) sendQueueUpdate(ctx context.Context, c *store.Consultation) {
	if c.Manager == nil {
		return
	}
	counts, err := s.Store.QueueCounts(ctx, s.Store.Pool)
	if err != nil {
		s.Log.Warn().Err(err).Str("cons_id", c.ConsID).Msg("queue counts failed")
		return
	}
	stat, hasStat, err := s.Store.AvgHandleMinutes(ctx, s.Store.Pool, *c.Manager, time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		s.Log.Warn().Err(err).Str("cons_id", c.ConsID).Msg("handle-time stat failed")
		return
	}
	est := selector.EstimateWait(counts[*c.Manager], stat, hasStat)
	if err := s.Notifier.QueueUpdate(ctx, c, *c.Manager, est); err != nil {
		s.Log.Warn().Err(err).Str("cons_id", c.ConsID).Msg("queue update message failed")
	}
}

// handleMessage only makes sure the conversation is known; messages
// themselves are not stored.
func (s *Server) handleMessage(ctx context.Context, conv conversation) error {
	consID := strconv.Itoa(conv.ID)
	_, err := s.Store.GetConsultationByConsID(ctx, s.Store.Pool, consID)
	if errors.Is(err, store.ErrNotFound) {
		return s.handleCreated(ctx, conv)
	}
	return err
}

// translateAssignee maps a CHAT agent id to the ERP operator key. An
// unmapped id is stored raw, with a warning, so the assignment survives
// until the user sync catches up.
func (s *Server) translateAssignee(ctx context.Context, tx pgx.Tx, assigneeID int) (string, *uuid.UUID) {
	key, err := s.Store.MapChatwootUser(ctx, tx, assigneeID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.Log.Error().Err(err).Int("assignee_id", assigneeID).Msg("assignee lookup failed")
		} else {
			s.Log.Warn().Int("assignee_id", assigneeID).Msg("assignee has no erp mapping, storing raw id")
		}
		return strconv.Itoa(assigneeID), nil
	}
	return key.String(), &key
}

// applyAttributes folds the mirrored custom-attribute subset into the row.
// Parse failures skip the attributes, never the event.
func (s *Server) applyAttributes(c *store.Consultation, attrs map[string]any) {
	if len(attrs) == 0 {
		return
	}
	parsed, err := mapper.ParseAttributes(attrs)
	if err != nil {
		s.Log.Warn().Err(err).Str("cons_id", c.ConsID).Msg("ignoring malformed custom attributes")
		return
	}
	if parsed.DateCon != nil {
		c.StartDate = parsed.DateCon
	}
	if parsed.ConEnd != nil {
		c.EndDate = parsed.ConEnd
	}
	if parsed.RedateCon != nil {
		c.Redate = parsed.RedateCon
	}
	if parsed.RetimeCon != nil {
		c.RedateTime = parsed.RetimeCon
	}
	if parsed.ClosedWithoutCon != nil {
		c.Denied = *parsed.ClosedWithoutCon
	}
}

func (s *Server) payloadRefKey(conv conversation) *uuid.UUID {
	if v, ok := conv.CustomAttributes[refKeyAttribute].(string); ok {
		return mapper.CleanUUID(v)
	}
	return nil
}

// enqueueERPWrite pushes the status and/or manager change to the ERP on
// the background queue and flips the sync pointers on success.
func (s *Server) enqueueERPWrite(c *store.Consultation, statusChanged, managerChanged bool, managerKey *uuid.UUID) {
	consID := c.ConsID
	refKey := *c.ClRefKey

	var patch odata.ConsultationPatch
	if statusChanged {
		st := erpStatus(c.Status)
		patch.Status = &st
	}
	if managerChanged && managerKey != nil {
		patch.ManagerKey = managerKey
	}
	if patch.Status == nil && patch.ManagerKey == nil {
		return
	}

	s.Writer.Enqueue(Job{ConsID: consID, Run: func(ctx context.Context) error {
		if err := s.OData.UpdateConsultation(ctx, erpConsultationEntity, refKey, patch); err != nil {
			return err
		}
		if patch.Status != nil {
			if err := s.Store.MarkChangeSynced(ctx, s.Store.Pool, consID, "status", store.SyncedToERP); err != nil {
				return err
			}
		}
		if patch.ManagerKey != nil {
			if err := s.Store.MarkChangeSynced(ctx, s.Store.Pool, consID, "manager", store.SyncedToERP); err != nil {
				return err
			}
		}
		return nil
	}})
}

func (s *Server) logChange(ctx context.Context, tx pgx.Tx, consID, field string, oldVal *string, newVal string) error {
	return s.Store.AppendChange(ctx, tx, store.ChangeEntry{
		ConsID:   consID,
		Field:    field,
		OldValue: oldVal,
		NewValue: &newVal,
		Source:   store.SourceChat,
	})
}

// mapChatStatus maps a CHAT conversation status onto the domain one. An
// unknown status maps to empty, meaning "no status information".
func mapChatStatus(s string) store.Status {
	switch s {
	case "open":
		return store.StatusOpen
	case "pending":
		return store.StatusPending
	case "resolved":
		return store.StatusResolved
	}
	return ""
}

// chatStatus maps a domain status back onto the CHAT vocabulary.
func chatStatus(s store.Status) string {
	switch s {
	case store.StatusPending:
		return "pending"
	case store.StatusClosed, store.StatusResolved, store.StatusCancelled:
		return "resolved"
	}
	return "open"
}

// erpStatus maps a domain status onto the ERP's status vocabulary.
func erpStatus(s store.Status) string {
	switch s {
	case store.StatusNew, store.StatusOpen:
		return "new"
	case store.StatusPending:
		return "in_progress"
	case store.StatusClosed, store.StatusResolved:
		return "closed"
	case store.StatusCancelled:
		return "cancelled"
	}
	return string(s)
}
