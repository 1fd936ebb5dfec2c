// Package notify emits the at-most-once side-effect messages to CHAT.
// Every send is guarded by the notification ledger: the identifying tuple
// is hashed, claimed in its own commit, and only then sent. Volatile
// display values (wait-time estimates) never enter the hash.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/consbridge/consbridge/internal/mapper"
	"github.com/consbridge/consbridge/internal/selector"
	"github.com/consbridge/consbridge/internal/store"
)

// Notifier sends deduplicated user-facing messages.
type Notifier struct {
	Store *store.Store
	Chat  ChatSender
	Log   zerolog.Logger

	// SendWaitTime mirrors SEND_QUEUE_WAIT_TIME_MESSAGE.
	SendWaitTime bool
}

// ChatSender is the slice of the chat client the notifier needs.
type ChatSender interface {
	SendMessage(ctx context.Context, conversationID, content string) error
}

// send claims the ledger key and delivers the message. A failed delivery
// releases the claim so the next run retries. Already-claimed keys are
// silently skipped.
func (n *Notifier) send(ctx context.Context, notifType, entityID string, data map[string]any, conversationID, message string) error {
	hash := store.NotificationHash(notifType, entityID, data)

	sent, err := n.Store.WasNotified(ctx, hash)
	if err != nil {
		return err
	}
	if sent {
		return nil
	}

	claimed, err := n.Store.TryRecordNotification(ctx, notifType, entityID, hash)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if !mapper.IsValidChatID(conversationID) {
		// No CHAT conversation to deliver to; the claim still stands so
		// the event is not replayed once an id appears.
		return nil
	}

	if err := n.Chat.SendMessage(ctx, conversationID, message); err != nil {
		if rmErr := n.Store.RemoveNotification(ctx, hash); rmErr != nil {
			n.Log.Error().Err(rmErr).Str("hash", hash).Msg("failed to release notification claim")
		}
		return fmt.Errorf("send %s notification: %w", notifType, err)
	}

	n.Log.Info().
		Str("type", notifType).
		Str("entity_id", entityID).
		Str("conversation_id", conversationID).
		Msg("notification sent")
	return nil
}

// Redate announces a reschedule. Identified by the redate row's key tuple.
func (n *Notifier) Redate(ctx context.Context, c *store.Consultation, r store.Redate) error {
	data := map[string]any{
		"cons_key":    r.ConsKey.String(),
		"clients_key": r.ClientsKey.String(),
		"manager_key": r.ManagerKey.String(),
		"period":      r.Period.UTC().Format(time.RFC3339),
	}
	newDate := ""
	if r.NewDate != nil {
		newDate = r.NewDate.UTC().Format("2006-01-02 15:04")
	}
	msg := fmt.Sprintf("Your consultation has been rescheduled to %s.", newDate)
	return n.send(ctx, store.NotifyRedate, r.ConsKey.String(), data, c.ConsID, msg)
}

// Rating thanks the client for a new rating, naming the rated manager.
func (n *Notifier) Rating(ctx context.Context, c *store.Consultation, r store.RatingAnswer, managerName string) error {
	data := map[string]any{
		"manager_key":     r.ManagerKey.String(),
		"question_number": r.QuestionNumber,
	}
	msg := fmt.Sprintf("Thank you for rating your consultation with %s.", managerName)
	return n.send(ctx, store.NotifyRating, r.ConsKey.String(), data, c.ConsID, msg)
}

// Reassignment announces a manager change. Identified by the new manager,
// not by any display data.
func (n *Notifier) Reassignment(ctx context.Context, c *store.Consultation, managerKey, managerName string) error {
	data := map[string]any{"manager": managerKey}
	msg := fmt.Sprintf("Your consultation has been assigned to %s.", managerName)
	return n.send(ctx, store.NotifyReassignment, c.ConsID, data, c.ConsID, msg)
}

// QueueUpdate posts the queue position and, optionally, the wait estimate.
// Only the manager and position identify the event: the estimate is
// volatile and excluded from the hash.
func (n *Notifier) QueueUpdate(ctx context.Context, c *store.Consultation, managerKey string, est selector.WaitEstimate) error {
	data := map[string]any{
		"manager":  managerKey,
		"position": est.Position,
	}
	return n.send(ctx, store.NotifyQueueUpdate, c.ConsID, data, c.ConsID, est.Message(n.SendWaitTime))
}

// StatusClose announces a manager-side closure, with call duration when
// both boundary timestamps are known.
func (n *Notifier) StatusClose(ctx context.Context, c *store.Consultation) error {
	data := map[string]any{"status": string(c.Status)}
	endDate := ""
	if c.EndDate != nil {
		endDate = c.EndDate.UTC().Format(time.RFC3339)
	}
	data["end_date"] = endDate

	msg := "The consultation was closed by the manager."
	if c.StartDate != nil && c.EndDate != nil && c.EndDate.After(*c.StartDate) {
		mins := int(c.EndDate.Sub(*c.StartDate).Round(time.Minute) / time.Minute)
		msg = fmt.Sprintf("The consultation was closed by the manager. Call lasted %d minutes.", mins)
	}
	return n.send(ctx, store.NotifyStatusClose, c.ConsID, data, c.ConsID, msg)
}

// Cancelled announces that the request disappeared from the ERP.
func (n *Notifier) Cancelled(ctx context.Context, c *store.Consultation) error {
	data := map[string]any{"status": string(store.StatusCancelled)}
	return n.send(ctx, store.NotifyCancelled, c.ConsID, data, c.ConsID,
		"The request was deleted in the system.")
}

// QueueClosed tells a waiting client their consultant stopped taking work
// today and they will be reassigned.
func (n *Notifier) QueueClosed(ctx context.Context, c *store.Consultation, managerKey string, day time.Time) error {
	data := map[string]any{
		"manager": managerKey,
		"day":     day.Format("2006-01-02"),
	}
	return n.send(ctx, store.NotifyQueueClosed, c.ConsID, data, c.ConsID,
		"Your consultant's queue is closed for today. You will be reassigned to another consultant.")
}
