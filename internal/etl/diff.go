package etl

import (
	"time"

	"github.com/google/uuid"

	"github.com/consbridge/consbridge/internal/store"
)

// mergeConsultation folds an incoming ERP record into the stored row,
// mutating cur in place, and returns one change entry per field that
// actually changed. Two guards apply:
//   - terminal statuses are sticky: the incoming status is ignored once
//     the stored one is closed/resolved/cancelled. A denied record is the
//     one exception: denied forces cancelled even over another terminal
//     status, so a row can never end up denied but not cancelled;
//   - the manager is never cleared by a pull: an absent incoming manager
//     keeps the stored one.
func mergeConsultation(cur, in *store.Consultation) []store.ChangeEntry {
	var changes []store.ChangeEntry

	change := func(field string, oldV, newV *string) {
		changes = append(changes, store.ChangeEntry{
			Field:    field,
			OldValue: oldV,
			NewValue: newV,
			Source:   store.SourceERP,
		})
	}

	if cur.Number != in.Number {
		change("number", strPtr(cur.Number), strPtr(in.Number))
		cur.Number = in.Number
	}

	deniedForcesCancel := in.Denied && in.Status == store.StatusCancelled
	if (!cur.Status.Terminal() || deniedForcesCancel) && cur.Status != in.Status {
		change("status", strPtr(string(cur.Status)), strPtr(string(in.Status)))
		cur.Status = in.Status
	}

	if cur.Type != in.Type {
		change("consultation_type", strPtr(string(cur.Type)), strPtr(string(in.Type)))
		cur.Type = in.Type
	}

	if cur.Denied != in.Denied {
		change("denied", boolStr(cur.Denied), boolStr(in.Denied))
		cur.Denied = in.Denied
	}

	if !timeEqual(cur.CreateDate, in.CreateDate) {
		change("create_date", timeStr(cur.CreateDate), timeStr(in.CreateDate))
		cur.CreateDate = in.CreateDate
	}
	if !timeEqual(cur.StartDate, in.StartDate) {
		change("start_date", timeStr(cur.StartDate), timeStr(in.StartDate))
		cur.StartDate = in.StartDate
	}
	if !timeEqual(cur.EndDate, in.EndDate) {
		change("end_date", timeStr(cur.EndDate), timeStr(in.EndDate))
		cur.EndDate = in.EndDate
	}

	if !uuidEqual(cur.ClientKey, in.ClientKey) {
		change("client_key", uuidStr(cur.ClientKey), uuidStr(in.ClientKey))
		cur.ClientKey = in.ClientKey
	}
	if cur.ClientID != in.ClientID {
		change("client_id", strPtr(cur.ClientID), strPtr(in.ClientID))
		cur.ClientID = in.ClientID
	}
	if cur.OrgINN != in.OrgINN {
		change("org_inn", strPtr(cur.OrgINN), strPtr(in.OrgINN))
		cur.OrgINN = in.OrgINN
	}

	if in.Manager != nil && (cur.Manager == nil || *cur.Manager != *in.Manager) {
		change("manager", cur.Manager, in.Manager)
		cur.Manager = in.Manager
	}

	if cur.Author != in.Author {
		change("author", strPtr(cur.Author), strPtr(in.Author))
		cur.Author = in.Author
	}
	if cur.Comment != in.Comment {
		change("comment", strPtr(cur.Comment), strPtr(in.Comment))
		cur.Comment = in.Comment
	}
	if cur.OnlineQuestionCat != in.OnlineQuestionCat {
		change("online_question_cat", strPtr(cur.OnlineQuestionCat), strPtr(in.OnlineQuestionCat))
		cur.OnlineQuestionCat = in.OnlineQuestionCat
	}
	if cur.OnlineQuestion != in.OnlineQuestion {
		change("online_question", strPtr(cur.OnlineQuestion), strPtr(in.OnlineQuestion))
		cur.OnlineQuestion = in.OnlineQuestion
	}

	return changes
}

// holdForERP reports whether the latest logged change blocks an ERP
// overwrite of its field: it originated on the CHAT side and the
// background write-back has not landed yet.
func holdForERP(origin store.ChangeOrigin, logged bool) bool {
	if !logged || origin.SyncedToERP {
		return false
	}
	return origin.Source == store.SourceChat || origin.Source == store.SourceAPI
}

func strPtr(s string) *string { return &s }

func boolStr(b bool) *string {
	s := "false"
	if b {
		s = "true"
	}
	return &s
}

func timeStr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func uuidStr(u *uuid.UUID) *string {
	if u == nil {
		return nil
	}
	s := u.String()
	return &s
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func uuidEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
