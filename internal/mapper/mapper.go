// Package mapper holds the pure translation layer between ERP wire records
// and domain rows. Nothing in here touches the network or the database.
package mapper

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/consbridge/consbridge/internal/store"
)

// Category words carried on the ERP consultation document. The word decides
// the initial status when neither Denied nor EndDate settles it.
const (
	KindAccounting = "accounting"
	KindQueue      = "queue"
	KindOther      = "other"
)

// zeroUUID is the ERP's "absent reference" marker.
const zeroUUID = "00000000-0000-0000-0000-000000000000"

// odataTimeLayouts covers the timestamp shapes the ERP emits. Timestamps
// without a zone are promoted to UTC.
var odataTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339,
	time.RFC3339Nano,
}

// CleanUUID parses an ERP reference key. The all-zero UUID and anything
// unparseable map to absent.
func CleanUUID(s string) *uuid.UUID {
	if s == "" || s == zeroUUID {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return nil
	}
	return &id
}

// CleanTime parses an ERP timestamp. The 0001-01-01 sentinel and anything
// unparseable map to absent.
func CleanTime(s string) *time.Time {
	if s == "" || strings.HasPrefix(s, "0001-01-01") {
		return nil
	}
	for _, layout := range odataTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// CleanTimeOfDay normalizes an ERP time-of-day value to HH:MM. Empty and
// unparseable values map to absent.
func CleanTimeOfDay(s string) *string {
	norm, err := lenientTimeOfDay(s)
	if err != nil {
		return nil
	}
	return norm
}

// MapStatus applies the status precedence chain: denied wins, then a set
// end date, then the category word, then new.
func MapStatus(denied bool, endDate *time.Time, category string) store.Status {
	if denied {
		return store.StatusCancelled
	}
	if endDate != nil {
		return store.StatusClosed
	}
	switch strings.ToLower(strings.TrimSpace(category)) {
	case KindAccounting:
		return store.StatusOpen
	case KindQueue:
		return store.StatusPending
	case KindOther:
		return store.StatusOther
	}
	return store.StatusNew
}

// MapType maps the ERP document kind onto the two business lines.
func MapType(kind string) store.ConsultationType {
	if strings.EqualFold(strings.TrimSpace(kind), KindAccounting) {
		return store.TypeAccounting
	}
	return store.TypeTechSupport
}

// IsValidChatID reports whether a cons_id is a real CHAT conversation id:
// all digits, at most 10 characters. Temporary ids (cl_<uuid>) and ERP
// UUIDs fail this check and no CHAT sync is attempted for them.
func IsValidChatID(id string) bool {
	if id == "" || len(id) > 10 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// TempConsID builds the synthetic cons_id used until CHAT assigns a real
// conversation id.
func TempConsID(refKey uuid.UUID) string {
	return "cl_" + refKey.String()
}

// TempBulkConsID builds the synthetic cons_id for bulk-pulled rows that
// exist only for queue math.
func TempBulkConsID(refKey uuid.UUID) string {
	return "cl_all_" + refKey.String()
}

// MapConsultation translates one ERP consultation document into a domain
// row. The caller decides cons_id and source (owned vs bulk pull).
func MapConsultation(rec ConsultationRecord) (store.Consultation, bool) {
	refKey := CleanUUID(rec.RefKey)
	if refKey == nil {
		return store.Consultation{}, false
	}

	endDate := CleanTime(rec.EndDate)
	c := store.Consultation{
		ClRefKey:          refKey,
		Number:            rec.Number,
		Status:            MapStatus(rec.Denied, endDate, rec.Category),
		Type:              MapType(rec.Kind),
		Denied:            rec.Denied,
		CreateDate:        CleanTime(rec.Date),
		StartDate:         CleanTime(rec.StartDate),
		EndDate:           endDate,
		ClientKey:         CleanUUID(rec.ClientKey),
		ClientID:          rec.ClientID,
		OrgINN:            rec.OrgINN,
		Author:            rec.Author,
		Comment:           rec.Comment,
		OnlineQuestionCat: rec.OnlineQuestionCat,
		OnlineQuestion:    rec.OnlineQuestion,
	}
	if mgr := CleanUUID(rec.ManagerKey); mgr != nil {
		s := mgr.String()
		c.Manager = &s
	}
	return c, true
}

// QARows rebuilds the Q&A child rows for one consultation record. The
// second tab section is numbered from 1000 so its lines cannot collide
// with the first.
func QARows(rec ConsultationRecord) []store.QARow {
	refKey := CleanUUID(rec.RefKey)
	if refKey == nil {
		return nil
	}

	rows := make([]store.QARow, 0, len(rec.Questions)+len(rec.OnlineQuestions))
	for i, q := range rec.Questions {
		line := q.LineNumber
		if line == 0 {
			line = i + 1
		}
		rows = append(rows, store.QARow{
			ConsRefKey: *refKey,
			LineNumber: line,
			Question:   q.Question,
			Answer:     q.Answer,
			BlockKey:   CleanUUID(q.BlockKey),
		})
	}
	for i, q := range rec.OnlineQuestions {
		rows = append(rows, store.QARow{
			ConsRefKey: *refKey,
			LineNumber: 1000 + i,
			Question:   q.Question,
			Answer:     q.Answer,
			BlockKey:   CleanUUID(q.BlockKey),
		})
	}
	return rows
}

// FirstBlockKey returns the first non-null block key among Q&A rows, the
// con_blocks aggregate.
func FirstBlockKey(rows []store.QARow) *uuid.UUID {
	for _, r := range rows {
		if r.BlockKey != nil {
			return r.BlockKey
		}
	}
	return nil
}

// CallsJSON materializes the con_calls aggregate: an ordered array of
// (period, manager) pairs.
func CallsJSON(calls []store.Call) ([]byte, error) {
	type entry struct {
		Period  string `json:"period"`
		Manager string `json:"manager"`
	}
	out := make([]entry, 0, len(calls))
	for _, c := range calls {
		out = append(out, entry{
			Period:  c.Period.UTC().Format(time.RFC3339),
			Manager: c.Manager.String(),
		})
	}
	return json.Marshal(out)
}
