package store

import (
	"time"

	"github.com/google/uuid"
)

// Status is the consultation lifecycle state.
type Status string

const (
	StatusNew       Status = "new"
	StatusPending   Status = "pending"
	StatusOpen      Status = "open"
	StatusOther     Status = "other"
	StatusClosed    Status = "closed"
	StatusResolved  Status = "resolved"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is sticky: an ERP pull never
// downgrades a consultation out of a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusClosed, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// ConsultationType distinguishes the two business lines.
type ConsultationType string

const (
	TypeAccounting  ConsultationType = "accounting"
	TypeTechSupport ConsultationType = "tech_support"
)

// Source tags where a row (or a mutation) originated.
type Source string

const (
	SourceETL    Source = "ETL"
	SourceERP    Source = "ERP"
	SourceERPAll Source = "ERP_ALL"
	SourceChat   Source = "CHAT"
	SourceAPI    Source = "API"
)

// Consultation is the pivot entity, joined across ERP and CHAT.
type Consultation struct {
	ConsID            string
	ClRefKey          *uuid.UUID
	Number            string
	Status            Status
	Type              ConsultationType
	Denied            bool
	CreateDate        *time.Time
	StartDate         *time.Time
	EndDate           *time.Time
	Redate            *time.Time // date portion only
	RedateTime        *string    // HH:MM
	ClientKey         *uuid.UUID
	ClientID          string
	OrgINN            string
	Manager           *string // ERP operator UUID, or raw CHAT id when unmapped
	Author            string
	Comment           string
	OnlineQuestionCat string
	OnlineQuestion    string
	Source            Source
	ConBlocks         *uuid.UUID
	ConCalls          []byte // ordered JSON array of (period, manager)
	ConRates          []byte // materialized rating aggregate
}

// QARow is one question/answer pair of a consultation.
type QARow struct {
	ConsRefKey uuid.UUID
	LineNumber int
	Question   string
	Answer     string
	BlockKey   *uuid.UUID
}

// Call is a single dial attempt. Insert-only.
type Call struct {
	Period  time.Time
	ConsKey uuid.UUID
	Manager uuid.UUID
}

// Redate is a reschedule event. Insert-only.
type Redate struct {
	ConsKey    uuid.UUID
	ClientsKey uuid.UUID
	ManagerKey uuid.UUID
	Period     time.Time
	OldDate    *time.Time
	NewDate    *time.Time
}

// RatingAnswer is one answered rating question.
type RatingAnswer struct {
	ConsKey        uuid.UUID
	ManagerKey     uuid.UUID
	QuestionNumber int
	RefKey         uuid.UUID
	Value          *float64
}

// RatingAggregate is materialized onto the parent consultation.
type RatingAggregate struct {
	Average   float64        `json:"average"`
	Count     int            `json:"count"`
	Questions []RatingDetail `json:"questions"`
}

// RatingDetail is one per-question entry of the aggregate.
type RatingDetail struct {
	QuestionNumber int      `json:"question_number"`
	Value          *float64 `json:"value"`
}

// User is an ERP operator. Rebuilt from the ERP catalog each run.
type User struct {
	AccountID           uuid.UUID
	ClRefKey            *uuid.UUID
	Description         string
	Department          string
	ConLimit            int
	StartHour           *string // HH:MM
	EndHour             *string // HH:MM
	RU                  bool
	UZ                  bool
	DeletionMark        bool
	Invalid             bool
	ConsultationEnabled bool
	ChatwootUserID      *int
	ChatwootTeam        string
}

// UserSkill links an operator to a consultation category.
type UserSkill struct {
	UserKey     uuid.UUID
	CategoryKey uuid.UUID
}

// QueueClosing marks an operator's queue closed for one day.
type QueueClosing struct {
	PeriodDay  time.Time
	ManagerKey uuid.UUID
}

// ChangeEntry is one append-only change-log row.
type ChangeEntry struct {
	ID           int64
	ConsID       string
	Field        string
	OldValue     *string
	NewValue     *string
	Source       Source
	SyncedToChat bool
	SyncedToERP  bool
	CreatedAt    time.Time
}
