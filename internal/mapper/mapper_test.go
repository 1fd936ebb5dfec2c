package mapper

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/consbridge/consbridge/internal/store"
)

func TestMapStatus(t *testing.T) {
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		denied   bool
		endDate  *time.Time
		category string
		want     store.Status
	}{
		{"denied wins over everything", true, &end, "accounting", store.StatusCancelled},
		{"end date closes", false, &end, "queue", store.StatusClosed},
		{"accounting opens", false, nil, "accounting", store.StatusOpen},
		{"accounting case insensitive", false, nil, " Accounting ", store.StatusOpen},
		{"queue pends", false, nil, "queue", store.StatusPending},
		{"other", false, nil, "other", store.StatusOther},
		{"unknown falls to new", false, nil, "whatever", store.StatusNew},
		{"empty falls to new", false, nil, "", store.StatusNew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapStatus(tt.denied, tt.endDate, tt.category); got != tt.want {
				t.Errorf("MapStatus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCleanUUID(t *testing.T) {
	valid := "b5f9a2d0-1111-4222-8333-444455556666"

	tests := []struct {
		in      string
		wantNil bool
	}{
		{"", true},
		{"00000000-0000-0000-0000-000000000000", true},
		{"not-a-uuid", true},
		{valid, false},
	}
	for _, tt := range tests {
		got := CleanUUID(tt.in)
		if (got == nil) != tt.wantNil {
			t.Errorf("CleanUUID(%q) nil = %v, want %v", tt.in, got == nil, tt.wantNil)
		}
		if got != nil && got.String() != tt.in {
			t.Errorf("CleanUUID(%q) = %s", tt.in, got)
		}
	}
}

func TestCleanTime(t *testing.T) {
	tests := []struct {
		in      string
		wantNil bool
		want    time.Time
	}{
		{"", true, time.Time{}},
		{"0001-01-01T00:00:00", true, time.Time{}},
		{"2026-02-10T09:30:00", false, time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)},
		{"2026-02-10T09:30:00Z", false, time.Date(2026, 2, 10, 9, 30, 0, 0, time.UTC)},
		{"garbage", true, time.Time{}},
	}
	for _, tt := range tests {
		got := CleanTime(tt.in)
		if (got == nil) != tt.wantNil {
			t.Fatalf("CleanTime(%q) nil = %v, want %v", tt.in, got == nil, tt.wantNil)
		}
		if got != nil && !got.Equal(tt.want) {
			t.Errorf("CleanTime(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsValidChatID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"12345", true},
		{"1", true},
		{"1234567890", true},
		{"12345678901", false}, // 11 chars
		{"", false},
		{"12a45", false},
		{"cl_b5f9a2d0-1111-4222-8333-444455556666", false},
		{"-123", false},
	}
	for _, tt := range tests {
		if got := IsValidChatID(tt.id); got != tt.want {
			t.Errorf("IsValidChatID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestTempIDs(t *testing.T) {
	key := uuid.MustParse("b5f9a2d0-1111-4222-8333-444455556666")
	if got := TempConsID(key); got != "cl_"+key.String() {
		t.Errorf("TempConsID = %q", got)
	}
	if got := TempBulkConsID(key); got != "cl_all_"+key.String() {
		t.Errorf("TempBulkConsID = %q", got)
	}
	if IsValidChatID(TempConsID(key)) {
		t.Error("temporary id must not pass the chat id check")
	}
}

func TestQARowsNumbering(t *testing.T) {
	rec := ConsultationRecord{
		RefKey: "b5f9a2d0-1111-4222-8333-444455556666",
		Questions: []QAEntry{
			{LineNumber: 1, Question: "q1"},
			{LineNumber: 2, Question: "q2"},
		},
		OnlineQuestions: []QAEntry{
			{Question: "oq1"},
			{Question: "oq2"},
		},
	}

	rows := QARows(rec)
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want 4", len(rows))
	}
	wantLines := []int{1, 2, 1000, 1001}
	for i, want := range wantLines {
		if rows[i].LineNumber != want {
			t.Errorf("row %d line = %d, want %d", i, rows[i].LineNumber, want)
		}
	}

	// Rebuilding from the same record is a fixed point.
	again := QARows(rec)
	for i := range rows {
		if rows[i] != again[i] {
			t.Errorf("rebuild diverged at row %d", i)
		}
	}
}

func TestQARowsMissingLineNumbers(t *testing.T) {
	rec := ConsultationRecord{
		RefKey: "b5f9a2d0-1111-4222-8333-444455556666",
		Questions: []QAEntry{
			{Question: "a"},
			{Question: "b"},
		},
	}
	rows := QARows(rec)
	if rows[0].LineNumber != 1 || rows[1].LineNumber != 2 {
		t.Errorf("fallback numbering = %d, %d", rows[0].LineNumber, rows[1].LineNumber)
	}
}

func TestMapConsultation(t *testing.T) {
	rec := ConsultationRecord{
		RefKey:     "b5f9a2d0-1111-4222-8333-444455556666",
		Number:     "A-100",
		Category:   "queue",
		Kind:       "accounting",
		ManagerKey: "00000000-0000-0000-0000-000000000000",
	}
	c, ok := MapConsultation(rec)
	if !ok {
		t.Fatal("expected ok")
	}
	if c.Status != store.StatusPending {
		t.Errorf("status = %v", c.Status)
	}
	if c.Type != store.TypeAccounting {
		t.Errorf("type = %v", c.Type)
	}
	if c.Manager != nil {
		t.Error("zero manager key must map to absent")
	}

	if _, ok := MapConsultation(ConsultationRecord{RefKey: "bad"}); ok {
		t.Error("unusable ref key must be rejected")
	}
}

func TestCleanTimeOfDay(t *testing.T) {
	tests := []struct {
		in   string
		want string // empty means nil
	}{
		{"09:30:00", "09:30"},
		{"09:30", "09:30"},
		{"", ""},
		{"junk", ""},
	}
	for _, tt := range tests {
		got := CleanTimeOfDay(tt.in)
		if tt.want == "" {
			if got != nil {
				t.Errorf("CleanTimeOfDay(%q) = %q, want nil", tt.in, *got)
			}
			continue
		}
		if got == nil || *got != tt.want {
			t.Errorf("CleanTimeOfDay(%q) = %v, want %q", tt.in, got, tt.want)
		}
	}
}
