package etl

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/consbridge/consbridge/internal/store"
)

func strp(s string) *string { return &s }

func TestMergeConsultationTerminalStatusSticks(t *testing.T) {
	for _, terminal := range []store.Status{store.StatusClosed, store.StatusResolved, store.StatusCancelled} {
		cur := &store.Consultation{Status: terminal, Number: "A-1"}
		in := &store.Consultation{Status: store.StatusOpen, Number: "A-2"}

		changes := mergeConsultation(cur, in)

		if cur.Status != terminal {
			t.Errorf("%s: status was downgraded to %s", terminal, cur.Status)
		}
		if cur.Number != "A-2" {
			t.Errorf("%s: non-status fields must still update", terminal)
		}
		for _, ch := range changes {
			if ch.Field == "status" {
				t.Errorf("%s: no status change entry expected", terminal)
			}
		}
	}
}

func TestMergeConsultationDeniedForcesCancelled(t *testing.T) {
	for _, terminal := range []store.Status{store.StatusClosed, store.StatusResolved} {
		cur := &store.Consultation{Status: terminal}
		in := &store.Consultation{Status: store.StatusCancelled, Denied: true}

		changes := mergeConsultation(cur, in)

		if cur.Status != store.StatusCancelled {
			t.Errorf("%s: denied record must escalate to cancelled, got %s", terminal, cur.Status)
		}
		if !cur.Denied {
			t.Errorf("%s: denied flag not applied", terminal)
		}
		fields := map[string]bool{}
		for _, ch := range changes {
			fields[ch.Field] = true
		}
		if !fields["status"] || !fields["denied"] {
			t.Errorf("%s: change fields = %v", terminal, fields)
		}
	}

	// Without the denied flag a terminal status still refuses the flip.
	cur := &store.Consultation{Status: store.StatusClosed}
	in := &store.Consultation{Status: store.StatusCancelled}
	mergeConsultation(cur, in)
	if cur.Status != store.StatusClosed {
		t.Errorf("undenied terminal flip must be refused, got %s", cur.Status)
	}
}

func TestMergeConsultationStatusChangeRecorded(t *testing.T) {
	cur := &store.Consultation{Status: store.StatusPending}
	in := &store.Consultation{Status: store.StatusClosed}

	changes := mergeConsultation(cur, in)

	if cur.Status != store.StatusClosed {
		t.Fatalf("status = %s", cur.Status)
	}
	found := false
	for _, ch := range changes {
		if ch.Field == "status" {
			found = true
			if ch.Source != store.SourceERP {
				t.Errorf("source = %s", ch.Source)
			}
			if ch.OldValue == nil || *ch.OldValue != "pending" {
				t.Errorf("old = %v", ch.OldValue)
			}
			if ch.NewValue == nil || *ch.NewValue != "closed" {
				t.Errorf("new = %v", ch.NewValue)
			}
		}
	}
	if !found {
		t.Error("missing status change entry")
	}
}

func TestMergeConsultationNeverClearsManager(t *testing.T) {
	cur := &store.Consultation{Manager: strp("m1")}
	in := &store.Consultation{Manager: nil}

	changes := mergeConsultation(cur, in)

	if cur.Manager == nil || *cur.Manager != "m1" {
		t.Error("absent incoming manager must keep the stored one")
	}
	if len(changes) != 0 {
		t.Errorf("unexpected changes: %+v", changes)
	}
}

func TestMergeConsultationManagerChange(t *testing.T) {
	cur := &store.Consultation{Manager: strp("m1")}
	in := &store.Consultation{Manager: strp("m2")}

	changes := mergeConsultation(cur, in)

	if cur.Manager == nil || *cur.Manager != "m2" {
		t.Errorf("manager = %v", cur.Manager)
	}
	if len(changes) != 1 || changes[0].Field != "manager" {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[0].OldValue == nil || *changes[0].OldValue != "m1" {
		t.Errorf("old = %v", changes[0].OldValue)
	}
}

func TestMergeConsultationNoChanges(t *testing.T) {
	key := uuid.New()
	ts := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	mk := func() *store.Consultation {
		t := ts
		k := key
		return &store.Consultation{
			Number:    "A-1",
			Status:    store.StatusOpen,
			Type:      store.TypeAccounting,
			StartDate: &t,
			ClientKey: &k,
			Manager:   strp("m1"),
		}
	}

	if changes := mergeConsultation(mk(), mk()); len(changes) != 0 {
		t.Errorf("identical rows must produce no changes, got %+v", changes)
	}
}

func TestHoldForERP(t *testing.T) {
	tests := []struct {
		name   string
		origin store.ChangeOrigin
		logged bool
		want   bool
	}{
		{"chat change not yet pushed", store.ChangeOrigin{Source: store.SourceChat}, true, true},
		{"api change not yet pushed", store.ChangeOrigin{Source: store.SourceAPI}, true, true},
		{"chat change already pushed", store.ChangeOrigin{Source: store.SourceChat, SyncedToERP: true}, true, false},
		{"erp-born change", store.ChangeOrigin{Source: store.SourceERP}, true, false},
		{"etl-born change", store.ChangeOrigin{Source: store.SourceETL}, true, false},
		{"never logged", store.ChangeOrigin{}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := holdForERP(tt.origin, tt.logged); got != tt.want {
				t.Errorf("holdForERP = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeConsultationDates(t *testing.T) {
	old := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	new_ := time.Date(2026, 2, 11, 10, 0, 0, 0, time.UTC)

	cur := &store.Consultation{StartDate: &old}
	in := &store.Consultation{StartDate: &new_, EndDate: &new_}

	changes := mergeConsultation(cur, in)

	if !cur.StartDate.Equal(new_) || cur.EndDate == nil {
		t.Errorf("dates not applied: start=%v end=%v", cur.StartDate, cur.EndDate)
	}
	fields := map[string]bool{}
	for _, ch := range changes {
		fields[ch.Field] = true
	}
	if !fields["start_date"] || !fields["end_date"] {
		t.Errorf("change fields = %v", fields)
	}
}
