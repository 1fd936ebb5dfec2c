package selector

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/consbridge/consbridge/internal/store"
)

func strp(s string) *string { return &s }

func operator(name string, limit int) store.Operator {
	key := uuid.New()
	return store.Operator{
		User: store.User{
			AccountID:           uuid.New(),
			ClRefKey:            &key,
			Description:         name,
			ConLimit:            limit,
			ConsultationEnabled: true,
		},
		Skills: map[uuid.UUID]bool{},
	}
}

func noon() time.Time {
	return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
}

func TestSelectPicksLeastLoaded(t *testing.T) {
	a := operator("A", 10)
	b := operator("B", 10)
	c := operator("C", 10)

	counts := map[string]int{
		a.ClRefKey.String(): 3,
		b.ClRefKey.String(): 3,
		c.ClRefKey.String(): 7,
	}

	// A and B are tied at 0.3; C at 0.7 is out of the band. With IntN
	// pinned to the last tied entry the pick must still be A or B.
	sel := &Selector{IntN: func(n int) int { return n - 1 }}
	got, err := sel.Select(Input{Now: noon(), Type: store.TypeTechSupport}, []store.Operator{a, b, c}, counts, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Operator.Description == "C" {
		t.Error("overloaded operator must not be picked")
	}
	if got.LoadRatio != 0.3 {
		t.Errorf("load ratio = %v", got.LoadRatio)
	}
}

func TestSelectTieBand(t *testing.T) {
	a := operator("A", 10) // 0.30
	b := operator("B", 10) // 0.39, within 0.1 of best
	counts := map[string]int{
		a.ClRefKey.String(): 3,
		b.ClRefKey.String(): 4,
	}

	picked := map[string]bool{}
	for i := 0; i < 2; i++ {
		i := i
		sel := &Selector{IntN: func(n int) int { return i % n }}
		got, err := sel.Select(Input{Now: noon(), Type: store.TypeTechSupport}, []store.Operator{a, b}, counts, nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		picked[got.Operator.Description] = true
	}
	if !picked["A"] || !picked["B"] {
		t.Errorf("both tied operators must be reachable, got %v", picked)
	}
}

func TestSelectBandBoundaryIsStrict(t *testing.T) {
	a := operator("A", 10) // 0.40, exactly one band above best
	b := operator("B", 10) // 0.30
	counts := map[string]int{
		a.ClRefKey.String(): 4,
		b.ClRefKey.String(): 3,
	}

	// IntN pinned to the last tied entry: if A slipped into the band it
	// would be picked here.
	sel := &Selector{IntN: func(n int) int { return n - 1 }}
	for i := 0; i < 3; i++ {
		got, err := sel.Select(Input{Now: noon(), Type: store.TypeTechSupport}, []store.Operator{a, b}, counts, nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if got.Operator.Description != "B" {
			t.Fatalf("picked %q at a 0.1 load gap, want B exclusively", got.Operator.Description)
		}
	}
}

func TestSelectFilters(t *testing.T) {
	closedKey := uuid.New()

	deleted := operator("deleted", 5)
	deleted.DeletionMark = true
	disabled := operator("disabled", 5)
	disabled.ConsultationEnabled = false
	zeroLimit := operator("zero", 0)
	closedOp := operator("closed", 5)
	closedOp.ClRefKey = &closedKey
	ok := operator("ok", 5)

	sel := &Selector{IntN: func(int) int { return 0 }}
	got, err := sel.Select(
		Input{Now: noon(), Type: store.TypeTechSupport},
		[]store.Operator{deleted, disabled, zeroLimit, closedOp, ok},
		nil,
		map[uuid.UUID]bool{closedKey: true},
	)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Operator.Description != "ok" {
		t.Errorf("picked %q", got.Operator.Description)
	}
}

func TestSelectNoCandidate(t *testing.T) {
	bad := operator("bad", 5)
	bad.Invalid = true

	sel := &Selector{}
	_, err := sel.Select(Input{Now: noon(), Type: store.TypeTechSupport}, []store.Operator{bad}, nil, nil)
	if !errors.Is(err, ErrNoCandidate) {
		t.Errorf("want ErrNoCandidate, got %v", err)
	}
}

func TestAccountingRequiresDepartmentAndHours(t *testing.T) {
	cat := uuid.New()

	noDept := operator("no dept", 5)
	noDept.StartHour, noDept.EndHour = strp("09:00"), strp("18:00")
	noDept.RU = true
	noDept.Skills[cat] = true

	noHours := operator("no hours", 5)
	noHours.Department = AccountingDepartment
	noHours.RU = true
	noHours.Skills[cat] = true

	good := operator("good", 5)
	good.Department = AccountingDepartment
	good.StartHour, good.EndHour = strp("09:00"), strp("18:00")
	good.RU = true
	good.Skills[cat] = true

	sel := &Selector{IntN: func(int) int { return 0 }}
	got, err := sel.Select(
		Input{Now: noon(), Type: store.TypeAccounting, CategoryKey: &cat, Language: "ru"},
		[]store.Operator{noDept, noHours, good},
		nil, nil,
	)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Operator.Description != "good" {
		t.Errorf("picked %q", got.Operator.Description)
	}
}

func TestAccountingSkillAndLanguageStrict(t *testing.T) {
	cat := uuid.New()

	mk := func(name string, skilled, ru bool) store.Operator {
		op := operator(name, 5)
		op.Department = AccountingDepartment
		op.StartHour, op.EndHour = strp("09:00"), strp("18:00")
		op.RU = ru
		if skilled {
			op.Skills[cat] = true
		}
		return op
	}

	unskilled := mk("unskilled", false, true)
	wrongLang := mk("wrong lang", true, false)
	good := mk("good", true, true)

	sel := &Selector{IntN: func(int) int { return 0 }}
	got, err := sel.Select(
		Input{Now: noon(), Type: store.TypeAccounting, CategoryKey: &cat, CategoryLanguage: "ru"},
		[]store.Operator{unskilled, wrongLang, good},
		nil, nil,
	)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Operator.Description != "good" {
		t.Errorf("picked %q", got.Operator.Description)
	}
}

func TestGeneralSkillTiers(t *testing.T) {
	cat := uuid.New()
	po := uuid.New()
	other := uuid.New()

	matched := operator("matched", 5)
	matched.Skills[cat] = true
	skilled := operator("skilled", 5)
	skilled.Skills[other] = true
	universal := operator("universal", 5)

	sel := &Selector{IntN: func(int) int { return 0 }}

	got, err := sel.Select(
		Input{Now: noon(), Type: store.TypeTechSupport, CategoryKey: &cat, POSectionKey: &po},
		[]store.Operator{universal, skilled, matched},
		nil, nil,
	)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Operator.Description != "matched" {
		t.Errorf("category match must win, picked %q", got.Operator.Description)
	}

	// Without a category match, any skilled operator with a po section
	// beats the universal one.
	got, err = sel.Select(
		Input{Now: noon(), Type: store.TypeTechSupport, CategoryKey: &cat, POSectionKey: &po},
		[]store.Operator{universal, skilled},
		nil, nil,
	)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Operator.Description != "skilled" {
		t.Errorf("skilled tier must win over universal, picked %q", got.Operator.Description)
	}
}

func TestWithinHoursWrapsMidnight(t *testing.T) {
	tests := []struct {
		name       string
		start, end *string
		at         time.Time
		typ        store.ConsultationType
		want       bool
	}{
		{"inside plain window", strp("09:00"), strp("18:00"), noon(), store.TypeTechSupport, true},
		{"outside plain window", strp("09:00"), strp("11:00"), noon(), store.TypeTechSupport, false},
		{"wrap admits small hours", strp("22:00"), strp("06:00"),
			time.Date(2026, 2, 10, 3, 0, 0, 0, time.UTC), store.TypeTechSupport, true},
		{"wrap rejects midday", strp("22:00"), strp("06:00"), noon(), store.TypeTechSupport, false},
		{"no hours ok for tech support", nil, nil, noon(), store.TypeTechSupport, true},
		{"no hours fails accounting", nil, nil, noon(), store.TypeAccounting, false},
		{"boundary inclusive", strp("12:00"), strp("13:00"), noon(), store.TypeTechSupport, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withinHours(tt.at, tt.start, tt.end, tt.typ); got != tt.want {
				t.Errorf("withinHours = %v, want %v", got, tt.want)
			}
		})
	}
}
