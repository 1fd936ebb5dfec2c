package odata

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestQueryEncode(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want string
	}{
		{
			"format only",
			Query{},
			"$format=json",
		},
		{
			"filter keeps odata punctuation",
			Query{Filter: "ChangeDate ge datetime'2026-01-01T00:00:00'"},
			"$format=json&$filter=ChangeDate%20ge%20datetime'2026-01-01T00:00:00'",
		},
		{
			"orderby top skip",
			Query{OrderBy: "ChangeDate asc", Top: 1000, Skip: 2000},
			"$format=json&$orderby=ChangeDate%20asc&$top=1000&$skip=2000",
		},
		{
			"parens and comparison survive",
			Query{Filter: "(A eq 1) or (B lt 2)"},
			"$format=json&$filter=(A%20eq%201)%20or%20(B%20lt%202)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Encode(); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEscapeClauseNonASCII(t *testing.T) {
	got := escapeClause("Поле eq 1")
	if strings.ContainsAny(got, "Поле ") {
		t.Errorf("non-ascii and spaces must be escaped, got %q", got)
	}
	if !strings.Contains(got, "%20") {
		t.Errorf("space must encode as %%20, got %q", got)
	}
}

func TestDatetimeLiteral(t *testing.T) {
	ts := time.Date(2026, 2, 10, 9, 30, 15, 0, time.FixedZone("x", 3*3600))
	if got := DatetimeLiteral(ts); got != "datetime'2026-02-10T06:30:15'" {
		t.Errorf("DatetimeLiteral = %q", got)
	}
}

func TestGuidAnyFilter(t *testing.T) {
	a := uuid.MustParse("11111111-1111-4111-8111-111111111111")
	b := uuid.MustParse("22222222-2222-4222-8222-222222222222")

	got := GuidAnyFilter("Ref_Key", []uuid.UUID{a, b})
	want := "Ref_Key eq guid'" + a.String() + "' or Ref_Key eq guid'" + b.String() + "'"
	if got != want {
		t.Errorf("GuidAnyFilter = %q, want %q", got, want)
	}

	if got := GuidAnyFilter("Ref_Key", nil); got != "" {
		t.Errorf("empty key set should produce empty filter, got %q", got)
	}
}
