package etl

import (
	"testing"
	"time"

	"github.com/consbridge/consbridge/internal/config"
	"github.com/consbridge/consbridge/internal/store"
)

func TestSince(t *testing.T) {
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &ETL{Cfg: &config.Config{InitialFromDate: first}}

	if got := e.since(store.Checkpoint{}, 7*24*time.Hour); !got.Equal(first) {
		t.Errorf("empty checkpoint must fall back to the initial date, got %v", got)
	}

	cp := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	got := e.since(store.Checkpoint{LastSyncedAt: &cp}, 7*24*time.Hour)
	if want := cp.Add(-7 * 24 * time.Hour); !got.Equal(want) {
		t.Errorf("since = %v, want %v", got, want)
	}
}

func TestClampNow(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	if got := clampNow(past); !got.Equal(past) {
		t.Errorf("past timestamp must pass through, got %v", got)
	}

	future := time.Now().UTC().Add(24 * time.Hour)
	if got := clampNow(future); got.After(time.Now().UTC().Add(time.Minute)) {
		t.Errorf("future timestamp must clamp to now, got %v", got)
	}
}

func TestMaxTime(t *testing.T) {
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	later := base.Add(time.Hour)
	earlier := base.Add(-time.Hour)

	if got := maxTime(base, &later); !got.Equal(later) {
		t.Errorf("later candidate must win, got %v", got)
	}
	if got := maxTime(base, &earlier); !got.Equal(base) {
		t.Errorf("earlier candidate must lose, got %v", got)
	}
	if got := maxTime(base, nil); !got.Equal(base) {
		t.Errorf("nil candidate must keep current, got %v", got)
	}
}

func TestSemanticErrorDetection(t *testing.T) {
	plain := errTest("boom")
	if isSemantic(plain) {
		t.Error("plain error must not be semantic")
	}
	if !isSemantic(semanticError{plain}) {
		t.Error("wrapped semantic error not detected")
	}
}

type errTest string

func (e errTest) Error() string { return string(e) }
