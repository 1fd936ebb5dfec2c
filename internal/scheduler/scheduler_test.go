package scheduler

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/consbridge/consbridge/internal/config"
	"github.com/consbridge/consbridge/internal/etl"
)

func TestAdvisoryKeyStable(t *testing.T) {
	a := advisoryKey("consultations")
	b := advisoryKey("consultations")
	if a != b {
		t.Error("key must be deterministic")
	}
	if advisoryKey("consultations") == advisoryKey("ratings") {
		t.Error("distinct entities must not share a lock key")
	}
}

func TestConsultationModesShareLock(t *testing.T) {
	s := New(nil, &config.Config{}, nil, zerolog.Nop())

	locks := map[string]int64{}
	for _, job := range s.Jobs {
		locks[job.Entity] = advisoryKey(job.lockName())
	}

	incremental, ok1 := locks[etl.EntityConsultations]
	open, ok2 := locks[etl.EntityConsultations+"_open"]
	if !ok1 || !ok2 {
		t.Fatal("both consultation jobs must be scheduled")
	}
	if incremental != open {
		t.Error("incremental and open-update must contend for the same lock")
	}

	if locks[etl.EntityRatings] == incremental {
		t.Error("other entities must keep their own locks")
	}
}
