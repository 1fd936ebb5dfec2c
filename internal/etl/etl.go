// Package etl implements the incremental pullers from the ERP: the
// consultation pivot puller and its satellites. All pullers share the same
// skeleton: paginate, process a batch in one transaction, commit, then
// save the checkpoint in its own commit.
package etl

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/consbridge/consbridge/internal/chat"
	"github.com/consbridge/consbridge/internal/config"
	"github.com/consbridge/consbridge/internal/notify"
	"github.com/consbridge/consbridge/internal/odata"
	"github.com/consbridge/consbridge/internal/selector"
	"github.com/consbridge/consbridge/internal/store"
)

// Checkpoint entity names. Each puller is single-writer over its own name.
const (
	EntityConsultations = "consultations"
	EntityBulk          = "consultations_all"
	EntityCalls         = "calls"
	EntityRedates       = "redates"
	EntityRatings       = "ratings"
	EntityClosings      = "queue_closings"
	EntityUsers         = "users"
)

// ERP OData entity names.
const (
	odataConsultations  = "ConsultationDoc"
	odataCalls          = "CallRegister"
	odataRedates        = "ReschedRegister"
	odataRatings        = "RatingRegister"
	odataClosings       = "QueueClosingRegister"
	odataUsers          = "UserCatalog"
	odataDepartments    = "DepartmentCatalog"
	odataUserDepartment = "UserDepartmentRegister"
	odataUserLanguage   = "UserLanguageRegister"
	odataConsultantList = "ConsultantListRegister"
	odataUserCategory   = "UserCategoryRegister"
)

// ETL bundles the dependencies of all pullers.
type ETL struct {
	Cfg      *config.Config
	Store    *store.Store
	OData    *odata.Client
	Chat     *chat.Client
	Notifier *notify.Notifier
	Selector *selector.Selector
	Log      zerolog.Logger
}

// New wires an ETL.
func New(cfg *config.Config, st *store.Store, od *odata.Client, ch *chat.Client, log zerolog.Logger) *ETL {
	return &ETL{
		Cfg:   cfg,
		Store: st,
		OData: od,
		Chat:  ch,
		Notifier: &notify.Notifier{
			Store:        st,
			Chat:         ch,
			Log:          log,
			SendWaitTime: cfg.SendQueueWaitTimeMessage,
		},
		Selector: &selector.Selector{},
		Log:      log,
	}
}

// since computes the lower bound of an incremental filter: the checkpoint
// minus the entity's safety buffer, or the configured first-run date.
func (e *ETL) since(cp store.Checkpoint, buffer time.Duration) time.Time {
	if cp.LastSyncedAt == nil {
		return e.Cfg.InitialFromDate
	}
	return cp.LastSyncedAt.Add(-buffer)
}

// clampNow caps a cursor candidate at the current wall clock, so source
// rows timestamped in the future cannot pin the cursor forward.
func clampNow(t time.Time) time.Time {
	if now := time.Now().UTC(); t.After(now) {
		return now
	}
	return t
}

// maxTime folds a batch's observed change timestamps.
func maxTime(cur time.Time, candidate *time.Time) time.Time {
	if candidate != nil && candidate.After(cur) {
		return *candidate
	}
	return cur
}

// errThrottle limits per-record semantic error logging to the configured
// count; the rest are counted silently to avoid flooding the log.
type errThrottle struct {
	max   int
	count int
	log   zerolog.Logger
}

func (t *errThrottle) record(err error, refKey string) {
	t.count++
	if t.count <= t.max {
		t.log.Error().Err(err).Str("ref_key", refKey).Msg("skipping record")
		if t.count == t.max {
			t.log.Warn().Int("max", t.max).Msg("further record errors suppressed")
		}
	}
}

func (t *errThrottle) finish() {
	if t.count > 0 {
		t.log.Warn().Int("skipped_records", t.count).Msg("run completed with skipped records")
	}
}

// warn demotes a downstream (CHAT) failure: the pull never fails on it.
func (e *ETL) warn(err error, consID, op string) {
	if err != nil {
		e.Log.Warn().Err(err).Str("cons_id", consID).Str("op", op).Msg("chat fan-out failed, continuing")
	}
}

// background runs an ERP write-back outside the batch transaction. It is
// detached from the caller's transaction but bounded by ctx so shutdown
// still drains it.
func (e *ETL) background(ctx context.Context, consID string, fn func(context.Context) error) {
	go func() {
		bctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := fn(bctx); err != nil {
			e.Log.Warn().Err(err).Str("cons_id", consID).Msg("background erp write failed")
		}
	}()
}
