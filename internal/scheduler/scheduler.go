// Package scheduler runs the pullers on fixed intervals. Each entity is
// single-writer: a run takes a Postgres advisory lock on the entity name
// and a second process simply skips the tick.
package scheduler

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/consbridge/consbridge/internal/config"
	"github.com/consbridge/consbridge/internal/etl"
)

// Job is one scheduled puller.
type Job struct {
	Entity   string
	Interval time.Duration
	Run      func(ctx context.Context) error
	// Lock overrides the advisory-lock name when two jobs mutate the
	// same rows; empty means lock on Entity.
	Lock string
}

func (j Job) lockName() string {
	if j.Lock != "" {
		return j.Lock
	}
	return j.Entity
}

// Scheduler supervises the periodic jobs.
type Scheduler struct {
	Pool *pgxpool.Pool
	Log  zerolog.Logger
	Jobs []Job
}

// New builds the standard job set from the configured intervals.
func New(pool *pgxpool.Pool, cfg *config.Config, e *etl.ETL, log zerolog.Logger) *Scheduler {
	jobs := []Job{
		{Entity: etl.EntityConsultations, Interval: cfg.Schedule.Consultations, Run: func(ctx context.Context) error {
			return e.RunConsultations(ctx, "incremental")
		}},
		{Entity: etl.EntityBulk, Interval: cfg.Schedule.Bulk, Run: e.RunBulk},
		{Entity: etl.EntityCalls, Interval: cfg.Schedule.Calls, Run: e.RunCalls},
		{Entity: etl.EntityRedates, Interval: cfg.Schedule.Redates, Run: e.RunRedates},
		{Entity: etl.EntityRatings, Interval: cfg.Schedule.Ratings, Run: e.RunRatings},
		{Entity: etl.EntityClosings, Interval: cfg.Schedule.Closings, Run: e.RunClosings},
		{Entity: etl.EntityUsers, Interval: cfg.Schedule.Users, Run: e.RunUsers},
		// Shares the consultation lock: both modes mutate the same rows.
		{Entity: etl.EntityConsultations + "_open", Interval: cfg.Schedule.OpenUpdate, Run: func(ctx context.Context) error {
			return e.RunConsultations(ctx, "open_update")
		}, Lock: etl.EntityConsultations},
	}
	return &Scheduler{Pool: pool, Log: log, Jobs: jobs}
}

// Run blocks until ctx is cancelled. A cancellation lets any running
// batch finish; only the next tick is suppressed.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range s.Jobs {
		job := job
		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	log := s.Log.With().Str("entity", job.Entity).Logger()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	// First run immediately, then on the interval.
	s.runOnce(ctx, job, log)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler loop stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx, job, log)
		}
	}
}

// runOnce executes one tick under the advisory lock. Job errors are
// logged, never propagated: one failing entity must not stop the others.
func (s *Scheduler) runOnce(ctx context.Context, job Job, log zerolog.Logger) {
	if ctx.Err() != nil {
		return
	}

	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to acquire lock connection")
		return
	}
	defer conn.Release()

	lockKey := advisoryKey(job.lockName())
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockKey).Scan(&locked); err != nil {
		log.Error().Err(err).Msg("advisory lock query failed")
		return
	}
	if !locked {
		log.Info().Msg("entity locked by another run, skipping tick")
		return
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockKey); err != nil {
			log.Error().Err(err).Msg("advisory unlock failed")
		}
	}()

	start := time.Now()
	log.Info().Msg("job start")
	if err := job.Run(ctx); err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
		return
	}
	log.Info().Dur("duration", time.Since(start)).Msg("job finish")
}

// advisoryKey hashes the entity name into the bigint pg advisory keyspace.
func advisoryKey(entity string) int64 {
	h := fnv.New64a()
	h.Write([]byte(entity))
	return int64(h.Sum64())
}
