// Package webhook receives CHAT events, reconciles them into the store and
// pushes the resulting ERP writes through a background worker queue. The
// HTTP handler itself never blocks on ERP I/O.
package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	writerWorkers  = 4
	writerQueueCap = 256
	writerTimeout  = 2 * time.Minute
)

// Job is one deferred ERP write. It runs on its own database connections;
// nothing from the originating request outlives the handler.
type Job struct {
	ConsID string
	Run    func(ctx context.Context) error
}

// Writer is the bounded background write queue.
type Writer struct {
	jobs chan Job
	wg   sync.WaitGroup
	log  zerolog.Logger
}

// NewWriter starts the worker pool.
func NewWriter(log zerolog.Logger) *Writer {
	w := &Writer{
		jobs: make(chan Job, writerQueueCap),
		log:  log,
	}
	w.wg.Add(writerWorkers)
	for i := 0; i < writerWorkers; i++ {
		go w.worker()
	}
	return w
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writerTimeout)
		if err := job.Run(ctx); err != nil {
			w.log.Warn().Err(err).Str("cons_id", job.ConsID).Msg("background erp write failed")
		}
		cancel()
	}
}

// Enqueue hands a job to the pool. A full queue drops the job with an
// error log rather than blocking the webhook handler; the next ETL pull
// reconciles whatever was lost.
func (w *Writer) Enqueue(job Job) {
	select {
	case w.jobs <- job:
	default:
		w.log.Error().Str("cons_id", job.ConsID).Msg("write queue full, dropping erp write")
	}
}

// Close stops intake and drains the queue.
func (w *Writer) Close() {
	close(w.jobs)
	w.wg.Wait()
}
