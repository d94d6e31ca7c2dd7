// Package drain moves buffered records into the store.
//
// A single Worker pops whatever the buffer holds (up to MaxBatch), copies it
// to the store and commits, one commit per cycle. When the buffer is empty
// the worker sleeps until the next push, a stop request, or the idle
// interval elapses. After Stop it keeps flushing until the buffer is empty
// and then exits; Wait joins it.
package drain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/vtt-scp/ccom-logger/internal/buffer"
	"github.com/vtt-scp/ccom-logger/internal/logging"
	"github.com/vtt-scp/ccom-logger/internal/record"
	"github.com/vtt-scp/ccom-logger/internal/telemetry"
)

// ErrStoreWrite marks a batch that could not be committed after all retry
// attempts. The worker stops after returning it.
var ErrStoreWrite = errors.New("drain: store write failed")

// Store is the part of the store client the worker drives. Copy stages the
// rows in the current transaction; Commit makes them durable. A failed Copy
// or Commit leaves no transaction open.
type Store interface {
	Copy(ctx context.Context, recs []record.Record) (int64, error)
	Commit(ctx context.Context) error
}

type Config struct {
	MaxBatch     int           `yaml:"max_batch"`
	IdleInterval time.Duration `yaml:"idle_interval"`
	Attempts     uint          `yaml:"attempts"`
	Backoff      time.Duration `yaml:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.MaxBatch <= 0 {
		c.MaxBatch = 1000
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = time.Second
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
}

type Worker struct {
	buf   *buffer.Queue[record.Record]
	store Store
	cfg   Config
	log   *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	err       error
}

func New(buf *buffer.Queue[record.Record], store Store, cfg Config) *Worker {
	cfg.applyDefaults()
	return &Worker{
		buf:   buf,
		store: store,
		cfg:   cfg,
		log:   logging.Component("drain"),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the worker goroutine. Cancelling ctx aborts the worker even
// if records remain; a normal shutdown uses Stop instead.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() { go w.run(ctx) })
}

// Stop tells the worker no more input will arrive. It returns immediately;
// use Wait to join.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed when the worker has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Wait blocks until the worker exits and returns its terminal error: nil
// after a complete drain, an ErrStoreWrite-wrapped error after a failed
// batch, or the context error after an abort.
func (w *Worker) Wait() error {
	<-w.done
	return w.err
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	idle := time.NewTicker(w.cfg.IdleInterval)
	defer idle.Stop()

	for {
		if err := ctx.Err(); err != nil {
			w.abort(err)
			return
		}

		if batch := w.buf.PopBatch(w.cfg.MaxBatch); len(batch) > 0 {
			telemetry.BufferDepth.Set(float64(w.buf.Len()))
			if err := w.flush(ctx, batch); err != nil {
				w.err = err
				w.log.Error("batch failed; worker stopping", "records", len(batch), "pending", w.buf.Len(), "err", err)
				return
			}
			continue
		}

		select {
		case <-w.stop:
			if w.buf.Len() == 0 {
				w.log.Info("buffer drained")
				return
			}
			continue
		default:
		}

		select {
		case <-w.buf.Ready():
		case <-w.stop:
		case <-idle.C:
		case <-ctx.Done():
		}
	}
}

func (w *Worker) abort(err error) {
	w.err = fmt.Errorf("drain: aborted with %d records pending: %w", w.buf.Len(), err)
	w.log.Warn("drain aborted", "pending", w.buf.Len(), "err", err)
}

func (w *Worker) flush(ctx context.Context, batch []record.Record) error {
	start := time.Now()
	err := retry.Do(
		func() error {
			n, err := w.store.Copy(ctx, batch)
			if err != nil {
				telemetry.StoreFailures.WithLabelValues("copy").Inc()
				return err
			}
			if err := w.store.Commit(ctx); err != nil {
				telemetry.StoreFailures.WithLabelValues("commit").Inc()
				return err
			}
			telemetry.RowsCommitted.Add(float64(n))
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(w.cfg.Attempts),
		retry.Delay(w.cfg.Backoff),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			w.log.Warn("batch write failed; retrying",
				"failed_attempt", n+1, "of", w.cfg.Attempts, "records", len(batch), "err", err)
		}),
	)
	if err != nil {
		telemetry.RecordsLost.Add(float64(len(batch)))
		return fmt.Errorf("%w: batch of %d records: %w", ErrStoreWrite, len(batch), err)
	}
	telemetry.BatchesCommitted.Inc()
	telemetry.FlushSeconds.Observe(time.Since(start).Seconds())
	w.log.Debug("batch committed", "records", len(batch), "took", time.Since(start))
	return nil
}
