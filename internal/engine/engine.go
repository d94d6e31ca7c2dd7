package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/vtt-scp/ccom-logger/internal/buffer"
	"github.com/vtt-scp/ccom-logger/internal/drain"
	"github.com/vtt-scp/ccom-logger/internal/logging"
	"github.com/vtt-scp/ccom-logger/internal/pipeline"
	"github.com/vtt-scp/ccom-logger/internal/record"
	"github.com/vtt-scp/ccom-logger/internal/spec"
	"github.com/vtt-scp/ccom-logger/internal/telemetry"
	"github.com/vtt-scp/ccom-logger/internal/transport"
	"github.com/vtt-scp/ccom-logger/sink"
	"github.com/vtt-scp/ccom-logger/source"
)

// ErrAlreadyStopped is returned by Stop after the first call, and by Run on
// an engine that has already shut down.
var ErrAlreadyStopped = errors.New("engine: already stopped")

type State int32

const (
	Running State = iota
	Stopping
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Draining:
		return "DRAINING"
	case Closed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Engine owns every long-lived component and tears them down in order:
// intake first, then the drain, then the store.
type Engine struct {
	cfg    spec.File
	source source.Adapter
	store  sink.Adapter
	buf    *buffer.Queue[record.Record]
	ingest *pipeline.Ingestor
	worker *drain.Worker
	log    *slog.Logger

	health  *transport.Server // nil when grpc_port is 0
	metrics *http.Server      // nil when metrics_port is 0

	state        atomic.Int32
	runOnce      sync.Once
	stopOnce     sync.Once
	stopReq      chan struct{}
	cancelSource context.CancelFunc
	cancelWorker context.CancelFunc
	sourceErr    chan error
}

// New wires the buffer, ingestion handler and drain worker around an
// already configured source and connected store. Nothing runs until Run.
func New(cfg spec.File, src source.Adapter, store sink.Adapter) (*Engine, error) {
	buf, err := buffer.New[record.Record](cfg.Buffer.Capacity)
	if err != nil {
		return nil, err
	}
	telemetry.BufferCapacity.Set(float64(buf.Cap()))

	e := &Engine{
		cfg:       cfg,
		source:    src,
		store:     store,
		buf:       buf,
		ingest:    pipeline.NewIngestor(buf, cfg.Source.Kind),
		log:       logging.Component("engine"),
		stopReq:   make(chan struct{}),
		sourceErr: make(chan error, 1),
	}
	e.worker = drain.New(buf, store, drain.Config{
		MaxBatch:     cfg.Drain.MaxBatch,
		IdleInterval: cfg.Drain.IdleInterval,
		Attempts:     cfg.Drain.RetryPolicy.Attempts,
		Backoff:      cfg.Drain.RetryPolicy.Backoff,
	})
	e.setState(Running)
	return e, nil
}

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	telemetry.CoordinatorState.Set(float64(s))
	e.log.Info("state changed", "state", s.String())
}

// Stop requests an orderly shutdown of a running engine. Run performs it
// and returns once the state is CLOSED.
func (e *Engine) Stop() error {
	err := ErrAlreadyStopped
	e.stopOnce.Do(func() {
		close(e.stopReq)
		err = nil
	})
	return err
}

// Run starts the drain worker and the source, then blocks until ctx is
// cancelled, Stop is called, the source fails or the worker gives up. It
// always finishes with a full shutdown and returns the cause joined with
// teardown errors.
func (e *Engine) Run(ctx context.Context) error {
	err := ErrAlreadyStopped
	e.runOnce.Do(func() { err = e.run(ctx) })
	return err
}

func (e *Engine) run(ctx context.Context) error {
	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	e.cancelWorker = cancelWorker
	e.worker.Start(workerCtx)

	srcCtx, cancelSource := context.WithCancel(context.WithoutCancel(ctx))
	e.cancelSource = cancelSource
	go func() { e.sourceErr <- e.source.Run(srcCtx, e.ingest.Handle) }()

	e.log.Info("bridge running",
		"source", e.cfg.Source.Kind, "driver", e.cfg.Source.Driver,
		"sink", e.cfg.Sink.Kind, "buffer_capacity", e.buf.Cap())

	var cause error
	select {
	case <-ctx.Done():
		e.log.Info("shutdown requested")
	case <-e.stopReq:
		e.log.Info("stop requested")
	case err := <-e.sourceErr:
		e.sourceErr <- err
		if err != nil {
			cause = fmt.Errorf("source: %w", err)
			e.log.Error("source failed", "err", err)
		} else {
			e.log.Warn("source stopped")
		}
	case <-e.worker.Done():
		e.log.Error("drain worker stopped")
	}

	err := e.shutdown()
	if cause != nil {
		err = multierror.Append(cause, err).ErrorOrNil()
	}
	return err
}

// shutdown runs the STOPPING, DRAINING and CLOSED phases.
func (e *Engine) shutdown() error {
	var result *multierror.Error
	ctx := context.Background()

	e.setState(Stopping)
	if e.health != nil {
		e.health.SetServing(false)
	}
	if err := e.source.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close source: %w", err))
	}
	e.cancelSource()
	<-e.sourceErr
	e.ingest.Close()
	e.worker.Stop()

	e.setState(Draining)
	e.log.Info("draining buffer", "pending", e.buf.Len())
	if err := e.joinWorker(); err != nil {
		result = multierror.Append(result, err)
	}
	if n := e.buf.Len(); n > 0 {
		e.log.Warn("records left undelivered", "pending", n)
	}

	if err := e.store.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	if e.health != nil {
		e.health.Stop()
	}
	if e.metrics != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := e.metrics.Shutdown(sctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop metrics: %w", err))
		}
		cancel()
	}
	e.setState(Closed)
	return result.ErrorOrNil()
}

// joinWorker waits for the worker to empty the buffer. With a shutdown
// timeout set, the worker is cancelled once it elapses.
func (e *Engine) joinWorker() error {
	defer e.cancelWorker()
	if d := e.cfg.Drain.ShutdownTimeout; d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-e.worker.Done():
		case <-t.C:
			e.log.Warn("drain timeout elapsed; aborting", "timeout", d, "pending", e.buf.Len())
			e.cancelWorker()
		}
	}
	return e.worker.Wait()
}
