// Package engine assembles the bridge from a pipeline file and coordinates
// its shutdown.
package engine

import (
	"context"
	"fmt"

	"github.com/vtt-scp/ccom-logger/internal/config"
	"github.com/vtt-scp/ccom-logger/internal/logging"
	"github.com/vtt-scp/ccom-logger/internal/pipeline"
	"github.com/vtt-scp/ccom-logger/internal/telemetry"
	"github.com/vtt-scp/ccom-logger/internal/transport"
)

type Config struct {
	PipelineYml string // optional; empty means MQTT → Postgres from the environment
	// GRPCPort and MetricsPort override the pipeline file when non-zero.
	GRPCPort    int
	MetricsPort int
}

func Bootstrap(ctx context.Context, cfg Config) (*Engine, error) {
	// 1. pipeline file
	f, err := config.LoadPipelineSpec(cfg.PipelineYml)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if f.Log != nil {
		logging.Configure(logging.Options{Level: f.Log.Level, JSON: f.Log.JSON})
	}
	if cfg.GRPCPort != 0 {
		f.GRPCPort = cfg.GRPCPort
	}
	if cfg.MetricsPort != 0 {
		f.MetricsPort = cfg.MetricsPort
	}

	// 2. store connection, then source
	built, err := pipeline.Compile(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	e, err := New(f, built.Source, built.Sink)
	if err != nil {
		_ = built.Source.Close()
		_ = built.Sink.Close(ctx)
		return nil, err
	}

	// 3. health transport
	if f.GRPCPort > 0 {
		srv, err := transport.StartServer(f.GRPCPort)
		if err != nil {
			_ = built.Source.Close()
			_ = built.Sink.Close(ctx)
			return nil, fmt.Errorf("transport: %w", err)
		}
		go func() {
			if err := srv.Serve(); err != nil {
				e.log.Error("health server stopped", "err", err)
			}
		}()
		e.health = srv
	}

	// 4. metrics
	if f.MetricsPort > 0 {
		e.metrics = telemetry.Expose(f.MetricsPort)
	}
	return e, nil
}
