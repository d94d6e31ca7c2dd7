package pipeline

import (
	"context"
	"fmt"

	"github.com/vtt-scp/ccom-logger/internal/spec"
	"github.com/vtt-scp/ccom-logger/sink"
	kafkasink "github.com/vtt-scp/ccom-logger/sink/kafka"
	"github.com/vtt-scp/ccom-logger/sink/postgres"
	"github.com/vtt-scp/ccom-logger/sink/stdout"
	"github.com/vtt-scp/ccom-logger/source"
	"github.com/vtt-scp/ccom-logger/source/kafka"
	"github.com/vtt-scp/ccom-logger/source/mqtt"
)

// Built holds the adapters Compile produced. The sink is connected; the
// source is configured but not yet subscribed.
type Built struct {
	Source source.Adapter
	Sink   sink.Adapter
}

// Compile builds the sink first, so a database that is unreachable fails
// the start before any broker subscription exists.
func Compile(ctx context.Context, f spec.File) (*Built, error) {
	snk, err := buildSink(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("sink %s: %w", f.Sink.Kind, err)
	}
	src, err := buildSource(f)
	if err != nil {
		_ = snk.Close(ctx)
		return nil, fmt.Errorf("source %s/%s: %w", f.Source.Kind, f.Source.Driver, err)
	}
	return &Built{Source: src, Sink: snk}, nil
}

func buildSource(f spec.File) (source.Adapter, error) {
	var cfg any
	switch f.Source.Kind {
	case "mqtt":
		c, err := mqtt.LoadConfig(f.Source.Config)
		if err != nil {
			return nil, err
		}
		cfg = c
	case "kafka":
		c, err := kafka.LoadConfig(f.Source.Config)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		return nil, fmt.Errorf("unsupported source %q", f.Source.Kind)
	}

	src, err := source.NewAdapter(f.Source.Driver)
	if err != nil {
		return nil, err
	}
	if err := src.Configure(cfg); err != nil {
		return nil, err
	}
	return src, nil
}

func buildSink(ctx context.Context, f spec.File) (sink.Adapter, error) {
	var cfg any
	switch f.Sink.Kind {
	case postgres.SinkName:
		c, err := postgres.LoadConfig(f.Sink.Config)
		if err != nil {
			return nil, err
		}
		cfg = c
	case kafkasink.SinkName:
		c, err := kafkasink.LoadConfig(f.Sink.Config)
		if err != nil {
			return nil, err
		}
		cfg = c
	case stdout.SinkName:
		cfg = stdout.Config{
			DelayMS:       f.Debug.DelayMS,
			PrintCounter:  f.Debug.PrintCounter,
			PrintValue:    f.Debug.PrintValue,
			ValueMaxBytes: f.Debug.ValueMaxBytes,
		}
	default:
		return nil, fmt.Errorf("no config block for sink %q", f.Sink.Kind)
	}

	snk, err := sink.NewAdapter(f.Sink.Kind)
	if err != nil {
		return nil, err
	}
	if err := snk.Configure(ctx, cfg); err != nil {
		return nil, err
	}
	return snk, nil
}
