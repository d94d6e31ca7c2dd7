package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/vtt-scp/ccom-logger/internal/spec"
)

const SupportedSchema = "v1"

const (
	DefaultBufferCapacity = 10000
	DefaultGRPCPort       = 7070
	DefaultMetricsPort    = 9100
)

var defaultDrivers = map[string]string{
	"mqtt":  "paho",
	"kafka": "sarama",
}

// LoadPipelineSpec parses a pipeline YAML, validates schema_version, fills
// defaults and resolves adapter config paths against the pipeline file's
// directory. An empty path yields the defaults: MQTT in, Postgres out, with
// adapter settings taken from the environment.
func LoadPipelineSpec(path string) (spec.File, error) {
	var cfg spec.File
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("pipeline %s: %w", path, err)
		}
	} else {
		cfg.GRPCPort = DefaultGRPCPort
		cfg.MetricsPort = DefaultMetricsPort
	}

	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}

	if cfg.Source.Kind == "" {
		cfg.Source.Kind = "mqtt"
	}
	def, ok := defaultDrivers[cfg.Source.Kind]
	if !ok {
		return cfg, fmt.Errorf("unsupported source %q", cfg.Source.Kind)
	}
	if cfg.Source.Driver == "" {
		cfg.Source.Driver = def
	}
	if cfg.Sink.Kind == "" {
		cfg.Sink.Kind = "postgres"
	}

	if err := applyBufferEnv(&cfg); err != nil {
		return cfg, err
	}
	if cfg.Buffer.Capacity == 0 {
		cfg.Buffer.Capacity = DefaultBufferCapacity
	}
	if cfg.Buffer.Capacity < 0 {
		return cfg, fmt.Errorf("buffer capacity must be positive, got %d", cfg.Buffer.Capacity)
	}

	cfg.Source.Config = resolve(path, cfg.Source.Config)
	cfg.Sink.Config = resolve(path, cfg.Sink.Config)
	return cfg, nil
}

// BUFFER_MAX_SIZE wins over the file, matching the adapter configs where the
// environment has the last word.
func applyBufferEnv(cfg *spec.File) error {
	k := koanf.New(".")
	if err := k.Load(env.Provider("BUFFER_", ".", func(s string) string {
		if s != "BUFFER_MAX_SIZE" {
			return ""
		}
		return "max_size"
	}), nil); err != nil {
		return err
	}
	if !k.Exists("max_size") {
		return nil
	}
	n := k.Int("max_size")
	if n <= 0 {
		return fmt.Errorf("BUFFER_MAX_SIZE must be a positive integer, got %q", k.String("max_size"))
	}
	cfg.Buffer.Capacity = n
	return nil
}

func resolve(pipelinePath, p string) string {
	if p == "" || filepath.IsAbs(p) || pipelinePath == "" {
		return p
	}
	return filepath.Join(filepath.Dir(pipelinePath), p)
}
