package kafka

import (
	"errors"
	"time"

	"github.com/vtt-scp/ccom-logger/internal/config"
)

// EnvPrefix: CCOM_KAFKA__BROKERS, CCOM_KAFKA__GROUP_ID, ...
const EnvPrefix = "CCOM_KAFKA__"

type Config struct {
	Brokers   []string `koanf:"brokers"`
	Topics    []string `koanf:"topics"`
	GroupID   string   `koanf:"group_id"`
	StartFrom string   `koanf:"start_from"` // oldest|newest (default newest)
	Version   string   `koanf:"version"`
	TLSEn     bool     `koanf:"tls_enabled"`
	SASLUser  string   `koanf:"sasl_user"`
	SASLPass  string   `koanf:"sasl_pass"`

	// CommitInterval is how often offsets of ingested messages are
	// committed.
	CommitInterval time.Duration `koanf:"commit_interval"`
}

// LoadConfig merges YAML (if present), .env and CCOM_KAFKA__* variables.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := config.LoadLayered(path, EnvPrefix, &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, cfg.Validate()
}

func applyDefaults(c *Config) {
	if c.StartFrom == "" {
		c.StartFrom = "newest"
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	if c.CommitInterval == 0 {
		c.CommitInterval = 5 * time.Second
	}
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if len(c.Topics) == 0 {
		return errors.New("kafka: at least one topic is required")
	}
	if c.GroupID == "" {
		return errors.New("kafka: group_id is required")
	}
	return nil
}
