package kafka

import (
	"errors"
	"fmt"

	"github.com/vtt-scp/ccom-logger/internal/config"
)

// EnvPrefix: CCOM_KAFKA_SINK__BROKERS, CCOM_KAFKA_SINK__TOPIC, ...
const EnvPrefix = "CCOM_KAFKA_SINK__"

type Config struct {
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
	Acks    int16    `koanf:"required_acks"` // 0, 1 or -1 (default -1, all replicas)
	Version string   `koanf:"version"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{Acks: -1, Version: "2.8.0"}
	if err := config.LoadLayered(path, EnvPrefix, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka-sink: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka-sink: topic is required")
	}
	if c.Acks < -1 || c.Acks > 1 {
		return fmt.Errorf("kafka-sink: required_acks must be -1, 0 or 1, got %d", c.Acks)
	}
	return nil
}
