package mqtt

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/vtt-scp/ccom-logger/internal/config"
)

// EnvPrefix selects the variables read by LoadConfig: MQTT_BROKER_HOST,
// MQTT_BROKER_PORT, MQTT_CLIENT_ID and friends.
const EnvPrefix = "MQTT_"

type Config struct {
	BrokerHost string `koanf:"broker_host"`
	BrokerPort int    `koanf:"broker_port"`
	ClientID   string `koanf:"client_id"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`

	Topic        string `koanf:"topic"` // default "#"
	QoS          int    `koanf:"qos"`   // default 2
	CleanSession bool   `koanf:"clean_session"`

	KeepAlive      time.Duration `koanf:"keep_alive"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	// Quiesce is how long Disconnect lets in-flight work finish.
	Quiesce time.Duration `koanf:"quiesce"`
}

func defaults() Config {
	return Config{
		BrokerPort:     1883,
		Topic:          "#",
		QoS:            2,
		CleanSession:   true,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Quiesce:        250 * time.Millisecond,
	}
}

// LoadConfig merges YAML (if present), .env and MQTT_* environment
// variables over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := defaults()
	if err := config.LoadLayered(path, EnvPrefix, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.BrokerHost == "" {
		return errors.New("mqtt: broker_host is required")
	}
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		return fmt.Errorf("mqtt: invalid broker_port %d", c.BrokerPort)
	}
	if c.Topic == "" {
		return errors.New("mqtt: topic must not be empty")
	}
	if c.QoS < 0 || c.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// BrokerURL builds the paho broker address. A host that already carries a
// scheme (ssl://, ws://) is used as is.
func (c Config) BrokerURL() string {
	if strings.Contains(c.BrokerHost, "://") {
		return c.BrokerHost
	}
	return "tcp://" + net.JoinHostPort(c.BrokerHost, strconv.Itoa(c.BrokerPort))
}
