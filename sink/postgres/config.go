package postgres

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/vtt-scp/ccom-logger/internal/config"
)

// EnvPrefix selects DATABASE_HOST, DATABASE_PORT, DATABASE_NAME,
// DATABASE_USER, DATABASE_PASSWORD and friends.
const EnvPrefix = "DATABASE_"

const DefaultTable = "orm_singledatameasurement"

type Config struct {
	// URL, when set, is used verbatim and the discrete fields are ignored.
	URL      string `koanf:"url"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Name     string `koanf:"name"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	SSLMode  string `koanf:"sslmode"`

	Table          string        `koanf:"table"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

func defaults() Config {
	return Config{
		Port:           5600,
		Table:          DefaultTable,
		ConnectTimeout: 10 * time.Second,
	}
}

// LoadConfig merges YAML (if present), .env and DATABASE_* variables over
// the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := defaults()
	if err := config.LoadLayered(path, EnvPrefix, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.URL == "" && c.Host == "" {
		return errors.New("postgres: host or url is required")
	}
	if c.Table == "" {
		return errors.New("postgres: table must not be empty")
	}
	return nil
}

// ConnString renders the connection URL pgx.Connect expects.
func (c Config) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}
