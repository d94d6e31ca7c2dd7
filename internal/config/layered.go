package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DotEnvPath is the dotenv file consulted by LoadLayered. A missing file is
// not an error.
var DotEnvPath = ".env"

// LoadLayered fills out from, in increasing priority: the YAML file at path
// (optional), DotEnvPath, and the process environment. Only variables that
// start with prefix are read; the prefix is stripped, the rest lower-cased,
// and "__" nests keys, so with prefix "MQTT_" the variable MQTT_BROKER_HOST
// sets broker_host. Fields already set on out act as defaults.
func LoadLayered(path, prefix string, out any) error {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if sv := k.String("schema_version"); sv != "" && sv != SupportedSchema {
		return fmt.Errorf("config: %s: schema_version %q not supported (want %s)", path, sv, SupportedSchema)
	}

	keyFn := envKey(prefix)
	if err := k.Load(file.Provider(DotEnvPath), dotenv.ParserEnv(prefix, ".", keyFn)); err != nil &&
		!errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: %s: %w", DotEnvPath, err)
	}
	if err := k.Load(env.Provider(prefix, ".", keyFn), nil); err != nil {
		return fmt.Errorf("config: env: %w", err)
	}

	return k.Unmarshal("", out)
}

func envKey(prefix string) func(string) string {
	return func(s string) string {
		if !strings.HasPrefix(s, prefix) {
			return ""
		}
		s = strings.ToLower(strings.TrimPrefix(s, prefix))
		return strings.ReplaceAll(s, "__", ".")
	}
}
