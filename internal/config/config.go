// Package config loads the ringwatch configuration.
//
// Sources are layered: built-in defaults, then an optional YAML file,
// then RINGWATCH_ environment variables. RINGWATCH_SERVER_PORT=9000
// sets server.port.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/ringwatch/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RINGWATCH_"

// Load builds the configuration. path may be empty; a missing file is
// not an error.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(domain.DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps RINGWATCH_CACHE_REDISADDR to cache.redisaddr.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
}

// Validate rejects configurations the server cannot start with. Field
// rules live in the validate tags of the domain config types.
func Validate(cfg *domain.Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", describe(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// describe renders validation failures as "Cache.Type=redsi (oneof memory redis none)".
func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += " " + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s=%v (%s)", field, fe.Value(), rule))
	}
	return strings.Join(parts, "; ")
}
