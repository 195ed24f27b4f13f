package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ErrUnknownKey is returned for keys the config does not define.
var ErrUnknownKey = errors.New("unknown config key")

// Keys returns every dotted config key in sorted order.
func Keys() []string {
	values := Default().values()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsKnownKey reports whether key is a config key.
func IsKnownKey(key string) bool {
	_, ok := Default().values()[key]
	return ok
}

// EnvName returns the environment variable that overrides key,
// e.g. server.addr -> ORCHESTRA_SERVER_ADDR.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Get returns the display value of key in cfg. Secrets are masked.
func Get(cfg *Config, key string) (string, error) {
	value, ok := cfg.values()[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	s := fmt.Sprint(value)
	if key == "events.redis_url" {
		s = MaskURL(s)
	}
	return s, nil
}

// SetInFile sets key to value in the YAML config file at path, creating it
// if needed, and validates the result before writing.
func SetInFile(path, key, value string) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config from %s: %w", path, err)
		}
	}
	v.Set(key, value)

	cfg, err := unmarshal(v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// Source reports where the effective value of key comes from.
type Source string

const (
	SourceEnv     Source = "environment"
	SourceDefault Source = "default"
	SourceConfig  Source = "config_file"
)

// SourceOf reports whether key is overridden by the environment, differs from
// its default, or still has the built-in value.
func SourceOf(cfg *Config, key string) Source {
	if _, ok := os.LookupEnv(EnvName(key)); ok {
		return SourceEnv
	}
	if fmt.Sprint(cfg.values()[key]) != fmt.Sprint(Default().values()[key]) {
		return SourceConfig
	}
	return SourceDefault
}

// MaskURL hides the password in a URL for display.
func MaskURL(raw string) string {
	if raw == "" {
		return "(not set)"
	}
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
