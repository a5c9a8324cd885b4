package config

import (
	"fmt"
	"os"
	"strconv"
)

const secretMask = "********"

// KeyInfo is one row of `paperdex config show`. Source is "env", "file" or
// "default".
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Source string
}

// ShowAll lists every key of cfg with where its value came from. Secret
// values are masked.
func ShowAll(cfg Config) []KeyInfo {
	return describe(cfg, newFileBackend(configFilePath()))
}

func describe(cfg Config, b ConfigBackend) []KeyInfo {
	rows := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		val := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret && val != "" {
			val = secretMask
		}
		rows = append(rows, KeyInfo{Key: s.key, EnvVar: s.env, Value: val, Source: sourceOf(s, b)})
	}
	return rows
}

func sourceOf(s keySpec, b ConfigBackend) string {
	if _, ok := os.LookupEnv(s.env); ok {
		return "env"
	}
	if !s.secret {
		if _, ok, _ := b.GetString(s.key); ok {
			return "file"
		}
	}
	return "default"
}

// SetKey validates value against the key's type and writes it to the config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

// UnsetKey removes key from the config file so the default applies again.
func UnsetKey(key string) error {
	return unsetKey(newFileBackend(configFilePath()), key)
}

func lookupWritable(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return s, fmt.Errorf("%q is a secret; set it with the %s environment variable", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := lookupWritable(key)
	if err != nil {
		return err
	}
	if _, err := parseValue(s.typ, value); err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", s.typ, key, err)
	}
	// Integers are stored unquoted so the file stays hand-editable.
	if s.typ == kInt {
		i, _ := strconv.Atoi(value)
		return b.SetInt(key, i)
	}
	return b.SetString(key, value)
}

func unsetKey(b ConfigBackend, key string) error {
	if _, err := lookupWritable(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys returns the keys `config set` accepts.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
