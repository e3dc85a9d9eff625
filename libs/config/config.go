package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/kelseyhightower/envconfig"
)

func String(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func RequiredString(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", errors.Newf("%s is required", key)
	}
	return v, nil
}

func Port(key, fallback string) (string, error) {
	v := String(key, fallback)
	p, err := strconv.Atoi(v)
	if err != nil || p < 1 || p > 65535 {
		return "", errors.Newf("%s must be a valid TCP port (got %q)", key, v)
	}
	return v, nil
}

// Load fills an envconfig-tagged struct. Services keep their tagged structs next to main.
func Load(prefix string, spec any) error {
	if err := envconfig.Process(prefix, spec); err != nil {
		return errors.Wrap(err, "process env config")
	}
	return nil
}
