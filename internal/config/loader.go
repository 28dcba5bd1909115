package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a connector YAML file. ${VAR} references are replaced from the
// environment before parsing; unset variables become empty strings. Keys
// the connector does not know are rejected, so a misspelled or retired
// setting fails here rather than being ignored.
func Load(path string) (*ConnectorConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connector config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)

	var cfg ConnectorConfig
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode connector config %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadWithDefaults is Load followed by filling every unset field.
func LoadWithDefaults(path string) (*ConnectorConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate returns a config ready to hand to the connector: loaded,
// defaulted and checked. Endpoint problems still match
// model.ErrInvalidEndpoints.
func LoadAndValidate(path string) (*ConnectorConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connector config %s: %w", path, err)
	}
	return cfg, nil
}
