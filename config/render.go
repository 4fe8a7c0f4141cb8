package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Redacted replaces secrets in rendered configuration.
const Redacted = "<redacted>"

// Render returns cfg as YAML with secrets redacted.
func Render(cfg *Config) ([]byte, error) {
	c := *cfg
	if c.Token.UserPIN != "" {
		c.Token.UserPIN = Redacted
	}
	if c.Token.PFXPassphrase != "" {
		c.Token.PFXPassphrase = Redacted
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse decodes a YAML document over Default(). It is the file layer of
// Load without the environment and flags.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
