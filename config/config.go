// Package config loads and validates tokenstamp configuration.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrNoTerminal         = errors.New("PIN prompt needs a terminal")
	ErrEmptyPIN           = errors.New("no PIN available")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// StampConfig controls where stamps go and how they look.
type StampConfig struct {
	// FallbackOnMissing stamps page one when the phrase is not found.
	FallbackOnMissing bool `mapstructure:"fallback-on-missing" yaml:"fallback-on-missing"`

	// OffsetX and OffsetY move an anchored stamp away from the phrase.
	OffsetX float64 `mapstructure:"offset-x" yaml:"offset-x"`
	OffsetY float64 `mapstructure:"offset-y" yaml:"offset-y"`

	// FallbackX and FallbackY position the page-one stamp.
	FallbackX float64 `mapstructure:"fallback-x" yaml:"fallback-x"`
	FallbackY float64 `mapstructure:"fallback-y" yaml:"fallback-y"`

	// Highlight outlines each matched phrase.
	Highlight bool `mapstructure:"highlight" yaml:"highlight"`

	// FontSize overrides the anchored stamp text size; 0 keeps the default.
	FontSize float64 `mapstructure:"font-size" yaml:"font-size,omitempty"`
}

// VerifyConfig controls checks on the written output.
type VerifyConfig struct {
	// Enabled runs pdfcpu validation on the output.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" yaml:"level"`

	// Format is the log format (console, json).
	Format string `mapstructure:"format" yaml:"format"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `mapstructure:"output" yaml:"output"`
}

// Log levels and formats accepted by LoggingConfig.
var (
	LogLevels  = []string{"debug", "info", "warn", "error"}
	LogFormats = []string{"console", "json"}
)

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Validate validates the logging configuration.
func (c *LoggingConfig) Validate() error {
	if !slices.Contains(LogLevels, c.Level) {
		return NewConfigError("logging.level", fmt.Sprintf("unknown level %q", c.Level))
	}
	if !slices.Contains(LogFormats, c.Format) {
		return NewConfigError("logging.format", fmt.Sprintf("unknown format %q", c.Format))
	}
	return nil
}

// Config is the complete application configuration.
type Config struct {
	// Input is the PDF to stamp. It is only ever read.
	Input string `mapstructure:"input" yaml:"input"`

	// Output is where the stamped copy is written.
	Output string `mapstructure:"output" yaml:"output"`

	// Phrase is the exact, case-sensitive text to anchor stamps to.
	Phrase string `mapstructure:"phrase" yaml:"phrase"`

	Token   TokenConfig   `mapstructure:"token" yaml:"token"`
	Stamp   StampConfig   `mapstructure:"stamp" yaml:"stamp"`
	Verify  VerifyConfig  `mapstructure:"verify" yaml:"verify"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Phrase: "AUTHORISED SIGNATORY",
		Token: TokenConfig{
			Source:   SourcePKCS11,
			PinEntry: PinPrompt,
			PinEnv:   "TOKENSTAMP_PIN",
		},
		Stamp: StampConfig{
			FallbackOnMissing: true,
			OffsetX:           10,
			OffsetY:           30,
			FallbackX:         100,
			FallbackY:         100,
			Highlight:         true,
		},
		Verify: VerifyConfig{Enabled: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// ValidateDocument checks the fields every document command needs.
func (c *Config) ValidateDocument() error {
	if c.Input == "" {
		return NewConfigError("input", "input PDF path is required")
	}
	if c.Phrase == "" {
		return NewConfigError("phrase", "search phrase must not be empty")
	}
	return nil
}

// Validate checks the configuration for a full stamping run.
func (c *Config) Validate() error {
	if err := c.ValidateDocument(); err != nil {
		return err
	}
	if c.Output == "" {
		return NewConfigError("output", "output PDF path is required")
	}
	if filepath.Clean(c.Input) == filepath.Clean(c.Output) {
		return NewConfigError("output", "output must differ from input")
	}
	if c.Stamp.FontSize < 0 {
		return NewConfigError("stamp.font-size", "font size must not be negative")
	}
	if err := c.Token.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}
