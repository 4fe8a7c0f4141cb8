package config

import (
	"fmt"
	"strings"
)

// TokenSource selects where the signer identity comes from.
type TokenSource string

const (
	// SourcePKCS11 reads a hardware token through a PKCS#11 module.
	SourcePKCS11 TokenSource = "pkcs11"
	// SourcePKCS12 reads a software token from a .p12 file.
	SourcePKCS12 TokenSource = "pkcs12"
)

// ParseTokenSource parses a source name, ignoring case.
func ParseTokenSource(s string) (TokenSource, error) {
	switch src := TokenSource(strings.ToLower(s)); src {
	case SourcePKCS11, SourcePKCS12:
		return src, nil
	default:
		return "", fmt.Errorf("invalid token source: %s (must be pkcs11 or pkcs12)", s)
	}
}

// PinEntryMode defines how the user PIN is obtained.
type PinEntryMode string

const (
	// PinPrompt asks on the terminal unless a PIN is configured.
	PinPrompt PinEntryMode = "PROMPT"
	// PinStatic uses the configured user-pin as is.
	PinStatic PinEntryMode = "STATIC"
	// PinEnv reads the PIN from the variable named by pin-env.
	PinEnv PinEntryMode = "ENV"
)

// String returns the string representation of the PIN entry mode.
func (m PinEntryMode) String() string {
	return string(m)
}

// ParsePinEntryMode parses a string into a PinEntryMode.
func ParsePinEntryMode(s string) (PinEntryMode, error) {
	switch m := PinEntryMode(strings.ToUpper(s)); m {
	case PinPrompt, PinStatic, PinEnv:
		return m, nil
	default:
		return PinPrompt, fmt.Errorf("invalid PIN entry mode: %s (must be PROMPT, STATIC, or ENV)", s)
	}
}

// TokenCriteria defines search criteria for finding a PKCS#11 token.
type TokenCriteria struct {
	// Label is the token label to match. If empty, no label constraint is applied.
	Label string `mapstructure:"label" yaml:"label,omitempty"`

	// Serial is the token serial number. If empty, no serial constraint is applied.
	Serial string `mapstructure:"serial" yaml:"serial,omitempty"`
}

// IsEmpty returns true if no criteria are specified.
func (c TokenCriteria) IsEmpty() bool {
	return c.Label == "" && c.Serial == ""
}

// String returns a string representation of the criteria.
func (c TokenCriteria) String() string {
	var parts []string
	if c.Label != "" {
		parts = append(parts, fmt.Sprintf("label=%q", c.Label))
	}
	if c.Serial != "" {
		parts = append(parts, fmt.Sprintf("serial=%q", c.Serial))
	}
	if len(parts) == 0 {
		return "<no criteria>"
	}
	return fmt.Sprintf("TokenCriteria{%s}", strings.Join(parts, ", "))
}

// TokenConfig contains configuration for reading the signer identity.
type TokenConfig struct {
	// Source is pkcs11 (default) or pkcs12.
	Source TokenSource `mapstructure:"source" yaml:"source"`

	// ModulePath is the path to the PKCS#11 module shared object (.so/.dylib/.dll).
	ModulePath string `mapstructure:"module-path" yaml:"module-path,omitempty"`

	// SlotNo is the index into the list of slots holding a token. If nil,
	// the first slot, or the first one matching TokenCriteria, is used.
	SlotNo *int `mapstructure:"slot-no" yaml:"slot-no,omitempty"`

	// TokenCriteria specifies criteria for finding the token.
	TokenCriteria TokenCriteria `mapstructure:"token-criteria" yaml:"token-criteria,omitempty"`

	// UserPIN is the user PIN for authentication.
	UserPIN string `mapstructure:"user-pin" yaml:"user-pin,omitempty"`

	// PinEntry specifies PIN entry behavior.
	PinEntry PinEntryMode `mapstructure:"pin-entry" yaml:"pin-entry"`

	// PinEnv names the environment variable read in ENV mode.
	PinEnv string `mapstructure:"pin-env" yaml:"pin-env,omitempty"`

	// PFXFile is the PKCS#12 file used by the pkcs12 source.
	PFXFile string `mapstructure:"pfx-file" yaml:"pfx-file,omitempty"`

	// PFXPassphrase unlocks PFXFile.
	PFXPassphrase string `mapstructure:"pfx-passphrase" yaml:"pfx-passphrase,omitempty"`
}

// Validate validates the token configuration.
func (c *TokenConfig) Validate() error {
	switch c.Source {
	case SourcePKCS11:
		if c.ModulePath == "" {
			return NewConfigError("token.module-path", "PKCS#11 module path is required")
		}
		if c.SlotNo != nil && *c.SlotNo < 0 {
			return NewConfigError("token.slot-no", "slot number must not be negative")
		}
	case SourcePKCS12:
		if c.PFXFile == "" {
			return NewConfigError("token.pfx-file", "required field is missing")
		}
	default:
		return NewConfigError("token.source", fmt.Sprintf("unknown token source %q", c.Source))
	}

	if _, err := ParsePinEntryMode(string(c.PinEntry)); err != nil {
		return &ConfigError{Field: "token.pin-entry", Message: err.Error(), Err: err}
	}
	if c.Source == SourcePKCS11 && c.PinEntry == PinEnv && c.PinEnv == "" {
		return NewConfigError("token.pin-env", "variable name is required in ENV mode")
	}
	return nil
}
