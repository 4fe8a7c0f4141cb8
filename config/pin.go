package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// PINSource yields the user PIN when the token asks for it.
type PINSource func() (string, error)

// Terminal reads a PIN from the terminal behind in without echo.
type Terminal struct {
	In     *os.File
	Prompt io.Writer
}

// ReadPIN prompts once and reads a line.
func (t Terminal) ReadPIN() (string, error) {
	fd := int(t.In.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}
	fmt.Fprint(t.Prompt, "Token PIN: ")
	pin, err := term.ReadPassword(fd)
	fmt.Fprintln(t.Prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read PIN: %w", err)
	}
	return strings.TrimSpace(string(pin)), nil
}

// PINSource resolves the PIN according to c.PinEntry. prompt is only
// called in PROMPT mode when no PIN is configured.
func (c *TokenConfig) PINSource(prompt PINSource) PINSource {
	return func() (string, error) {
		switch c.PinEntry {
		case PinStatic:
			if c.UserPIN == "" {
				return "", fmt.Errorf("%w: user-pin is empty", ErrEmptyPIN)
			}
			return c.UserPIN, nil
		case PinEnv:
			pin, ok := os.LookupEnv(c.PinEnv)
			if !ok || pin == "" {
				return "", fmt.Errorf("%w: %s is not set", ErrEmptyPIN, c.PinEnv)
			}
			return pin, nil
		default:
			if c.UserPIN != "" {
				return c.UserPIN, nil
			}
			if prompt == nil {
				return "", ErrNoTerminal
			}
			return prompt()
		}
	}
}
