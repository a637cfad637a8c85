package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from text. Besides Go duration
// strings ("90s", "720h") it takes a bare integer as seconds, which is what
// people tend to put in WAVEKEEPER_* variables.
type Duration time.Duration

// UnmarshalText rejects negative values.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	parsed, err := time.ParseDuration(s)
	if err != nil {
		secs, convErr := strconv.ParseInt(s, 10, 64)
		if convErr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		parsed = time.Duration(secs) * time.Second
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Secret holds a credential read from configuration. Every formatting and
// encoding path prints a mask; only Value returns the real string.
type Secret string

const secretMask = "[REDACTED]"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretMask
}

func (s Secret) GoString() string { return "Secret(" + secretMask + ")" }

func (s Secret) Value() string { return string(s) }

func (s Secret) IsSet() bool { return s != "" }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText stores the raw value.
func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}
