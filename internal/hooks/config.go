package hooks

import "errors"

// Config holds hook configuration.
type Config struct {
	// ValidatedTools are the tool names whose invocations are inspected.
	ValidatedTools []string

	// FailOpen allows a pre-tool call when the task graph cannot be read.
	FailOpen bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ValidatedTools: []string{"Task"},
		FailOpen:       true,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.ValidatedTools) == 0 {
		return errors.New("at least one validated tool is required")
	}
	for _, t := range c.ValidatedTools {
		if t == "" {
			return errors.New("validated tool names cannot be empty")
		}
	}
	return nil
}

// Validates reports whether tool invocations named tool are inspected.
func (c *Config) Validates(tool string) bool {
	for _, t := range c.ValidatedTools {
		if t == tool {
			return true
		}
	}
	return false
}
