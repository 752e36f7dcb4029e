// Package script provides process bodies written in JavaScript and run in a
// sandboxed goja runtime.
package script

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Security levels, from most to least restrictive.
const (
	SecurityLevelStrict     = "strict"
	SecurityLevelStandard   = "standard"
	SecurityLevelPermissive = "permissive"
)

// DefaultTimeout bounds a single script call when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Config describes how a script body runs.
type Config struct {
	// Timeout bounds a single call. Zero means DefaultTimeout.
	Timeout time.Duration `json:"timeout,omitempty"`

	// SecurityLevel selects the sandbox restrictions.
	SecurityLevel string `json:"security_level,omitempty"`

	// Logger receives console output of the script.
	Logger *zap.Logger `json:"-"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = SecurityLevelStandard
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return NewConfigError(fmt.Sprintf("timeout must not be negative, got %s", c.Timeout))
	}
	switch c.SecurityLevel {
	case SecurityLevelStrict, SecurityLevelStandard, SecurityLevelPermissive:
		return nil
	default:
		return NewConfigError(fmt.Sprintf("unknown security level %q", c.SecurityLevel))
	}
}
