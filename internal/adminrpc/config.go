package adminrpc

import (
	"errors"
	"time"
)

// Config holds configuration for the admin gRPC server
type Config struct {
	ListenAddress   string
	MaxMessageSize  int
	SnapshotTimeout time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4 * 1024 * 1024 // 4MB
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = 2 * time.Second
	}
}
