package monitoring

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds configuration for the monitoring service
type Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Path    string `json:"path"    yaml:"path"    mapstructure:"path"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled: false,
		Path:    "/metrics",
	}
}

// Validate rejects paths that would shadow the API or carry a query string.
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("monitoring path cannot be empty")
	}
	if c.Path[0] != '/' {
		return fmt.Errorf("monitoring path must start with '/': got %s", c.Path)
	}
	if strings.HasPrefix(c.Path, "/api/") {
		return errors.New("monitoring path cannot be under /api/")
	}
	if strings.ContainsRune(c.Path, '?') {
		return errors.New("monitoring path cannot contain query parameters")
	}
	return nil
}
