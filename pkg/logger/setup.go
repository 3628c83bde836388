package logger

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SetupLogger builds the process logger from CLI flag values and installs it as the default.
func SetupLogger(level LogLevel, logJSON, logSource bool) Logger {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.JSON = logJSON
	cfg.AddSource = logSource
	l := NewLogger(cfg)
	SetDefault(l)
	return l
}

func GetLoggerConfig(cmd *cobra.Command) (*Config, error) {
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	logJSON, err := cmd.Flags().GetBool("log-json")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-json flag: %w", err)
	}
	logSource, err := cmd.Flags().GetBool("log-source")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-source flag: %w", err)
	}
	cfg := DefaultConfig()
	cfg.Level = LogLevel(logLevel)
	cfg.JSON = logJSON
	cfg.AddSource = logSource
	return cfg, nil
}
