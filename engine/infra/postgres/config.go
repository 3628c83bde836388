package postgres

import "time"

// Config holds the pool settings for the run log and vector index database.
type Config struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	PingTimeout       time.Duration
	// Label distinguishes pools in metrics; it defaults to "default".
	Label string
}
