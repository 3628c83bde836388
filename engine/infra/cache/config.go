package cache

import "time"

type Config struct {
	// URL takes precedence over Addr when set, e.g. redis://:pass@host:6379/0.
	URL          string
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration
}
