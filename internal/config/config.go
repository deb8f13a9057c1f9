// Package config implements configuration loading, validation, and writing
// for filevault. Values resolve through a four-layer override chain
// (defaults -> config file -> environment -> CLI flags). The config file is
// JSON by default; a ".toml" extension selects TOML with the same keys.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config is the on-disk configuration. Key names are upper-case to stay
// compatible with config files written by earlier releases.
type Config struct {
	UploadDir             string            `json:"UPLOAD_DIR"                        toml:"UPLOAD_DIR"`
	StaticDir             string            `json:"STATIC_DIR,omitempty"              toml:"STATIC_DIR"`
	Host                  string            `json:"HOST,omitempty"                    toml:"HOST"`
	Port                  int               `json:"PORT"                              toml:"PORT"`
	SessionTimeout        int               `json:"SESSION_TIMEOUT"                   toml:"SESSION_TIMEOUT"`
	SessionTimeoutMinutes int               `json:"SESSION_TIMEOUT_MINUTES,omitempty" toml:"SESSION_TIMEOUT_MINUTES"`
	Credentials           map[string]string `json:"VALID_CREDENTIALS"                 toml:"VALID_CREDENTIALS"`
	SecretKey             string            `json:"SECRET_KEY"                        toml:"SECRET_KEY"`
	MaxUploadSize         string            `json:"MAX_UPLOAD_SIZE,omitempty"         toml:"MAX_UPLOAD_SIZE"`
	BandwidthLimit        string            `json:"BANDWIDTH_LIMIT,omitempty"         toml:"BANDWIDTH_LIMIT"`
	AuditDB               string            `json:"AUDIT_DB,omitempty"                toml:"AUDIT_DB"`
	WatchEvents           bool              `json:"WATCH_EVENTS"                      toml:"WATCH_EVENTS"`
	PIDFile               string            `json:"PID_FILE,omitempty"                toml:"PID_FILE"`
	LogLevel              string            `json:"LOG_LEVEL,omitempty"               toml:"LOG_LEVEL"`
	LogFormat             string            `json:"LOG_FORMAT,omitempty"              toml:"LOG_FORMAT"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	UploadDir  *string // --upload-dir flag
	Host       *string // --host flag
	Port       *int    // --port flag
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SessionTTL returns the inactivity timeout as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTimeout) * time.Second
}

// MaxUploadBytes returns the upload body cap in bytes, 0 meaning unlimited.
// Validate has already rejected malformed values.
func (c *Config) MaxUploadBytes() int64 {
	n, err := ParseSize(c.MaxUploadSize)
	if err != nil {
		return 0
	}

	return n
}

// BandwidthBytesPerSec returns the aggregate transfer limit, 0 meaning unlimited.
func (c *Config) BandwidthBytesPerSec() int64 {
	n, err := ParseBandwidth(c.BandwidthLimit)
	if err != nil {
		return 0
	}

	return n
}
