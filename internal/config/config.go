// Package config holds the runtime configuration shared by every component
// of filegate: the store, the authorizer, the listeners and the admin API.
package config

import "time"

// Config is the process-wide configuration recognized by the core, as
// opposed to per-listener or per-user settings which live in the store.
type Config struct {
	// ConfigDir holds the embedded database file.
	ConfigDir string
	// DataDir is the default virtual-path target for new installs (data/ftp-root).
	DataDir string
	// LogsDir holds operational logs.
	LogsDir string

	// IdleTimeout force-closes a session that issued no request for this long.
	IdleTimeout time.Duration
	// ActivityRetention purges activity rows older than this; zero means unlimited.
	ActivityRetention time.Duration
	// ShutdownDeadline bounds how long a listener waits for sessions to close gracefully.
	ShutdownDeadline time.Duration

	// AdminListen is the bind address for the admin API; empty disables it.
	AdminListen string
	// AdminToken, if set, is required as a bearer token on every admin API request.
	AdminToken string
}

// Default values mirrored from spec §6.
const (
	DefaultIdleTimeout      = 300 * time.Second
	DefaultShutdownDeadline = 5 * time.Second
)

// Defaults returns a Config populated with the documented defaults.
func Defaults() Config {
	return Config{
		ConfigDir:        "config",
		DataDir:          "data/ftp-root",
		LogsDir:          "logs",
		IdleTimeout:      DefaultIdleTimeout,
		ShutdownDeadline: DefaultShutdownDeadline,
	}
}
