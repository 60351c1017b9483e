// Package config holds logductd's runtime configuration, decoded from
// flags/environment/file via viper at the CLI layer (cmd/logductd).
package config

import (
	"time"

	"github.com/adrg/xdg"
)

// Config is the fully-resolved runtime configuration for one daemon
// process: a flat, viper-decodable struct that doubles as what every
// other component consumes directly.
type Config struct {
	// Socket is the unix-domain socket path to listen on. Ignored if the
	// process's stdin is already a stream socket at startup.
	Socket string `mapstructure:"socket"`

	// LogDir is the root directory under which per-unit, per-stream log
	// files are written.
	LogDir string `mapstructure:"logdir"`

	// MaxIdle is how long a LogWriter may go unused before the idle
	// sweep closes it.
	MaxIdle time.Duration `mapstructure:"idle"`

	// TrustBlindly, when set, allows a client's declared "unit" header
	// field to be honored when no unit can otherwise be inferred.
	TrustBlindly bool `mapstructure:"trust-blindly"`

	// Debug enables verbose diagnostic logging.
	Debug bool `mapstructure:"debug"`

	// Restore indicates this process was spawned by a predecessor during
	// a reload and should read a Snapshot from stdin instead of starting
	// fresh.
	Restore bool `mapstructure:"restore"`

	// LogFormat selects "text" or "json" diagnostic log output.
	LogFormat string `mapstructure:"log-format"`
}

// DefaultSocket is the well-known default socket path. It is
// used unless overridden by flag/env/config-file or unless an XDG runtime
// directory is available, in which case that takes priority as a more
// idiomatic default for an unprivileged deployment.
const DefaultSocket = "/run/logduct.sock"

// DefaultLogDir is the fallback log root when neither a flag nor an XDG
// state directory is available.
const DefaultLogDir = "/var/log/logduct"

// DefaultIdle is the default idle-close threshold.
const DefaultIdle = 60 * time.Second

// Defaults returns a Config populated with this daemon's default values,
// preferring XDG-resolved paths over the bare literal defaults so a
// non-root deployment gets sensible per-user locations for free.
func Defaults() Config {
	socket := DefaultSocket
	if xdg.RuntimeDir != "" {
		socket = xdg.RuntimeDir + "/logduct.sock"
	}

	logDir := DefaultLogDir
	if xdg.StateHome != "" {
		logDir = xdg.StateHome + "/logduct/logs"
	}

	return Config{
		Socket:    socket,
		LogDir:    logDir,
		MaxIdle:   DefaultIdle,
		LogFormat: "text",
	}
}
