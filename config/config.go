// Package config loads headlink settings from a TOML file. Loading never fails:
// a missing or unreadable file, or an invalid value, falls back to defaults and
// logs a warning.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPort is the connection provider's listen port.
	DefaultPort = 12345

	// DefaultUDPPortRangeStart and DefaultUDPPortRangeEnd bound the ports handed
	// out to paired UDP channels.
	DefaultUDPPortRangeStart = 40000
	DefaultUDPPortRangeEnd   = 40999

	// EnvPort overrides Port when set to a valid port number.
	EnvPort = "HEADLINK_PORT"
)

// Duration is a time.Duration that decodes from TOML strings such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the full set of startup settings.
type Config struct {
	Port       int           `toml:"port"`
	DefaultKey string        `toml:"default_key"`
	LogLevel   string        `toml:"log_level"`
	LogFormat  string        `toml:"log_format"`
	ArchiveDir string        `toml:"archive_dir"`
	UDP        UDPConfig     `toml:"udp"`
	Server     ServerConfig  `toml:"server"`
	Address    AddressConfig `toml:"address"`
}

// UDPConfig controls paired UDP channels.
type UDPConfig struct {
	PortRangeStart  int      `toml:"port_range_start"`
	PortRangeEnd    int      `toml:"port_range_end"`
	MaxRestarts     int      `toml:"max_restarts"`
	RestartDelay    Duration `toml:"restart_delay"`
	MaxRestartDelay Duration `toml:"max_restart_delay"`
}

// ServerConfig controls the connection provider.
type ServerConfig struct {
	IdleTimeout     Duration `toml:"idle_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// AddressConfig controls the shared address provider.
type AddressConfig struct {
	Randomize bool `toml:"randomize"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:      DefaultPort,
		LogLevel:  "info",
		LogFormat: "text",
		UDP: UDPConfig{
			PortRangeStart:  DefaultUDPPortRangeStart,
			PortRangeEnd:    DefaultUDPPortRangeEnd,
			MaxRestarts:     10,
			RestartDelay:    Duration{50 * time.Millisecond},
			MaxRestartDelay: Duration{5 * time.Second},
		},
		Server: ServerConfig{
			IdleTimeout:     Duration{30 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
		},
		Address: AddressConfig{Randomize: true},
	}
}

// Load reads path over the defaults. An empty path skips the file. Any problem
// is logged and replaced by the corresponding default.
func Load(path string) Config {
	cfg := Default()

	if path != "" {
		if err := loadToml(path, &cfg); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Load",
				"package":  "config",
				"path":     path,
				"error":    err.Error(),
			}).Warn("Using default configuration")
			cfg = Default()
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg
}

func loadToml(path string, out *Config) error {
	md, err := toml.DecodeFile(path, out)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file not found (%s): %w", path, err)
	}
	if err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		logrus.WithFields(logrus.Fields{
			"function": "loadToml",
			"package":  "config",
			"keys":     strings.Join(keys, ","),
		}).Warn("Ignoring unknown configuration keys")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	raw := strings.TrimSpace(os.Getenv(EnvPort))
	if raw == "" {
		return
	}
	port, err := strconv.Atoi(raw)
	if err != nil || !validPort(port) {
		logrus.WithFields(logrus.Fields{
			"function": "applyEnvOverrides",
			"package":  "config",
			"value":    raw,
		}).Warn("Ignoring invalid port override")
		return
	}
	cfg.Port = port
}

// normalize replaces invalid values with defaults.
func normalize(cfg *Config) {
	def := Default()
	fix := func(field string, value interface{}) {
		logrus.WithFields(logrus.Fields{
			"function": "normalize",
			"package":  "config",
			"field":    field,
			"value":    value,
		}).Warn("Invalid configuration value, using default")
	}

	if !validPort(cfg.Port) {
		fix("port", cfg.Port)
		cfg.Port = def.Port
	}
	if !ValidatePortRange(cfg.UDP.PortRangeStart, cfg.UDP.PortRangeEnd) {
		fix("udp.port_range", fmt.Sprintf("%d-%d", cfg.UDP.PortRangeStart, cfg.UDP.PortRangeEnd))
		cfg.UDP.PortRangeStart = def.UDP.PortRangeStart
		cfg.UDP.PortRangeEnd = def.UDP.PortRangeEnd
	}
	if cfg.UDP.MaxRestarts < 0 {
		fix("udp.max_restarts", cfg.UDP.MaxRestarts)
		cfg.UDP.MaxRestarts = def.UDP.MaxRestarts
	}
	if cfg.UDP.RestartDelay.Duration <= 0 {
		fix("udp.restart_delay", cfg.UDP.RestartDelay)
		cfg.UDP.RestartDelay = def.UDP.RestartDelay
	}
	if cfg.UDP.MaxRestartDelay.Duration < cfg.UDP.RestartDelay.Duration {
		fix("udp.max_restart_delay", cfg.UDP.MaxRestartDelay)
		cfg.UDP.MaxRestartDelay = def.UDP.MaxRestartDelay
		if cfg.UDP.MaxRestartDelay.Duration < cfg.UDP.RestartDelay.Duration {
			cfg.UDP.MaxRestartDelay = cfg.UDP.RestartDelay
		}
	}
	if cfg.Server.IdleTimeout.Duration <= 0 {
		fix("server.idle_timeout", cfg.Server.IdleTimeout)
		cfg.Server.IdleTimeout = def.Server.IdleTimeout
	}
	if cfg.Server.ShutdownTimeout.Duration <= 0 {
		fix("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		fix("log_level", cfg.LogLevel)
		cfg.LogLevel = def.LogLevel
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		fix("log_format", cfg.LogFormat)
		cfg.LogFormat = def.LogFormat
	}
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

// ValidatePortRange reports whether [start, end] is a usable, non-privileged
// port range.
func ValidatePortRange(start, end int) bool {
	if start < 1024 || end > 65535 {
		return false
	}
	return start <= end
}
