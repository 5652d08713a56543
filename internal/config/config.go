// Package config resolves dashboard settings from defaults, an optional TOML
// file, and environment variables, in that order.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	configDirName  = ".agentboard"
	configFileName = "config.toml"
)

// Floors keep misconfigured intervals from hammering tmux and the log roots.
const (
	MinRefreshInterval = 500 * time.Millisecond
	MinLogPollInterval = 2 * time.Second

	DefaultRefreshInterval = 2 * time.Second
	DefaultLogPollInterval = 5 * time.Second
)

// Config is the resolved runtime configuration.
type Config struct {
	// TmuxSession is the managed session whose windows the dashboard owns.
	TmuxSession string
	// DiscoverPrefixes lists external session name prefixes to also scan.
	DiscoverPrefixes []string

	RefreshInterval time.Duration
	LogPollInterval time.Duration

	DBPath   string
	LogFile  string
	LogLevel string
}

// rawConfig is the TOML-unmarshaling intermediary. Pointer fields distinguish
// "absent" from zero values when merging over defaults.
type rawConfig struct {
	TmuxSession      *string  `toml:"tmux_session"`
	DiscoverPrefixes []string `toml:"discover_prefixes"`
	RefreshMs        *int     `toml:"refresh_ms"`
	LogPollMs        *int     `toml:"log_poll_ms"`
	DBPath           *string  `toml:"db_path"`
	LogFile          *string  `toml:"log_file"`
	LogLevel         *string  `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		TmuxSession:     "agentboard",
		RefreshInterval: DefaultRefreshInterval,
		LogPollInterval: DefaultLogPollInterval,
		DBPath:          filepath.Join(homeOr("."), configDirName, "agentboard.db"),
		LogFile:         filepath.Join(homeOr("."), configDirName, "agentboard.log"),
		LogLevel:        "info",
	}
}

// Load resolves configuration from the default file location.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom resolves configuration, reading the TOML file at path if present.
// An empty path means ~/.agentboard/config.toml. Environment variables win
// over the file; intervals are clamped to their floors last.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(homeOr("."), configDirName, configFileName)
	}
	data, err := os.ReadFile(path)
	if err == nil {
		var raw rawConfig
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		mergeConfig(cfg, &raw)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnv(cfg)

	cfg.DBPath = ExpandPath(cfg.DBPath)
	cfg.LogFile = ExpandPath(cfg.LogFile)

	if cfg.RefreshInterval < MinRefreshInterval {
		cfg.RefreshInterval = MinRefreshInterval
	}
	if cfg.LogPollInterval < MinLogPollInterval {
		cfg.LogPollInterval = MinLogPollInterval
	}
	return cfg, nil
}

func mergeConfig(cfg *Config, raw *rawConfig) {
	if raw.TmuxSession != nil {
		cfg.TmuxSession = *raw.TmuxSession
	}
	if raw.DiscoverPrefixes != nil {
		cfg.DiscoverPrefixes = raw.DiscoverPrefixes
	}
	if raw.RefreshMs != nil {
		cfg.RefreshInterval = time.Duration(*raw.RefreshMs) * time.Millisecond
	}
	if raw.LogPollMs != nil {
		cfg.LogPollInterval = time.Duration(*raw.LogPollMs) * time.Millisecond
	}
	if raw.DBPath != nil {
		cfg.DBPath = *raw.DBPath
	}
	if raw.LogFile != nil {
		cfg.LogFile = *raw.LogFile
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TMUX_SESSION"); v != "" {
		cfg.TmuxSession = v
	}
	if v := os.Getenv("DISCOVER_PREFIXES"); v != "" {
		cfg.DiscoverPrefixes = splitList(v)
	}
	if ms, ok := envMs("REFRESH_INTERVAL_MS"); ok {
		cfg.RefreshInterval = ms
	}
	if ms, ok := envMs("AGENTBOARD_LOG_POLL_MS"); ok {
		cfg.LogPollInterval = ms
	}
	if v := os.Getenv("AGENTBOARD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func envMs(name string) (time.Duration, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" {
		return homeOr(path)
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeOr("."), path[2:])
	}
	return path
}

func homeOr(fallback string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return home
}
