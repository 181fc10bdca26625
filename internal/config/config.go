// Package config loads process-level settings from FSGATE_* environment
// variables and durable policy from a TOML file in the state directory.
package config

import (
	"os"
	"path/filepath"
	"strconv"
)

// Config is the process-level runtime configuration.
type Config struct {
	LogLevel  string
	Transport string // "stdio" or "http"
	HTTPHost  string
	HTTPPort  int
	Root      string
	StateDir  string // ledger + policy file location
}

// Load reads the environment. CLI flags override the result in main.
func Load() Config {
	cfg := Config{
		LogLevel:  envOr("FSGATE_LOG_LEVEL", "info"),
		Transport: envOr("FSGATE_TRANSPORT", "stdio"),
		HTTPHost:  envOr("FSGATE_HTTP_HOST", "127.0.0.1"),
		HTTPPort:  atoiOrDefault(os.Getenv("FSGATE_HTTP_PORT"), 4832),
		Root:      os.Getenv("FSGATE_ROOT"),
		StateDir:  os.Getenv("FSGATE_STATE_DIR"),
	}
	if cfg.Root == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Root = wd
		}
	}
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err == nil && home != "" {
			cfg.StateDir = filepath.Join(home, ".fsgate")
		} else {
			cfg.StateDir = filepath.Join(os.TempDir(), "fsgate")
		}
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiOrDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
