// Package config wraps the process-wide viper instance. Precedence, highest
// first: explicit Set (flags) > TASCADE_* environment variables > config
// file > defaults.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Call once at
// startup, before any getter. explicitFile, when non-empty, pins the config
// file (from --config); otherwise the search order is a tascade.yaml found
// walking up from the working directory, then the user config directory.
func Initialize(explicitFile string) error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	if explicitFile != "" {
		v.SetConfigFile(explicitFile)
		configFileSet = true
	}

	// Walk up from CWD so commands work from subdirectories of a checkout
	// that carries a tascade.yaml.
	if !configFileSet {
		if cwd, err := os.Getwd(); err == nil {
			for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
				path := filepath.Join(dir, "tascade.yaml")
				if _, err := os.Stat(path); err == nil {
					v.SetConfigFile(path)
					configFileSet = true
					break
				}
			}
		}
	}

	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			path := filepath.Join(configDir, "tascade", "tascade.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	// TASCADE_SERVER_LISTEN maps to "server.listen", and so on.
	v.SetEnvPrefix("TASCADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db.path", "")
	v.SetDefault("db.busy_timeout", "5s")

	v.SetDefault("server.listen", "127.0.0.1:7171")
	v.SetDefault("server.auth_disabled", false)
	v.SetDefault("server.mcp_enabled", true)
	v.SetDefault("server.request_timeout", "60s")

	v.SetDefault("lease.default_ttl", "15m")
	v.SetDefault("lease.max_ttl", "24h")
	v.SetDefault("reservation.default_ttl", "30m")
	v.SetDefault("sweep.interval", "")

	v.SetDefault("gates.rules_file", "")

	v.SetDefault("outbox.jsonl_dir", "")
	v.SetDefault("outbox.poll_interval", "2s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("digest.model", "claude-haiku-4-5")
	v.SetDefault("digest.max_tokens", 1024)

	v.SetDefault("client.base_url", "http://127.0.0.1:7171")
	v.SetDefault("client.api_key", "")
	v.SetDefault("client.timeout", "30s")

	v.SetDefault("actor", "")
	v.SetDefault("json", false)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a configuration value. Used to push resolved cobra flags
// into the config layer so everything downstream reads one source.
func Set(key string, value any) {
	if v != nil {
		v.Set(key, value)
	}
}

// ConfigFileUsed reports the loaded config file path, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// DatabasePath resolves the coordinator database location: config/env/flag
// first, then a tascade.db found walking up from the working directory,
// then the default under the user config dir.
func DatabasePath() string {
	if p := GetString("db.path"); p != "" {
		return p
	}
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			path := filepath.Join(dir, "tascade.db")
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(configDir, "tascade", "tascade.db")
	}
	return "tascade.db"
}

// SweepInterval resolves the sweeper period: explicit config wins, else
// half the smaller of the lease and reservation TTLs, so expiry is observed
// at least once per TTL window.
func SweepInterval() time.Duration {
	if d := GetDuration("sweep.interval"); d > 0 {
		return d
	}
	lease := GetDuration("lease.default_ttl")
	res := GetDuration("reservation.default_ttl")
	min := lease
	if res > 0 && (min == 0 || res < min) {
		min = res
	}
	if min <= 0 {
		min = 15 * time.Minute
	}
	return min / 2
}

// Actor resolves the acting identity for CLI commands. Priority: the
// --actor flag, then TASCADE_ACTOR / config, then git user.name, then
// hostname.
func Actor(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if actor := GetString("actor"); actor != "" {
		return actor
	}
	cmd := exec.Command("git", "config", "user.name")
	if output, err := cmd.Output(); err == nil {
		if gitUser := strings.TrimSpace(string(output)); gitUser != "" {
			return gitUser
		}
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "unknown"
}
