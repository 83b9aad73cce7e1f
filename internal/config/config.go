// Package config layers session defaults from an optional .env file and
// environment variables: the .env file is read first, then environment
// variables override it field by field.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SessionConfig holds the overridable defaults a new session starts
// from.
type SessionConfig struct {
	// AdapterSerial holds the DWDBG_ADAPTER_SERIAL setting. adapter.Open
	// does not consult it: it always opens the first device matching the
	// vendor/product ID.
	AdapterSerial string
	// TimerEnable is the session's initial timer_enable default.
	TimerEnable bool
}

var (
	sessionConfig *SessionConfig
	configLoaded  bool
)

// envField binds one SessionConfig field to the key that feeds it, so
// the .env-file pass and the environment-variable pass can share a
// single apply step instead of each field getting its own repeated
// if-else arm.
type envField struct {
	key   string
	apply func(cfg *SessionConfig, value string)
}

var envFields = []envField{
	{"DWDBG_ADAPTER_SERIAL", func(cfg *SessionConfig, v string) {
		cfg.AdapterSerial = v
	}},
	{"DWDBG_TIMER_ENABLE", func(cfg *SessionConfig, v string) {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.TimerEnable = b
		}
	}},
}

// LoadSessionConfig loads DWDBG_ADAPTER_SERIAL and DWDBG_TIMER_ENABLE
// from a .env file in the project root (if present) and from the
// environment, with environment variables taking precedence. The
// result is cached for the process lifetime.
func LoadSessionConfig() (*SessionConfig, error) {
	if configLoaded {
		return sessionConfig, nil
	}

	cfg := &SessionConfig{TimerEnable: true}
	applyEnvFields(cfg, readEnvFile(findProjectRoot()))
	for _, f := range envFields {
		if v := os.Getenv(f.key); v != "" {
			f.apply(cfg, v)
		}
	}

	sessionConfig = cfg
	configLoaded = true
	return cfg, nil
}

// readEnvFile returns the KEY=value pairs found in root/.env, or nil if
// the file doesn't exist or can't be read.
func readEnvFile(root string) map[string]string {
	data, err := os.ReadFile(filepath.Join(root, ".env"))
	if err != nil {
		return nil
	}
	return parseEnvContent(string(data))
}

func parseEnvContent(content string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values
}

func applyEnvFields(cfg *SessionConfig, values map[string]string) {
	for _, f := range envFields {
		if v, ok := values[f.key]; ok {
			f.apply(cfg, v)
		}
	}
}

// findProjectRoot walks up from the working directory to the nearest
// ancestor containing a .env or go.mod file.
func findProjectRoot() string {
	dir, _ := os.Getwd()
	for {
		if fileExists(filepath.Join(dir, ".env")) || fileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// GetAdapterSerial returns the configured adapter serial, or "" if
// unset.
func GetAdapterSerial() string {
	cfg, _ := LoadSessionConfig()
	return cfg.AdapterSerial
}

// GetTimerEnable returns the configured default for timer_enable.
func GetTimerEnable() bool {
	cfg, _ := LoadSessionConfig()
	return cfg.TimerEnable
}
