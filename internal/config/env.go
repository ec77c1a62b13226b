// Package config provides centralized configuration management.
// Eliminates scattered os.Getenv calls across the codebase.
package config

import (
	"os"
	"path/filepath"
	"sync"
)

// LabEnv holds all labscope environment variables.
type LabEnv struct {
	// Student is the student identifier stamped on sessions (LABSCOPE_STUDENT)
	Student string

	// Module is the lab module taught by this machine (LABSCOPE_MODULE)
	Module string

	// SessionID is the current session identifier (LABSCOPE_SESSION_ID)
	SessionID string

	// Socket overrides the UI bridge socket path (LABSCOPE_SOCKET)
	Socket string

	// Environment forces the lab environment kind for scenario runs,
	// "mock" or "real"; empty lets each scenario decide (LABSCOPE_ENV)
	Environment string

	// Debug enables debug logging (LABSCOPE_DEBUG)
	Debug bool
}

var (
	env     *LabEnv
	envOnce sync.Once
)

// Env returns the singleton environment configuration.
// Thread-safe, loads once on first call.
func Env() *LabEnv {
	envOnce.Do(func() {
		env = &LabEnv{
			Student:     os.Getenv("LABSCOPE_STUDENT"),
			Module:      os.Getenv("LABSCOPE_MODULE"),
			SessionID:   os.Getenv("LABSCOPE_SESSION_ID"),
			Socket:      os.Getenv("LABSCOPE_SOCKET"),
			Environment: os.Getenv("LABSCOPE_ENV"),
			Debug:       os.Getenv("LABSCOPE_DEBUG") == "1",
		}
	})
	return env
}

// ResetEnv resets the cached environment (for testing).
func ResetEnv() {
	envOnce = sync.Once{}
	env = nil
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Paths holds standard labscope directory paths.
type Paths struct {
	// Home is the labscope home directory (~/.labscope)
	Home string

	// Sessions is where per-run session directories live (~/.labscope/sessions)
	Sessions string

	// Data is the data directory holding history.db (~/.labscope/data)
	Data string

	// Scenarios is the default scenario search directory (~/.labscope/scenarios)
	Scenarios string

	// Socket is the default UI bridge socket path (~/.labscope/ui.sock)
	Socket string
}

var (
	paths     *Paths
	pathsOnce sync.Once
)

// GetPaths returns the singleton paths configuration.
// LABSCOPE_HOME overrides the home directory.
func GetPaths() *Paths {
	pathsOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		labHome := getEnvDefault("LABSCOPE_HOME", filepath.Join(home, ".labscope"))

		paths = &Paths{
			Home:      labHome,
			Sessions:  filepath.Join(labHome, "sessions"),
			Data:      filepath.Join(labHome, "data"),
			Scenarios: filepath.Join(labHome, "scenarios"),
			Socket:    filepath.Join(labHome, "ui.sock"),
		}
	})
	return paths
}

// ResetPaths resets the cached paths (for testing).
func ResetPaths() {
	pathsOnce = sync.Once{}
	paths = nil
}

// Path returns a path under the labscope home directory.
// Equivalent to filepath.Join(~/.labscope, parts...)
func Path(parts ...string) string {
	p := GetPaths()
	allParts := append([]string{p.Home}, parts...)
	return filepath.Join(allParts...)
}

// EnsureDir creates a directory if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// SocketPath returns the UI bridge socket, honoring LABSCOPE_SOCKET.
func SocketPath() string {
	if s := Env().Socket; s != "" {
		return s
	}
	return GetPaths().Socket
}

// StudentID returns the configured student identity, or the fallback
// when none is set.
func StudentID(fallback string) string {
	if s := Env().Student; s != "" {
		return s
	}
	return fallback
}
