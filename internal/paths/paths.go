// Package paths provides centralized path resolution for the gateway.
// This package has NO internal imports (only stdlib) to avoid import cycles.
// All functions return errors to allow callers to log appropriately.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// BaseDir returns the gateway's base directory (~/.galactic-gateway).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".galactic-gateway"), nil
}

// DataPath returns a path within the gateway's data directory
// (~/.galactic-gateway/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active gateway.toml path.
// Priority: ./gateway.toml (current dir) > ~/.galactic-gateway/gateway.toml
// Returns ("", nil) if no config exists - this is a valid state, not an error.
func ConfigPath() (string, error) {
	localPath := "gateway.toml"
	if _, err := os.Stat(localPath); err == nil {
		absPath, err := filepath.Abs(localPath)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		return absPath, nil
	}

	globalPath, err := DataPath("gateway.toml")
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", nil
}

// DefaultConfigPath returns the default location for new configs
// (~/.galactic-gateway/gateway.toml).
func DefaultConfigPath() (string, error) {
	return DataPath("gateway.toml")
}

// LogsDir returns the directory holding cost_log.jsonl, chat_history.jsonl,
// and the runs/<uuid>/checkpoint.json tree (~/.galactic-gateway/logs).
func LogsDir() (string, error) {
	return DataPath("logs")
}

// RunsDir returns the checkpoint runs directory
// (~/.galactic-gateway/logs/runs).
func RunsDir() (string, error) {
	return DataPath(filepath.Join("logs", "runs"))
}

// CostLogPath returns the cost log file path
// (~/.galactic-gateway/logs/cost_log.jsonl).
func CostLogPath() (string, error) {
	return DataPath(filepath.Join("logs", "cost_log.jsonl"))
}

// ChatHistoryPath returns the chat history file path
// (~/.galactic-gateway/logs/chat_history.jsonl).
func ChatHistoryPath() (string, error) {
	return DataPath(filepath.Join("logs", "chat_history.jsonl"))
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if it doesn't exist.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
