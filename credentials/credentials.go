// Package credentials manages the key=value file holding model API keys.
//
// Information Hiding:
// - File format and quoting handled by godotenv
// - File permissions and removal of an emptied file hidden
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Store reads and rewrites one credential file.
type Store struct {
	path string
}

// NewStore creates a store for the file at path. The file need not exist.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the per-user credential file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(dir, "shellagent", "credentials.env"), nil
}

// Path returns the file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns every key in the file. A missing file yields an empty map.
func (s *Store) Load() (map[string]string, error) {
	values, err := godotenv.Read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from %s: %w", s.path, err)
	}
	return values, nil
}

// Get returns the value of key, or "" when it is not set.
func (s *Store) Get(key string) (string, error) {
	values, err := s.Load()
	if err != nil {
		return "", err
	}
	return values[key], nil
}

// Set writes key=value, keeping every other key. An empty value removes
// the key; the file is deleted once no keys remain.
func (s *Store) Set(key, value string) error {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("credential value for %s cannot contain line breaks", key)
	}

	values, err := s.Load()
	if err != nil {
		return err
	}
	if value == "" {
		delete(values, key)
	} else {
		values[key] = value
	}

	if len(values) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove credentials file: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}
	if err := godotenv.Write(values, s.path); err != nil {
		return fmt.Errorf("failed to write credentials to %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("failed to restrict credentials file: %w", err)
	}
	return nil
}

// Export sets environment variables from the file without overriding
// variables that are already set. A missing file is not an error.
func (s *Store) Export() error {
	err := godotenv.Load(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load credentials from %s: %w", s.path, err)
	}
	return nil
}
