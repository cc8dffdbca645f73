// Package target implements the backends whose proxy configuration proxyman
// manages: the OS settings store, environment variables, git, npm and the
// PowerShell profile.
package target

import (
	"context"

	"github.com/rennerdo30/proxyman/internal/config"
)

// Target is one backend whose proxy configuration can be set, cleared and read
// independently of the others.
type Target interface {
	// Name returns the stable identifier (system, environment, git, npm, powershell).
	Name() string

	// Description returns a one-line human-readable description.
	Description() string

	// IsAvailable probes whether the backend can be used on this machine.
	// It has no side effects.
	IsAvailable(ctx context.Context) bool

	// SetProxy writes cfg to the backend. Calling it twice with the same
	// config yields the same end state.
	SetProxy(ctx context.Context, cfg *config.ProxyConfig) error

	// UnsetProxy removes the backend's proxy configuration. Removing an
	// already absent configuration succeeds.
	UnsetProxy(ctx context.Context) error

	// ListProxy returns the current configuration. An empty Settings means
	// nothing is configured; an error means the state could not be read.
	ListProxy(ctx context.Context) (Settings, error)
}

// Setting is one reported key/value pair.
type Setting struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// Settings is an ordered list of reported values.
type Settings []Setting

// Get returns the value for key.
func (s Settings) Get(key string) (string, bool) {
	for _, kv := range s {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Empty reports whether nothing is configured.
func (s Settings) Empty() bool {
	return len(s) == 0
}

// Map returns the settings as a map.
func (s Settings) Map() map[string]string {
	m := make(map[string]string, len(s))
	for _, kv := range s {
		m[kv.Key] = kv.Value
	}
	return m
}

func (s Settings) add(key, value string) Settings {
	if value == "" {
		return s
	}
	return append(s, Setting{Key: key, Value: value})
}
