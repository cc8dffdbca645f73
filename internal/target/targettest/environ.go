// Package targettest provides in-memory stand-ins for target collaborators.
package targettest

import "sync"

// MapEnviron is an in-memory process environment. It satisfies
// target.Environ.
type MapEnviron struct {
	mu   sync.Mutex
	vars map[string]string
}

// NewMapEnviron creates an environment seeded with vars.
func NewMapEnviron(vars map[string]string) *MapEnviron {
	m := &MapEnviron{vars: make(map[string]string, len(vars))}
	for k, v := range vars {
		m.vars[k] = v
	}
	return m
}

// Getenv returns the value of key, or "" when unset.
func (m *MapEnviron) Getenv(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vars[key]
}

// Setenv sets key to value.
func (m *MapEnviron) Setenv(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vars[key] = value
	return nil
}

// Unsetenv removes key.
func (m *MapEnviron) Unsetenv(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vars, key)
	return nil
}
