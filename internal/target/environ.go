package target

import "os"

// Environ is the current process environment. The Environment target writes
// through it so child processes of this run see the new values.
type Environ interface {
	Getenv(key string) string
	Setenv(key, value string) error
	Unsetenv(key string) error
}

// OSEnviron is the real process environment.
type OSEnviron struct{}

// Getenv implements Environ.
func (OSEnviron) Getenv(key string) string { return os.Getenv(key) }

// Setenv implements Environ.
func (OSEnviron) Setenv(key, value string) error { return os.Setenv(key, value) }

// Unsetenv implements Environ.
func (OSEnviron) Unsetenv(key string) error { return os.Unsetenv(key) }
