// Package envstore persists user-level environment variables so that
// processes started after proxyman exits see them.
package envstore

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/rennerdo30/proxyman/internal/fsutil"
)

// Store is a durable user-level environment.
type Store interface {
	// Set writes or replaces the given variables.
	Set(vars map[string]string) error
	// Delete removes the named variables. Missing names are not an error.
	Delete(names ...string) error
	// Get returns the values of the named variables that are present.
	Get(names ...string) (map[string]string, error)
	// Location describes where the variables live, for display.
	Location() string
}

// New returns the platform store: the user registry environment on Windows,
// an env file at path elsewhere.
func New(path string, notifyTimeout time.Duration) Store {
	return newPlatformStore(path, notifyTimeout)
}

// FileStore keeps variables in a dotenv file of "export KEY=value" lines,
// suitable for sourcing from a POSIX shell startup file.
type FileStore struct {
	fs   afero.Fs
	path string
}

// NewFileStore creates a file-backed store.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Location implements Store.
func (s *FileStore) Location() string {
	return s.path
}

// Set implements Store.
func (s *FileStore) Set(vars map[string]string) error {
	current, err := s.read()
	if err != nil {
		return err
	}
	for k, v := range vars {
		current[k] = v
	}
	return s.write(current)
}

// Delete implements Store.
func (s *FileStore) Delete(names ...string) error {
	current, err := s.read()
	if err != nil {
		return err
	}
	changed := false
	for _, name := range names {
		if _, ok := current[name]; ok {
			delete(current, name)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.write(current)
}

// Get implements Store.
func (s *FileStore) Get(names ...string) (map[string]string, error) {
	current, err := s.read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(names))
	for _, name := range names {
		if v, ok := current[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}

func (s *FileStore) read() (map[string]string, error) {
	data, ok, err := fsutil.ReadFileIfExists(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", s.path, err)
	}
	if !ok {
		return make(map[string]string), nil
	}
	vars, err := godotenv.UnmarshalBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse env file %s: %w", s.path, err)
	}
	return vars, nil
}

func (s *FileStore) write(vars map[string]string) error {
	var b strings.Builder
	b.WriteString("# Managed by proxyman. Source this file from your shell startup script.\n")
	if len(vars) > 0 {
		body, err := godotenv.Marshal(vars)
		if err != nil {
			return fmt.Errorf("encode env file: %w", err)
		}
		lines := strings.Split(body, "\n")
		sort.Strings(lines)
		for _, line := range lines {
			if line == "" {
				continue
			}
			b.WriteString("export ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return fsutil.WriteFileAtomic(s.fs, s.path, []byte(b.String()), 0600)
}
