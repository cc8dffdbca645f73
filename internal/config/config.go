// Package config provides settings loading and the proxy configuration value.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/rennerdo30/proxyman/internal/fsutil"
	"github.com/rennerdo30/proxyman/internal/util"
)

// Load reads and parses a YAML file into the given struct.
// A missing file yields an error wrapping util.ErrNotFound.
func Load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return util.WrapErrorf(util.ErrNotFound, "config file %s", path)
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// WriteFile atomically writes raw settings bytes, creating the parent directory.
// The file is 0600 because profiles and settings may reference credentials.
func WriteFile(path string, data []byte) error {
	if err := fsutil.WriteFileAtomic(afero.NewOsFs(), path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
