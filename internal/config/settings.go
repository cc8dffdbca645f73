package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rennerdo30/proxyman/internal/logging"
	"github.com/rennerdo30/proxyman/internal/util"
)

const (
	// DefaultDirName is the per-user directory holding profiles and settings.
	DefaultDirName = ".proxymanx"
	// SettingsFileName is the settings file inside the profile directory.
	SettingsFileName = "settings.yaml"
	// EnvFileName is the durable environment file used off Windows.
	EnvFileName = "proxy.env"

	// FormatJSON stores profiles as typed JSON records.
	FormatJSON = "json"
	// FormatINI stores profiles as a [proxy] section of text values.
	FormatINI = "ini"
)

// Settings is the tool's own configuration.
type Settings struct {
	ProfileDir     string         `yaml:"profile_dir" json:"profile_dir"`
	ProfileFormat  string         `yaml:"profile_format" json:"profile_format"`   // json, ini
	CommandTimeout Duration       `yaml:"command_timeout" json:"command_timeout"` // bound for git/npm/shell/gsettings invocations
	NotifyTimeout  Duration       `yaml:"notify_timeout" json:"notify_timeout"`   // bound for the OS settings-changed broadcast
	ShellProfile   string         `yaml:"shell_profile,omitempty" json:"shell_profile,omitempty"`
	EnvFile        string         `yaml:"env_file,omitempty" json:"env_file,omitempty"`
	DefaultNoProxy []string       `yaml:"default_no_proxy" json:"default_no_proxy"`
	Logging        logging.Config `yaml:"logging" json:"logging"`
}

// DefaultSettings returns settings with sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		ProfileDir:     DefaultProfileDir(),
		ProfileFormat:  FormatJSON,
		CommandTimeout: Duration(30 * time.Second),
		NotifyTimeout:  Duration(2 * time.Second),
		DefaultNoProxy: append([]string(nil), DefaultNoProxy...),
		Logging:        logging.DefaultConfig(),
	}
}

// DefaultProfileDir returns ~/.proxymanx, or a relative directory when the
// home directory cannot be determined.
func DefaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(home, DefaultDirName)
}

// DefaultSettingsPath returns the settings file location inside the default profile directory.
func DefaultSettingsPath() string {
	return filepath.Join(DefaultProfileDir(), SettingsFileName)
}

// LoadSettings reads settings from path over the defaults.
// A missing file is not an error.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if err := Load(path, &s); err != nil && !util.IsNotFound(err) {
		return s, err
	}
	if s.ProfileDir != "" {
		s.ProfileDir = filepath.Clean(expandHome(s.ProfileDir))
	}
	s.ShellProfile = expandHome(s.ShellProfile)
	s.EnvFile = expandHome(s.EnvFile)
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if s.ProfileDir == "" {
		return fmt.Errorf("%w: profile_dir is required", util.ErrInvalidConfig)
	}
	switch s.ProfileFormat {
	case FormatJSON, FormatINI:
	default:
		return fmt.Errorf("%w: profile_format must be %q or %q, got %q", util.ErrInvalidConfig, FormatJSON, FormatINI, s.ProfileFormat)
	}
	if s.CommandTimeout.Duration() <= 0 {
		return fmt.Errorf("%w: command_timeout must be positive", util.ErrInvalidConfig)
	}
	if s.NotifyTimeout.Duration() <= 0 {
		return fmt.Errorf("%w: notify_timeout must be positive", util.ErrInvalidConfig)
	}
	return nil
}

// EnvFilePath returns the durable environment file location.
func (s *Settings) EnvFilePath() string {
	if s.EnvFile != "" {
		return s.EnvFile
	}
	return filepath.Join(s.ProfileDir, EnvFileName)
}

// DefaultNoProxyString returns the default exclusion list as one field.
func (s *Settings) DefaultNoProxyString() string {
	return strings.Join(s.DefaultNoProxy, ",")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
