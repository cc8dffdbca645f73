// Package profile persists named proxy configurations and the advisory
// active-profile marker.
package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"gopkg.in/ini.v1"

	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/fsutil"
	"github.com/rennerdo30/proxyman/internal/util"
)

const (
	// ActiveMarkerFile holds the name of the most recently applied profile.
	ActiveMarkerFile = ".active_profile"

	iniSection = "proxy"
	extJSON    = ".json"
	extINI     = ".ini"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store keeps one record per profile in a directory. Records are JSON
// (preferred) or INI with a [proxy] section.
type Store struct {
	fs     afero.Fs
	dir    string
	format string
}

// NewStore creates a store rooted at dir. format selects the shape new
// records are written in (config.FormatJSON or config.FormatINI).
func NewStore(fs afero.Fs, dir, format string) *Store {
	if format != config.FormatINI {
		format = config.FormatJSON
	}
	return &Store{fs: fs, dir: dir, format: format}
}

// Dir returns the profile directory.
func (s *Store) Dir() string {
	return s.dir
}

// ValidateName checks that name can be used for a new profile.
func ValidateName(name string) error {
	if name == "all" {
		return fmt.Errorf("%w: profile name %q is reserved", util.ErrInvalidConfig, name)
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: profile name %q must start with a letter or digit and contain only letters, digits, '.', '_' or '-'", util.ErrInvalidConfig, name)
	}
	return nil
}

// checkLookup accepts names written by older releases while refusing
// anything that would escape the directory.
func checkLookup(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: invalid profile name %q", util.ErrInvalidConfig, name)
	}
	return nil
}

func (s *Store) pathFor(name, ext string) string {
	return filepath.Join(s.dir, name+ext)
}

// Path returns the file holding name: the existing record if there is one,
// otherwise where Save would write it.
func (s *Store) Path(name string) string {
	for _, ext := range []string{extJSON, extINI} {
		if p := s.pathFor(name, ext); fsutil.Exists(s.fs, p) {
			return p
		}
	}
	return s.pathFor(name, s.ext())
}

func (s *Store) ext() string {
	if s.format == config.FormatINI {
		return extINI
	}
	return extJSON
}

// Save writes cfg under name, replacing any existing record atomically.
// The record in the other shape, if any, is removed so the two never disagree.
func (s *Store) Save(name string, cfg *config.ProxyConfig) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var data []byte
	var err error
	if s.format == config.FormatINI {
		data, err = encodeINI(cfg)
	} else {
		data, err = encodeJSON(cfg)
	}
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", name, err)
	}

	path := s.pathFor(name, s.ext())
	if err := fsutil.WriteFileAtomic(s.fs, path, data, 0600); err != nil {
		return fmt.Errorf("save profile %s: %w", name, err)
	}

	other := extINI
	if s.ext() == extINI {
		other = extJSON
	}
	if err := s.fs.Remove(s.pathFor(name, other)); err != nil && !isNotExist(err) {
		return fmt.Errorf("remove stale profile record: %w", err)
	}
	return nil
}

// Load returns the profile named name, or nil when it does not exist.
func (s *Store) Load(name string) (*config.ProxyConfig, error) {
	if err := checkLookup(name); err != nil {
		return nil, err
	}

	if data, ok, err := fsutil.ReadFileIfExists(s.fs, s.pathFor(name, extJSON)); err != nil {
		return nil, fmt.Errorf("read profile %s: %w", name, err)
	} else if ok {
		return decode(name, data, decodeJSON)
	}

	if data, ok, err := fsutil.ReadFileIfExists(s.fs, s.pathFor(name, extINI)); err != nil {
		return nil, fmt.Errorf("read profile %s: %w", name, err)
	} else if ok {
		return decode(name, data, decodeINI)
	}
	return nil, nil
}

// List returns the sorted profile names across both record shapes.
func (s *Store) List() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		if isNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	names := lo.FilterMap(entries, func(e fs.FileInfo, _ int) (string, bool) {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			return "", false
		}
		ext := filepath.Ext(e.Name())
		if ext != extJSON && ext != extINI {
			return "", false
		}
		return strings.TrimSuffix(e.Name(), ext), true
	})
	names = lo.Uniq(names)
	sort.Strings(names)
	return names, nil
}

// Exists reports whether a record for name exists.
func (s *Store) Exists(name string) bool {
	if checkLookup(name) != nil {
		return false
	}
	return fsutil.Exists(s.fs, s.pathFor(name, extJSON)) || fsutil.Exists(s.fs, s.pathFor(name, extINI))
}

// Delete removes every record for name and clears the active marker if it
// points at name. Deleting a missing profile is an error wrapping
// util.ErrNotFound.
func (s *Store) Delete(name string) error {
	if err := checkLookup(name); err != nil {
		return err
	}

	removed := false
	for _, ext := range []string{extJSON, extINI} {
		err := s.fs.Remove(s.pathFor(name, ext))
		switch {
		case err == nil:
			removed = true
		case !isNotExist(err):
			return fmt.Errorf("delete profile %s: %w", name, err)
		}
	}
	if !removed {
		return fmt.Errorf("profile %q: %w", name, util.ErrNotFound)
	}

	active, err := s.readMarker()
	if err == nil && active == name {
		return s.ClearActive()
	}
	return nil
}

// GetActive returns the active profile name, or "" when none is known. A
// marker naming a profile that no longer exists is cleared.
func (s *Store) GetActive() (string, error) {
	name, err := s.readMarker()
	if err != nil || name == "" {
		return "", err
	}
	if !s.Exists(name) {
		if err := s.ClearActive(); err != nil {
			return "", err
		}
		return "", nil
	}
	return name, nil
}

// SetActive records name as the active profile.
func (s *Store) SetActive(name string) error {
	if !s.Exists(name) {
		return fmt.Errorf("profile %q: %w", name, util.ErrNotFound)
	}
	return fsutil.WriteFileAtomic(s.fs, filepath.Join(s.dir, ActiveMarkerFile), []byte(name+"\n"), 0600)
}

// ClearActive removes the active marker. Clearing an absent marker succeeds.
func (s *Store) ClearActive() error {
	err := s.fs.Remove(filepath.Join(s.dir, ActiveMarkerFile))
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("clear active profile: %w", err)
	}
	return nil
}

func (s *Store) readMarker() (string, error) {
	data, ok, err := fsutil.ReadFileIfExists(s.fs, filepath.Join(s.dir, ActiveMarkerFile))
	if err != nil {
		return "", fmt.Errorf("read active profile: %w", err)
	}
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(string(data)), nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// record is the JSON shape.
type record struct {
	HTTPHost  string `json:"http_host"`
	HTTPPort  int    `json:"http_port"`
	HTTPSHost string `json:"https_host"`
	HTTPSPort int    `json:"https_port"`
	FTPHost   string `json:"ftp_host"`
	FTPPort   int    `json:"ftp_port"`
	UseAuth   bool   `json:"use_auth"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	NoProxy   string `json:"no_proxy"`
	UseSame   bool   `json:"use_same"`
}

func toRecord(cfg *config.ProxyConfig) record {
	return record{
		HTTPHost:  cfg.HTTPHost,
		HTTPPort:  int(cfg.HTTPPort),
		HTTPSHost: cfg.HTTPSHost,
		HTTPSPort: int(cfg.HTTPSPort),
		FTPHost:   cfg.FTPHost,
		FTPPort:   int(cfg.FTPPort),
		UseAuth:   cfg.UseAuth,
		Username:  cfg.Username,
		Password:  cfg.Password,
		NoProxy:   cfg.NoProxyString(),
		UseSame:   cfg.UseSame,
	}
}

func encodeJSON(cfg *config.ProxyConfig) ([]byte, error) {
	data, err := json.MarshalIndent(toRecord(cfg), "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func encodeINI(cfg *config.ProxyConfig) ([]byte, error) {
	r := toRecord(cfg)
	f := ini.Empty(ini.LoadOptions{IgnoreInlineComment: true})
	sec, err := f.NewSection(iniSection)
	if err != nil {
		return nil, err
	}
	port := func(p int) string {
		if p == 0 {
			return ""
		}
		return strconv.Itoa(p)
	}
	pairs := [][2]string{
		{"http_host", r.HTTPHost},
		{"http_port", port(r.HTTPPort)},
		{"https_host", r.HTTPSHost},
		{"https_port", port(r.HTTPSPort)},
		{"ftp_host", r.FTPHost},
		{"ftp_port", port(r.FTPPort)},
		{"use_auth", strconv.FormatBool(r.UseAuth)},
		{"username", r.Username},
		{"password", r.Password},
		{"no_proxy", r.NoProxy},
		{"use_same", strconv.FormatBool(r.UseSame)},
	}
	for _, kv := range pairs {
		if _, err := sec.NewKey(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeJSON(data []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func decodeINI(data []byte) (map[string]any, error) {
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, data)
	if err != nil {
		return nil, err
	}
	sec, err := f.GetSection(iniSection)
	if err != nil {
		return nil, fmt.Errorf("missing [%s] section", iniSection)
	}
	fields := make(map[string]any, len(sec.Keys()))
	for k, v := range sec.KeysHash() {
		fields[k] = v
	}
	return fields, nil
}

func decode(name string, data []byte, parse func([]byte) (map[string]any, error)) (*config.ProxyConfig, error) {
	fields, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: profile %s: %w", util.ErrInvalidConfig, name, err)
	}
	cfg, err := fromFields(fields)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", name, err)
	}
	return cfg, nil
}

// fromFields builds a config from loosely typed values. Ports may be numbers,
// numeric strings or empty; booleans may be any form strconv.ParseBool accepts.
func fromFields(fields map[string]any) (*config.ProxyConfig, error) {
	var errs []error
	str := func(key string) string {
		return strings.TrimSpace(cast.ToString(fields[key]))
	}
	port := func(key string) uint16 {
		v, ok := fields[key]
		if !ok || v == nil || strings.TrimSpace(cast.ToString(v)) == "" {
			return 0
		}
		n, err := cast.ToIntE(v)
		if err != nil || n < 0 || n > 65535 {
			errs = append(errs, fmt.Errorf("%s: bad port %v", key, v))
			return 0
		}
		return uint16(n)
	}
	flag := func(key string) bool {
		v, ok := fields[key]
		if !ok || v == nil || cast.ToString(v) == "" {
			return false
		}
		b, err := cast.ToBoolE(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: bad boolean %v", key, v))
		}
		return b
	}
	noProxy := func() []string {
		switch v := fields["no_proxy"].(type) {
		case []any:
			return config.SplitNoProxy(strings.Join(cast.ToStringSlice(v), ","))
		default:
			return config.SplitNoProxy(cast.ToString(v))
		}
	}

	cfg := &config.ProxyConfig{
		HTTPHost:  str("http_host"),
		HTTPPort:  port("http_port"),
		HTTPSHost: str("https_host"),
		HTTPSPort: port("https_port"),
		FTPHost:   str("ftp_host"),
		FTPPort:   port("ftp_port"),
		UseAuth:   flag("use_auth"),
		Username:  cast.ToString(fields["username"]),
		Password:  cast.ToString(fields["password"]),
		NoProxy:   noProxy(),
		UseSame:   flag("use_same"),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", util.ErrInvalidConfig, errors.Join(errs...))
	}
	if !cfg.UseAuth {
		cfg.Username, cfg.Password = "", ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
