package target

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/rennerdo30/proxyman/internal/command"
	"github.com/rennerdo30/proxyman/internal/envstore"
	"github.com/rennerdo30/proxyman/internal/logging"
	"github.com/rennerdo30/proxyman/internal/sysproxy"
)

// Target identifiers.
const (
	KindSystem      = "system"
	KindEnvironment = "environment"
	KindGit         = "git"
	KindNPM         = "npm"
	KindPowerShell  = "powershell"
)

// KindInfo describes one target kind.
type KindInfo struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
}

var kindOrder = []string{KindSystem, KindEnvironment, KindGit, KindNPM, KindPowerShell}

var descriptions = map[string]string{
	KindEnvironment: "Environment variables (HTTP_PROXY, HTTPS_PROXY)",
	KindGit:         "Git global proxy configuration",
	KindNPM:         "NPM/Yarn proxy settings",
	KindPowerShell:  "PowerShell profile proxy settings",
}

func describe(id string) string {
	if id == KindSystem {
		return systemDescription()
	}
	return descriptions[id]
}

// Kinds returns every target kind in display order.
func Kinds() []KindInfo {
	return lo.Map(kindOrder, func(id string, _ int) KindInfo {
		return KindInfo{ID: id, Description: describe(id)}
	})
}

// IsKind reports whether id names a known target kind.
func IsKind(id string) bool {
	return lo.Contains(kindOrder, id)
}

// Deps are the collaborators targets are built from.
type Deps struct {
	Runner       command.Runner
	SysProxy     sysproxy.Manager
	Environ      Environ
	EnvStore     envstore.Store
	Fs           afero.Fs
	ShellProfile string
}

// Registry builds targets by identifier.
type Registry struct {
	deps Deps
}

// NewRegistry creates a registry. Nil dependencies are filled with the real
// implementations.
func NewRegistry(deps Deps) *Registry {
	if deps.Runner == nil {
		deps.Runner = command.NewExecRunner(command.DefaultTimeout)
	}
	if deps.SysProxy == nil {
		deps.SysProxy = sysproxy.New(deps.Runner, sysproxy.DefaultNotifyTimeout)
	}
	if deps.Environ == nil {
		deps.Environ = OSEnviron{}
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	return &Registry{deps: deps}
}

// New creates a fresh instance of the target with the given id.
func (r *Registry) New(id string) (Target, error) {
	switch id {
	case KindSystem:
		return NewSystem(r.deps.SysProxy), nil
	case KindEnvironment:
		if r.deps.EnvStore == nil {
			return nil, fmt.Errorf("%s: no durable environment store configured", id)
		}
		return NewEnvironment(r.deps.Environ, r.deps.EnvStore), nil
	case KindGit:
		return NewGit(r.deps.Runner), nil
	case KindNPM:
		return NewNPM(r.deps.Runner), nil
	case KindPowerShell:
		return NewPowerShell(r.deps.Runner, r.deps.Fs, r.deps.ShellProfile), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, id)
	}
}

// All creates one instance of every target kind, in display order.
func (r *Registry) All() []Target {
	out := make([]Target, 0, len(kindOrder))
	for _, id := range kindOrder {
		t, err := r.New(id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Available probes every kind and returns the usable ones. Nothing is cached;
// each call probes again.
func (r *Registry) Available(ctx context.Context) *Set {
	logger := logging.FromContext(ctx)
	available := lo.Filter(r.All(), func(t Target, _ int) bool {
		if !t.IsAvailable(ctx) {
			logger.Debug("target unavailable", "target", t.Name())
			return false
		}
		return true
	})
	return NewSet(available...)
}

// Set is an ordered collection of live targets.
type Set struct {
	ids  []string
	byID map[string]Target
}

// NewSet creates a set from targets, keeping their order. A later target
// with the same name replaces an earlier one.
func NewSet(targets ...Target) *Set {
	s := &Set{byID: make(map[string]Target, len(targets))}
	for _, t := range targets {
		if _, dup := s.byID[t.Name()]; !dup {
			s.ids = append(s.ids, t.Name())
		}
		s.byID[t.Name()] = t
	}
	return s
}

// Get returns the target with the given id.
func (s *Set) Get(id string) (Target, bool) {
	t, ok := s.byID[id]
	return t, ok
}

// IDs returns the identifiers in display order.
func (s *Set) IDs() []string {
	return append([]string(nil), s.ids...)
}

// All returns the targets in display order.
func (s *Set) All() []Target {
	return lo.Map(s.ids, func(id string, _ int) Target {
		return s.byID[id]
	})
}

// Len returns the number of targets.
func (s *Set) Len() int {
	return len(s.ids)
}
