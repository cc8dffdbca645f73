// Package manager applies and clears proxy settings across targets and drives
// the profile workflows.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/logging"
	"github.com/rennerdo30/proxyman/internal/profile"
	"github.com/rennerdo30/proxyman/internal/target"
	"github.com/rennerdo30/proxyman/internal/util"
)

// AllTargets selects every available target.
const AllTargets = "all"

// defaultDetectPort is assumed when the live proxy URL carries no port.
const defaultDetectPort = 8080

// Registry creates targets.
type Registry interface {
	New(id string) (target.Target, error)
	All() []target.Target
	Available(ctx context.Context) *target.Set
}

// Manager orchestrates targets and profiles. It keeps no state between calls.
type Manager struct {
	registry Registry
	store    *profile.Store
	sink     Sink
	logger   *slog.Logger
}

// New creates a Manager. A nil sink discards status messages.
func New(registry Registry, store *profile.Store, sink Sink) *Manager {
	if sink == nil {
		sink = NopSink
	}
	return &Manager{
		registry: registry,
		store:    store,
		sink:     sink,
		logger:   logging.WithComponent("manager"),
	}
}

// TargetInfo describes a target kind and whether it can be used here.
type TargetInfo struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
	Available   bool   `yaml:"available" json:"available"`
}

// TargetState is the live configuration of one target.
type TargetState struct {
	Target      string          `yaml:"target" json:"target"`
	Description string          `yaml:"description" json:"description"`
	Settings    target.Settings `yaml:"settings,omitempty" json:"settings,omitempty"`
	Err         error           `yaml:"-" json:"-"`
}

// State returns ACTIVE, INACTIVE or ERROR.
func (s TargetState) State() string {
	switch {
	case s.Err != nil:
		return "ERROR"
	case s.Settings.Empty():
		return "INACTIVE"
	default:
		return "ACTIVE"
	}
}

// Targets lists every target kind with its availability.
func (m *Manager) Targets(ctx context.Context) []TargetInfo {
	available := m.registry.Available(ctx)
	return lo.Map(target.Kinds(), func(k target.KindInfo, _ int) TargetInfo {
		_, ok := available.Get(k.ID)
		return TargetInfo{ID: k.ID, Description: k.Description, Available: ok}
	})
}

// ResolveIDs turns command arguments into target ids. No arguments or "all"
// selects every available target. Explicit ids are kept, unknown ones
// included, so the batch can report them.
func (m *Manager) ResolveIDs(ctx context.Context, args []string) ([]string, error) {
	ids := lo.Uniq(lo.Compact(lo.Map(args, func(a string, _ int) string {
		return strings.ToLower(strings.TrimSpace(a))
	})))
	if len(ids) == 0 || lo.Contains(ids, AllTargets) {
		ids = m.registry.Available(ctx).IDs()
		if len(ids) == 0 {
			return nil, fmt.Errorf("%w: no targets are available on this machine", target.ErrUnavailable)
		}
	}
	return ids, nil
}

// Apply writes cfg to each target in ids. cfg is validated before any
// target is touched; after that every target is attempted regardless of
// earlier failures.
func (m *Manager) Apply(ctx context.Context, cfg *config.ProxyConfig, ids []string) (Report, error) {
	if cfg == nil {
		return Report{}, fmt.Errorf("%w: no proxy configuration", util.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}
	m.logger.Debug("applying proxy", "targets", ids, "proxy", cfg.Address())
	return m.run(ctx, ids, "set", "proxy configured", func(t target.Target) error {
		return t.SetProxy(ctx, cfg)
	}), nil
}

// Unset clears the proxy on each target in ids with the same
// continue-on-failure behavior as Apply.
func (m *Manager) Unset(ctx context.Context, ids []string) Report {
	m.logger.Debug("clearing proxy", "targets", ids)
	return m.run(ctx, ids, "unset", "proxy cleared", func(t target.Target) error {
		return t.UnsetProxy(ctx)
	})
}

func (m *Manager) run(ctx context.Context, ids []string, op, okMessage string, fn func(target.Target) error) Report {
	available := m.registry.Available(ctx)
	report := Report{Outcomes: make([]Outcome, 0, len(ids))}

	for _, id := range ids {
		t, err := m.lookup(available, id)
		if err != nil {
			report.Outcomes = append(report.Outcomes, m.skip(id, err))
			continue
		}

		err = invoke(id, op, func() error { return fn(t) })
		report.Outcomes = append(report.Outcomes, m.outcome(id, okMessage, err))
	}
	return report
}

func (m *Manager) lookup(available *target.Set, id string) (target.Target, error) {
	if !target.IsKind(id) {
		return nil, fmt.Errorf("%w %q", target.ErrUnknownTarget, id)
	}
	t, ok := available.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", target.ErrUnavailable, id)
	}
	return t, nil
}

func (m *Manager) skip(id string, err error) Outcome {
	msg := "skipped: " + err.Error()
	m.sink.Status(Status{Level: LevelWarn, Target: id, Message: msg})
	return Outcome{Target: id, Message: msg, Err: err}
}

func (m *Manager) outcome(id, okMessage string, err error) Outcome {
	if err == nil {
		m.sink.Status(Status{Level: LevelOK, Target: id, Message: okMessage})
		return Outcome{Target: id, Success: true, Message: okMessage}
	}

	if w, ok := target.AsWarning(err); ok {
		msg := w.Message
		if w.Err != nil {
			msg = fmt.Sprintf("%s (%v)", msg, w.Err)
		}
		m.sink.Status(Status{Level: LevelWarn, Target: id, Message: msg})
		return Outcome{Target: id, Success: true, Warning: true, Message: msg, Err: err}
	}

	msg := err.Error()
	if hint := target.Guidance(err); hint != "" {
		msg += "; " + hint
	}
	m.logger.Debug("target failed", "target", id, "error", err)
	m.sink.Status(Status{Level: LevelFail, Target: id, Message: msg})
	return Outcome{Target: id, Message: msg, Err: err}
}

// invoke runs fn and turns a panic into an error.
func invoke(id, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = target.NewError(id, op, fmt.Errorf("%w: panic: %v", target.ErrBackendInvocation, r))
		}
	}()
	return fn()
}

// CurrentConfigs reads the live configuration of every available target.
// A target that cannot be read is reported with its error; the others are
// still read.
func (m *Manager) CurrentConfigs(ctx context.Context) []TargetState {
	targets := m.registry.Available(ctx).All()
	states := make([]TargetState, 0, len(targets))
	for _, t := range targets {
		state := TargetState{Target: t.Name(), Description: t.Description()}
		err := invoke(t.Name(), "list", func() error {
			settings, err := t.ListProxy(ctx)
			state.Settings = settings
			return err
		})
		if err != nil {
			state.Settings = nil
			state.Err = err
		}
		states = append(states, state)
	}
	return states
}

// DetectActiveProfile guesses which saved profile is live by comparing the
// HTTP_PROXY value seen by the environment target with each profile's http
// host and port, both compared exactly. It only looks at the environment target and is a hint,
// not ground truth. It returns "" when nothing matches.
func (m *Manager) DetectActiveProfile(ctx context.Context) (string, error) {
	env, err := m.registry.New(target.KindEnvironment)
	if err != nil {
		return "", err
	}
	settings, err := env.ListProxy(ctx)
	if err != nil {
		return "", err
	}
	live, ok := settings.Get(target.EnvHTTPProxy)
	if !ok {
		return "", nil
	}
	host, port, ok := parseProxyEndpoint(live)
	if !ok {
		m.logger.Debug("live proxy value not understood", "value", live)
		return "", nil
	}

	names, err := m.store.List()
	if err != nil {
		return "", err
	}
	for _, name := range names {
		cfg, err := m.store.Load(name)
		if err != nil {
			m.logger.Debug("skipping unreadable profile", "profile", name, "error", err)
			continue
		}
		if cfg != nil && cfg.HTTPHost == host && int(cfg.HTTPPort) == port {
			return name, nil
		}
	}
	return "", nil
}

func parseProxyEndpoint(raw string) (string, int, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", 0, false
	}
	if u.Port() == "" {
		return u.Hostname(), defaultDetectPort, true
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return "", 0, false
	}
	return u.Hostname(), port, true
}

// ActiveProfile returns the active profile from the marker, falling back to
// DetectActiveProfile. detected reports that the name came from the heuristic.
func (m *Manager) ActiveProfile(ctx context.Context) (name string, detected bool, err error) {
	name, err = m.store.GetActive()
	if err != nil {
		m.logger.Debug("active marker unreadable", "error", err)
	}
	if name != "" {
		return name, false, nil
	}
	name, err = m.DetectActiveProfile(ctx)
	return name, name != "", err
}

// LoadProfile applies the named profile to ids. The profile becomes the
// active one when at least one target accepted it.
func (m *Manager) LoadProfile(ctx context.Context, name string, ids []string) (*config.ProxyConfig, Report, error) {
	cfg, err := m.store.Load(name)
	if err != nil {
		return nil, Report{}, err
	}
	if cfg == nil {
		return nil, Report{}, fmt.Errorf("profile %q: %w", name, util.ErrNotFound)
	}

	report, err := m.Apply(ctx, cfg, ids)
	if err != nil {
		return cfg, report, err
	}
	if report.Succeeded() > 0 {
		if err := m.store.SetActive(name); err != nil {
			m.sink.Status(Status{Level: LevelWarn, Message: "could not record active profile: " + err.Error()})
		}
	}
	return cfg, report, nil
}

// SaveProfile stores cfg under name.
func (m *Manager) SaveProfile(name string, cfg *config.ProxyConfig) error {
	return m.store.Save(name, cfg)
}

// GetProfile returns the named profile, or an error wrapping util.ErrNotFound.
func (m *Manager) GetProfile(name string) (*config.ProxyConfig, error) {
	cfg, err := m.store.Load(name)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("profile %q: %w", name, util.ErrNotFound)
	}
	return cfg, nil
}

// ListProfiles returns the saved profile names in sorted order.
func (m *Manager) ListProfiles() ([]string, error) {
	return m.store.List()
}

// ClearActive forgets the active profile.
func (m *Manager) ClearActive() error {
	return m.store.ClearActive()
}

// DeleteProfile removes the named profile.
func (m *Manager) DeleteProfile(name string) error {
	return m.store.Delete(name)
}
