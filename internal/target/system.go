package target

import (
	"context"
	"errors"
	"runtime"

	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/logging"
	"github.com/rennerdo30/proxyman/internal/sysproxy"
)

// System manages the operating system's network proxy settings.
type System struct {
	manager sysproxy.Manager
}

// NewSystem creates a System target backed by manager.
func NewSystem(manager sysproxy.Manager) *System {
	return &System{manager: manager}
}

// Name implements Target.
func (t *System) Name() string { return KindSystem }

// Description implements Target.
func (t *System) Description() string { return describe(KindSystem) }

// IsAvailable implements Target.
func (t *System) IsAvailable(ctx context.Context) bool {
	return t.manager.Available(ctx)
}

// SetProxy implements Target.
func (t *System) SetProxy(ctx context.Context, cfg *config.ProxyConfig) error {
	s := sysproxy.FromConfig(cfg)
	logging.FromContext(ctx).Debug("setting system proxy", "target", KindSystem, "op", "set", "server", s.Server)
	if err := t.manager.SetProxy(ctx, s); err != nil {
		return t.wrap("set", err)
	}
	return nil
}

// UnsetProxy implements Target.
func (t *System) UnsetProxy(ctx context.Context) error {
	logging.FromContext(ctx).Debug("clearing system proxy", "target", KindSystem, "op", "unset")
	if err := t.manager.ClearProxy(ctx); err != nil {
		return t.wrap("unset", err)
	}
	return nil
}

// ListProxy implements Target.
func (t *System) ListProxy(ctx context.Context) (Settings, error) {
	s, err := t.manager.GetProxy(ctx)
	if err != nil {
		return nil, t.wrap("list", err)
	}
	if s == nil {
		return nil, nil
	}
	status := "Disabled"
	if s.Enabled {
		status = "Enabled"
	}
	return Settings{}.
		add("status", status).
		add("server", s.Server).
		add("override", s.Override), nil
}

func (t *System) wrap(op string, err error) error {
	if errors.Is(err, sysproxy.ErrMalformedServer) {
		return NewError(KindSystem, op, errors.Join(ErrReadParse, err))
	}
	return Invocation(KindSystem, op, err)
}

func systemDescription() string {
	switch runtime.GOOS {
	case "windows":
		return "Windows system proxy settings (Registry)"
	case "linux":
		return "Desktop proxy settings (GNOME gsettings)"
	}
	return "Operating system proxy settings"
}
