//go:build windows

package sysproxy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/rennerdo30/proxyman/internal/command"
	"github.com/rennerdo30/proxyman/internal/logging"
	"github.com/rennerdo30/proxyman/internal/util"
)

const internetSettingsKey = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

var (
	modwininet            = windows.NewLazySystemDLL("wininet.dll")
	procInternetSetOption = modwininet.NewProc("InternetSetOptionW")
)

const (
	internetOptionSettingsChanged = 39
	internetOptionRefresh         = 37
)

type windowsManager struct {
	notifyTimeout time.Duration
}

func newPlatformManager(_ command.Runner, notifyTimeout time.Duration) Manager {
	return &windowsManager{notifyTimeout: notifyTimeout}
}

func (m *windowsManager) Available(context.Context) bool {
	return true
}

func (m *windowsManager) SetProxy(ctx context.Context, s Settings) error {
	k, err := openKey(registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()

	// Server and override first so a failed write never enables a half-written proxy.
	if err := k.SetStringValue("ProxyServer", s.Server); err != nil {
		return registryError("set ProxyServer", err)
	}
	if err := k.SetStringValue("ProxyOverride", s.Override); err != nil {
		return registryError("set ProxyOverride", err)
	}
	enable := uint32(0)
	if s.Enabled {
		enable = 1
	}
	if err := k.SetDWordValue("ProxyEnable", enable); err != nil {
		return registryError("set ProxyEnable", err)
	}

	m.notify(ctx)
	return nil
}

func (m *windowsManager) ClearProxy(ctx context.Context) error {
	k, err := openKey(registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()

	if err := k.SetDWordValue("ProxyEnable", 0); err != nil {
		return registryError("set ProxyEnable", err)
	}
	if err := k.SetStringValue("ProxyServer", ""); err != nil {
		return registryError("set ProxyServer", err)
	}
	if err := k.SetStringValue("ProxyOverride", ""); err != nil {
		return registryError("set ProxyOverride", err)
	}

	m.notify(ctx)
	return nil
}

func (m *windowsManager) GetProxy(context.Context) (*Settings, error) {
	k, err := openKey(registry.QUERY_VALUE)
	if err != nil {
		return nil, err
	}
	defer k.Close()

	enable, _, err := k.GetIntegerValue("ProxyEnable")
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return nil, registryError("read ProxyEnable", err)
	}
	server, _, err := k.GetStringValue("ProxyServer")
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return nil, registryError("read ProxyServer", err)
	}
	override, _, err := k.GetStringValue("ProxyOverride")
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return nil, registryError("read ProxyOverride", err)
	}

	if enable == 0 && server == "" {
		return nil, nil
	}
	return &Settings{Enabled: enable != 0, Server: server, Override: override}, nil
}

// notify tells WinINet and top-level windows that proxy settings changed.
// The broadcast is bounded; a hung receiver is abandoned.
func (m *windowsManager) notify(ctx context.Context) {
	ok := NotifyBounded(m.notifyTimeout, func() {
		procInternetSetOption.Call(0, internetOptionSettingsChanged, 0, 0) //nolint:errcheck // best effort
		procInternetSetOption.Call(0, internetOptionRefresh, 0, 0)         //nolint:errcheck // best effort
		broadcastSettingChange("Internet Settings", m.notifyTimeout)
	})
	if !ok {
		logging.FromContext(ctx).Debug("settings change notification abandoned", "timeout", m.notifyTimeout)
	}
}

func openKey(access uint32) (registry.Key, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, access)
	if err != nil {
		return 0, registryError("open registry key", err)
	}
	return k, nil
}

func registryError(op string, err error) error {
	if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
		return fmt.Errorf("%s: %w", op, util.ErrPermissionDenied)
	}
	return fmt.Errorf("%s: %w", op, err)
}
