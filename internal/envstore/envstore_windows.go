//go:build windows

package envstore

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/rennerdo30/proxyman/internal/sysproxy"
	"github.com/rennerdo30/proxyman/internal/util"
)

const environmentKey = "Environment"

// RegistryStore keeps variables under HKCU\Environment.
type RegistryStore struct {
	notifyTimeout time.Duration
}

func newPlatformStore(_ string, notifyTimeout time.Duration) Store {
	return &RegistryStore{notifyTimeout: notifyTimeout}
}

// Location implements Store.
func (s *RegistryStore) Location() string {
	return `HKCU\` + environmentKey
}

// Set implements Store.
func (s *RegistryStore) Set(vars map[string]string) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, environmentKey, registry.SET_VALUE)
	if err != nil {
		return regError("open environment key", err)
	}
	defer k.Close()

	for name, value := range vars {
		if err := k.SetStringValue(name, value); err != nil {
			return regError("set "+name, err)
		}
	}
	sysproxy.NotifyEnvironmentChange(s.notifyTimeout)
	return nil
}

// Delete implements Store.
func (s *RegistryStore) Delete(names ...string) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, environmentKey, registry.SET_VALUE)
	if err != nil {
		return regError("open environment key", err)
	}
	defer k.Close()

	for _, name := range names {
		if err := k.DeleteValue(name); err != nil && !errors.Is(err, registry.ErrNotExist) {
			return regError("delete "+name, err)
		}
	}
	sysproxy.NotifyEnvironmentChange(s.notifyTimeout)
	return nil
}

// Get implements Store.
func (s *RegistryStore) Get(names ...string) (map[string]string, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, environmentKey, registry.QUERY_VALUE)
	if err != nil {
		return nil, regError("open environment key", err)
	}
	defer k.Close()

	out := make(map[string]string, len(names))
	for _, name := range names {
		v, _, err := k.GetStringValue(name)
		if err != nil {
			if errors.Is(err, registry.ErrNotExist) {
				continue
			}
			return nil, regError("read "+name, err)
		}
		out[name] = v
	}
	return out, nil
}

func regError(op string, err error) error {
	if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
		return fmt.Errorf("%s: %w", op, util.ErrPermissionDenied)
	}
	return fmt.Errorf("%s: %w", op, err)
}
