//go:build !windows && !linux

package sysproxy

import (
	"context"
	"time"

	"github.com/rennerdo30/proxyman/internal/command"
)

type unsupportedManager struct{}

func newPlatformManager(command.Runner, time.Duration) Manager {
	return unsupportedManager{}
}

func (unsupportedManager) Available(context.Context) bool { return false }

func (unsupportedManager) SetProxy(context.Context, Settings) error { return ErrNotSupported }

func (unsupportedManager) ClearProxy(context.Context) error { return ErrNotSupported }

func (unsupportedManager) GetProxy(context.Context) (*Settings, error) { return nil, ErrNotSupported }
