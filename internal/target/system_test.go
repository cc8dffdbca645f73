package target

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/sysproxy"
	"github.com/rennerdo30/proxyman/internal/util"
)

type fakeSysProxy struct {
	available bool
	current   *sysproxy.Settings
	err       error
}

func (f *fakeSysProxy) Available(context.Context) bool { return f.available }

func (f *fakeSysProxy) SetProxy(_ context.Context, s sysproxy.Settings) error {
	if f.err != nil {
		return f.err
	}
	f.current = &s
	return nil
}

func (f *fakeSysProxy) ClearProxy(context.Context) error {
	if f.err != nil {
		return f.err
	}
	f.current = nil
	return nil
}

func (f *fakeSysProxy) GetProxy(context.Context) (*sysproxy.Settings, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.current, nil
}

func TestSystem_SetThenList(t *testing.T) {
	ctx := context.Background()
	mgr := &fakeSysProxy{available: true}
	tgt := NewSystem(mgr)

	require.True(t, tgt.IsAvailable(ctx))
	require.NoError(t, tgt.SetProxy(ctx, corpConfig(t)))

	got, err := tgt.ListProxy(ctx)
	require.NoError(t, err)
	assert.Equal(t, Settings{
		{Key: "status", Value: "Enabled"},
		{Key: "server", Value: "proxy.corp.com:8080"},
		{Key: "override", Value: "localhost;127.0.0.1"},
	}, got)
}

func TestSystem_PerProtocolServer(t *testing.T) {
	ctx := context.Background()
	mgr := &fakeSysProxy{available: true}
	tgt := NewSystem(mgr)

	cfg := testConfig(t, config.ProxyInput{
		HTTPHost:  "proxy.corp.com",
		HTTPPort:  8080,
		HTTPSHost: "secure.corp.com",
		HTTPSPort: 8443,
	})
	require.NoError(t, tgt.SetProxy(ctx, cfg))
	assert.Equal(t, "http=proxy.corp.com:8080;https=secure.corp.com:8443;ftp=proxy.corp.com:8080", mgr.current.Server)
}

func TestSystem_UnsetIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tgt := NewSystem(&fakeSysProxy{available: true})

	require.NoError(t, tgt.UnsetProxy(ctx))
	require.NoError(t, tgt.UnsetProxy(ctx))
	got, err := tgt.ListProxy(ctx)
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestSystem_PermissionDenied(t *testing.T) {
	ctx := context.Background()
	tgt := NewSystem(&fakeSysProxy{available: true, err: util.WrapError(util.ErrPermissionDenied, "set ProxyServer")})

	err := tgt.SetProxy(ctx, corpConfig(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	assert.False(t, errors.Is(err, ErrBackendInvocation))
	assert.Contains(t, Guidance(err), "elevated")
}

func TestSystem_MalformedIsReadParse(t *testing.T) {
	tgt := NewSystem(&fakeSysProxy{available: true, err: sysproxy.ErrMalformedServer})
	_, err := tgt.ListProxy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadParse))
}
