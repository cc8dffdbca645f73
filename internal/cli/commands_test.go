package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rennerdo30/proxyman/internal/command"
	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/envstore"
	"github.com/rennerdo30/proxyman/internal/manager"
	"github.com/rennerdo30/proxyman/internal/profile"
	"github.com/rennerdo30/proxyman/internal/sysproxy"
	"github.com/rennerdo30/proxyman/internal/target"
	"github.com/rennerdo30/proxyman/internal/target/targettest"
	"github.com/rennerdo30/proxyman/internal/util"
)

type fakeSysProxy struct {
	current *sysproxy.Settings
	err     error
}

func (f *fakeSysProxy) Available(context.Context) bool { return true }

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
	return f.current, f.err
}

type harness struct {
	fs       afero.Fs
	sys      *fakeSysProxy
	env      *targettest.MapEnviron
	store    *profile.Store
	settings config.Settings
}

const shellProfile = "/home/u/Documents/PowerShell/profile.ps1"

func newHarness() *harness {
	fs := afero.NewMemMapFs()
	settings := config.DefaultSettings()
	settings.ProfileDir = "/home/u/.proxymanx"
	settings.DefaultNoProxy = []string{"localhost", "127.0.0.1"}
	return &harness{
		fs:       fs,
		sys:      &fakeSysProxy{},
		env:      targettest.NewMapEnviron(nil),
		store:    profile.NewStore(fs, settings.ProfileDir, config.FormatJSON),
		settings: settings,
	}
}

func (h *harness) load(_ *cobra.Command, sink manager.Sink) (*Runtime, error) {
	// git, npm and pwsh are not installed.
	runner := command.RunnerFunc(func(_ context.Context, name string, _ ...string) (command.Result, error) {
		return command.Result{ExitCode: -1}, util.WrapErrorf(util.ErrNotFound, "%s", name)
	})
	registry := target.NewRegistry(target.Deps{
		Runner:       runner,
		SysProxy:     h.sys,
		Environ:      h.env,
		EnvStore:     envstore.NewFileStore(h.fs, filepath.Join(h.settings.ProfileDir, config.EnvFileName)),
		Fs:           h.fs,
		ShellProfile: shellProfile,
	})
	return &Runtime{
		Settings: h.settings,
		Manager:  manager.New(registry, h.store, sink),
	}, nil
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "proxyman", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(NewCommands(h.load)...)

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestSetCommand(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "set", "--http-host", "proxy.corp.com", "--http-port", "8080", "--same")
	require.NoError(t, err)

	assert.Contains(t, out, "[OK] system:")
	assert.Contains(t, out, "[OK] environment:")
	assert.Contains(t, out, "[OK] powershell:")
	assert.Contains(t, out, "Done: 3 target(s) updated")

	assert.Equal(t, "http://proxy.corp.com:8080", h.env.Getenv("HTTP_PROXY"))
	assert.Equal(t, "localhost,127.0.0.1", h.env.Getenv("NO_PROXY"))

	require.NotNil(t, h.sys.current)
	assert.Equal(t, "proxy.corp.com:8080", h.sys.current.Server)

	script, err := afero.ReadFile(h.fs, shellProfile)
	require.NoError(t, err)
	assert.Contains(t, string(script), target.BlockBegin)
}

func TestSetCommand_Targets(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "set", "--http-host", "proxy.corp.com", "--targets", "environment")
	require.NoError(t, err)

	assert.Nil(t, h.sys.current)
	assert.NotEmpty(t, h.env.Getenv("HTTP_PROXY"))
}

func TestSetCommand_InvalidPort(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "set", "--http-host", "proxy.corp.com", "--http-port", "70000")
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrInvalidConfig)
	assert.Nil(t, h.sys.current)
}

func TestSetCommand_RequiresHost(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "set")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http-host")
}

func TestSetCommand_TargetFailure(t *testing.T) {
	h := newHarness()
	h.sys.err = errors.New("registry locked")

	out, err := h.run(t, "set", "--http-host", "proxy.corp.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTargetsFailed)
	assert.Contains(t, out, "[FAIL] system:")
	assert.Contains(t, out, "[OK] environment:")
	assert.Contains(t, out, "1 of 3 target(s) failed")
}

func TestSetCommand_SaveMarksActive(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "set", "--http-host", "proxy.corp.com", "--save", "office")
	require.NoError(t, err)
	assert.Contains(t, out, `Saved profile "office"`)

	active, err := h.store.GetActive()
	require.NoError(t, err)
	assert.Equal(t, "office", active)

	out, err = h.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "* office")
	assert.Contains(t, out, "Currently active: office")
}

func TestUnsetCommand_AllClearsActive(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "set", "--http-host", "proxy.corp.com", "--save", "office")
	require.NoError(t, err)

	out, err := h.run(t, "unset", "all")
	require.NoError(t, err)
	assert.Contains(t, out, "[OK] environment:")

	assert.Empty(t, h.env.Getenv("HTTP_PROXY"))
	assert.Nil(t, h.sys.current)

	active, err := h.store.GetActive()
	require.NoError(t, err)
	assert.Empty(t, active)

	out, err = h.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No active profile detected")
}

func TestUnsetCommand_SubsetKeepsActive(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "set", "--http-host", "proxy.corp.com", "--save", "office")
	require.NoError(t, err)

	_, err = h.run(t, "unset", "system")
	require.NoError(t, err)

	assert.Nil(t, h.sys.current)
	active, err := h.store.GetActive()
	require.NoError(t, err)
	assert.Equal(t, "office", active)
}

func TestListCommand_Empty(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved profiles found")
}

func TestListCommand_DetectsFromEnvironment(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "save", "home", "--http-host", "10.0.0.1", "--http-port", "3128")
	require.NoError(t, err)
	_, err = h.run(t, "save", "office", "--http-host", "proxy.corp.com")
	require.NoError(t, err)
	require.NoError(t, h.env.Setenv("HTTP_PROXY", "http://proxy.corp.com:8080"))

	out, err := h.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "  home")
	assert.Contains(t, out, "* office")
	assert.Contains(t, out, "Currently active: office (detected from environment)")
}

func TestConfigsCommand_Text(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "configs")
	require.NoError(t, err)
	assert.Contains(t, out, "[INACTIVE] environment")
	assert.Contains(t, out, "No proxy settings configured")

	_, err = h.run(t, "set", "--http-host", "proxy.corp.com")
	require.NoError(t, err)

	out, err = h.run(t, "show-configs")
	require.NoError(t, err)
	assert.Contains(t, out, "[ACTIVE] environment")
	assert.Contains(t, out, "  HTTP_PROXY: http://proxy.corp.com:8080")
}

func TestConfigsCommand_YAML(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "set", "--http-host", "proxy.corp.com")
	require.NoError(t, err)

	out, err := h.run(t, "configs", "--output", "yaml")
	require.NoError(t, err)

	var views []configView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.Len(t, views, 3)

	byTarget := make(map[string]configView, len(views))
	for _, v := range views {
		byTarget[v.Target] = v
	}
	env := byTarget["environment"]
	assert.Equal(t, "ACTIVE", env.State)
	assert.Equal(t, "http://proxy.corp.com:8080", env.Settings["HTTP_PROXY"])
}

func TestConfigsCommand_BadOutput(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "configs", "--output", "xml")
	require.Error(t, err)
}

func TestSaveShowDelete(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "save", "office", "--http-host", "proxy.corp.com", "--https-host", "secure.corp.com", "--https-port", "8443")
	require.NoError(t, err)
	assert.Nil(t, h.sys.current, "save must not apply")

	out, err := h.run(t, "show", "office")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile: office")
	assert.Contains(t, out, "HTTP    : proxy.corp.com:8080")
	assert.Contains(t, out, "HTTPS   : secure.corp.com:8443")
	assert.Contains(t, out, "Auth    : no")

	out, err = h.run(t, "delete", "office")
	require.NoError(t, err)
	assert.Contains(t, out, `Deleted profile "office"`)

	_, err = h.run(t, "show", "office")
	require.Error(t, err)
	assert.True(t, util.IsNotFound(err))
}

func TestSaveCommand_PasswordFromEnv(t *testing.T) {
	h := newHarness()
	t.Setenv(PasswordEnv, "s3cret")

	_, err := h.run(t, "save", "office", "--http-host", "proxy.corp.com", "--username", "bob")
	require.NoError(t, err)

	cfg, err := h.store.Load("office")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.UseAuth)
	assert.Equal(t, "bob", cfg.Username)
	assert.Equal(t, "s3cret", cfg.Password)
}

func TestLoadCommand(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "save", "office", "--http-host", "proxy.corp.com")
	require.NoError(t, err)

	out, err := h.run(t, "load", "office", "--targets", "system")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile: office")
	assert.Contains(t, out, "[OK] system:")
	assert.NotContains(t, out, "environment:")

	require.NotNil(t, h.sys.current)
	active, err := h.store.GetActive()
	require.NoError(t, err)
	assert.Equal(t, "office", active)
}

func TestLoadCommand_Missing(t *testing.T) {
	h := newHarness()

	_, err := h.run(t, "load", "nope")
	require.Error(t, err)
	assert.True(t, util.IsNotFound(err))
}

func TestTargetsCommand(t *testing.T) {
	h := newHarness()

	out, err := h.run(t, "targets")
	require.NoError(t, err)
	assert.Regexp(t, `\[OK\]\s+system`, out)
	assert.Regexp(t, `\[OK\]\s+environment`, out)
	assert.Regexp(t, `\[UNAVAILABLE\]\s+git`, out)
	assert.Regexp(t, `\[UNAVAILABLE\]\s+npm`, out)
}

func TestTargetsHelp(t *testing.T) {
	help := TargetsHelp()
	for _, k := range target.Kinds() {
		assert.Contains(t, help, k.ID)
	}
}
