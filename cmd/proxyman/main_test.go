package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/proxyman/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	initOutput, initForce, logLevel = "", false, ""

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "proxyman")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Settings written to")

	settings, err := config.LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, config.FormatJSON, settings.ProfileFormat)
	assert.Contains(t, settings.DefaultNoProxy, "localhost")
}

func TestConfigInit_NoOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile_format: ini\n"), 0600))

	_, err := execute(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSettingsTemplate, string(data))
}

func TestConfigShow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profile_dir: "+filepath.ToSlash(dir)+"\nprofile_format: ini\n"), 0600))

	out, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "profile_format: ini")
	assert.Contains(t, out, "command_timeout: 30s")
}
