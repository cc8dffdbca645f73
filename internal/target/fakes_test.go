package target

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rennerdo30/proxyman/internal/command"
	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/util"
)

// fakeTool is a scripted stand-in for git and npm that keeps their config in memory.
type fakeTool struct {
	mu      sync.Mutex
	git     map[string]string
	npm     map[string]string
	calls   []string
	missing map[string]bool
	failOn  string
}

func newFakeTool() *fakeTool {
	return &fakeTool{
		git:     make(map[string]string),
		npm:     map[string]string{"strict-ssl": "true"},
		missing: make(map[string]bool),
	}
}

func (f *fakeTool) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	if f.missing[name] {
		return command.Result{ExitCode: -1}, fmt.Errorf("%s: %w", name, util.ErrNotFound)
	}
	if f.failOn != "" && strings.Contains(call, f.failOn) {
		return exit(name, args, 128, "fatal: simulated failure")
	}

	switch name {
	case "git":
		return f.runGit(args)
	case "npm":
		return f.runNPM(args)
	}
	return exit(name, args, 127, "unknown command")
}

func (f *fakeTool) runGit(args []string) (command.Result, error) {
	if len(args) == 1 && args[0] == "--version" {
		return command.Result{Stdout: "git version 2.43.0\n"}, nil
	}
	if len(args) < 3 || args[0] != "config" || args[1] != "--global" {
		return exit("git", args, 129, "usage")
	}
	switch args[2] {
	case "--get":
		v, ok := f.git[args[3]]
		if !ok {
			return exit("git", args, 1, "")
		}
		return command.Result{Stdout: v + "\n"}, nil
	case "--unset":
		if _, ok := f.git[args[3]]; !ok {
			return exit("git", args, 5, "")
		}
		delete(f.git, args[3])
		return command.Result{}, nil
	default:
		f.git[args[2]] = args[3]
		return command.Result{}, nil
	}
}

func (f *fakeTool) runNPM(args []string) (command.Result, error) {
	if len(args) == 1 && args[0] == "--version" {
		return command.Result{Stdout: "10.2.4\n"}, nil
	}
	if len(args) < 3 || args[0] != "config" {
		return exit("npm", args, 1, "usage")
	}
	switch args[1] {
	case "get":
		v, ok := f.npm[args[2]]
		if !ok {
			return command.Result{Stdout: "null\n"}, nil
		}
		return command.Result{Stdout: v + "\n"}, nil
	case "set":
		f.npm[args[2]] = args[3]
		return command.Result{}, nil
	case "delete":
		if _, ok := f.npm[args[2]]; !ok {
			return exit("npm", args, 1, "npm ERR! key not set")
		}
		delete(f.npm, args[2])
		return command.Result{}, nil
	}
	return exit("npm", args, 1, "usage")
}

func exit(name string, args []string, code int, stderr string) (command.Result, error) {
	return command.Result{Stderr: stderr, ExitCode: code}, &command.ExitError{Name: name, Args: args, Code: code, Stderr: stderr}
}

func testConfig(t testing.TB, in config.ProxyInput) *config.ProxyConfig {
	t.Helper()
	cfg, err := config.NewProxyConfig(in)
	require.NoError(t, err)
	return cfg
}

func corpConfig(t testing.TB) *config.ProxyConfig {
	t.Helper()
	return testConfig(t, config.ProxyInput{
		HTTPHost: "proxy.corp.com",
		HTTPPort: 8080,
		UseSame:  true,
		NoProxy:  "localhost,127.0.0.1",
	})
}

// memStore is an in-memory durable environment.
type memStore struct {
	vars map[string]string
	err  error
}

func newMemStore() *memStore {
	return &memStore{vars: make(map[string]string)}
}

func (m *memStore) Set(vars map[string]string) error {
	if m.err != nil {
		return m.err
	}
	for k, v := range vars {
		m.vars[k] = v
	}
	return nil
}

func (m *memStore) Delete(names ...string) error {
	if m.err != nil {
		return m.err
	}
	for _, n := range names {
		delete(m.vars, n)
	}
	return nil
}

func (m *memStore) Get(names ...string) (map[string]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string)
	for _, n := range names {
		if v, ok := m.vars[n]; ok {
			out[n] = v
		}
	}
	return out, nil
}

func (m *memStore) Location() string { return "memory" }
