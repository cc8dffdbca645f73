package target

import (
	"context"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/rennerdo30/proxyman/internal/command"
	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/logging"
)

const gitBinary = "git"

// git config exit codes.
const (
	gitExitKeyMissing  = 1 // --get: key not set
	gitExitNothingToDo = 5 // --unset: key not set
)

var gitKeys = []string{"http.proxy", "https.proxy"}

// Git manages http.proxy and https.proxy in the global git config.
type Git struct {
	runner command.Runner
}

// NewGit creates a Git target.
func NewGit(runner command.Runner) *Git {
	return &Git{runner: runner}
}

// Name implements Target.
func (t *Git) Name() string { return KindGit }

// Description implements Target.
func (t *Git) Description() string { return describe(KindGit) }

// IsAvailable implements Target.
func (t *Git) IsAvailable(ctx context.Context) bool {
	return command.Available(ctx, t.runner, gitBinary, "--version")
}

// SetProxy implements Target. When the second write fails the keys are put
// back to the values read before the call.
func (t *Git) SetProxy(ctx context.Context, cfg *config.ProxyConfig) error {
	logger := logging.FromContext(ctx).With("target", KindGit, "op", "set")

	previous, err := t.read(ctx)
	if err != nil {
		return Invocation(KindGit, "set", err)
	}

	values := map[string]string{
		"http.proxy":  cfg.HTTPProxyURL(),
		"https.proxy": cfg.HTTPSProxyURL(),
	}
	for _, key := range gitKeys {
		if _, err := t.runner.Run(ctx, gitBinary, "config", "--global", key, values[key]); err != nil {
			if rerr := t.restore(ctx, previous); rerr != nil {
				logger.Warn("restoring previous git proxy failed", "error", rerr)
			}
			return Invocation(KindGit, "set "+key, err)
		}
	}
	return nil
}

func (t *Git) restore(ctx context.Context, previous map[string]string) error {
	var result *multierror.Error
	for _, key := range gitKeys {
		if v, ok := previous[key]; ok {
			_, err := t.runner.Run(ctx, gitBinary, "config", "--global", key, v)
			result = multierror.Append(result, err)
			continue
		}
		result = multierror.Append(result, t.unsetKey(ctx, key))
	}
	return result.ErrorOrNil()
}

// UnsetProxy implements Target.
func (t *Git) UnsetProxy(ctx context.Context) error {
	var result *multierror.Error
	for _, key := range gitKeys {
		result = multierror.Append(result, t.unsetKey(ctx, key))
	}
	if err := result.ErrorOrNil(); err != nil {
		return Invocation(KindGit, "unset", err)
	}
	return nil
}

func (t *Git) unsetKey(ctx context.Context, key string) error {
	_, err := t.runner.Run(ctx, gitBinary, "config", "--global", "--unset", key)
	if err != nil && command.ExitCode(err) == gitExitNothingToDo {
		logging.FromContext(ctx).Debug("git key already absent", "target", KindGit, "key", key)
		return nil
	}
	return err
}

// ListProxy implements Target.
func (t *Git) ListProxy(ctx context.Context) (Settings, error) {
	values, err := t.read(ctx)
	if err != nil {
		return nil, Invocation(KindGit, "list", err)
	}
	var out Settings
	for _, key := range gitKeys {
		out = out.add(key, values[key])
	}
	return out, nil
}

func (t *Git) read(ctx context.Context) (map[string]string, error) {
	values := make(map[string]string, len(gitKeys))
	for _, key := range gitKeys {
		res, err := t.runner.Run(ctx, gitBinary, "config", "--global", "--get", key)
		if err != nil {
			if command.ExitCode(err) == gitExitKeyMissing {
				continue
			}
			return nil, err
		}
		if v := strings.TrimSpace(res.Stdout); v != "" {
			values[key] = v
		}
	}
	return values, nil
}
