package target

import (
	"context"
	"errors"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/rennerdo30/proxyman/internal/command"
	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/logging"
)

const npmBinary = "npm"

const (
	npmProxy      = "proxy"
	npmHTTPSProxy = "https-proxy"
	npmStrictSSL  = "strict-ssl"
)

// npmKeys is the write order used by SetProxy.
var npmKeys = []string{npmProxy, npmHTTPSProxy, npmStrictSSL}

// NPM manages proxy, https-proxy and strict-ssl in the user npm config.
type NPM struct {
	runner command.Runner
}

// NewNPM creates an NPM target.
func NewNPM(runner command.Runner) *NPM {
	return &NPM{runner: runner}
}

// Name implements Target.
func (t *NPM) Name() string { return KindNPM }

// Description implements Target.
func (t *NPM) Description() string { return describe(KindNPM) }

// IsAvailable implements Target.
func (t *NPM) IsAvailable(ctx context.Context) bool {
	return command.Available(ctx, t.runner, npmBinary, "--version")
}

// SetProxy implements Target. All three writes must succeed. strict-ssl is
// only relaxed after both proxy keys are written; on the first failed write
// every key touched so far is put back to the value read before the call.
func (t *NPM) SetProxy(ctx context.Context, cfg *config.ProxyConfig) error {
	logger := logging.FromContext(ctx).With("target", KindNPM, "op", "set")

	previous := make(map[string]string, len(npmKeys))
	for _, key := range npmKeys {
		v, err := t.get(ctx, key)
		if err != nil {
			return Invocation(KindNPM, "set", err)
		}
		previous[key] = v
	}

	values := map[string]string{
		npmProxy:      cfg.HTTPProxyURL(),
		npmHTTPSProxy: cfg.HTTPSProxyURL(),
		npmStrictSSL:  "false",
	}
	for i, key := range npmKeys {
		if _, err := t.runner.Run(ctx, npmBinary, "config", "set", key, values[key]); err != nil {
			if rerr := t.restore(ctx, npmKeys[:i+1], previous); rerr != nil {
				logger.Warn("restoring previous npm config failed", "error", rerr)
			}
			return Invocation(KindNPM, "set "+key, err)
		}
	}
	return nil
}

// restore writes back the previous values of keys, deleting the ones that
// were not set.
func (t *NPM) restore(ctx context.Context, keys []string, previous map[string]string) error {
	var result *multierror.Error
	for _, key := range keys {
		if v := previous[key]; v != "" {
			_, err := t.runner.Run(ctx, npmBinary, "config", "set", key, v)
			result = multierror.Append(result, err)
			continue
		}
		_, err := t.runner.Run(ctx, npmBinary, "config", "delete", key)
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) {
			continue
		}
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// UnsetProxy implements Target. npm exits nonzero when deleting a key that
// is not set, so nonzero exits are tolerated; timeouts and a missing binary
// are not.
func (t *NPM) UnsetProxy(ctx context.Context) error {
	logger := logging.FromContext(ctx).With("target", KindNPM, "op", "unset")
	steps := [][]string{
		{"config", "delete", npmProxy},
		{"config", "delete", npmHTTPSProxy},
		{"config", "set", npmStrictSSL, "true"},
	}
	var result *multierror.Error
	for _, args := range steps {
		_, err := t.runner.Run(ctx, npmBinary, args...)
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) {
			logger.Debug("npm exited nonzero, treating as already absent", "args", args, "exit_code", exitErr.Code)
			continue
		}
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return Invocation(KindNPM, "unset", err)
	}
	return nil
}

// ListProxy implements Target. strict-ssl is only reported next to a
// configured proxy since npm always has a value for it.
func (t *NPM) ListProxy(ctx context.Context) (Settings, error) {
	var out Settings
	for _, key := range []string{npmProxy, npmHTTPSProxy} {
		v, err := t.get(ctx, key)
		if err != nil {
			return nil, Invocation(KindNPM, "list", err)
		}
		out = out.add(key, v)
	}
	if out.Empty() {
		return nil, nil
	}
	strict, err := t.get(ctx, npmStrictSSL)
	if err != nil {
		return nil, Invocation(KindNPM, "list", err)
	}
	return out.add(npmStrictSSL, strict), nil
}

func (t *NPM) get(ctx context.Context, key string) (string, error) {
	res, err := t.runner.Run(ctx, npmBinary, "config", "get", key)
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(res.Stdout)
	if v == "null" || v == "undefined" {
		return "", nil
	}
	return v, nil
}
