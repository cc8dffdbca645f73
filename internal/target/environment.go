package target

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/envstore"
	"github.com/rennerdo30/proxyman/internal/logging"
)

// Environment variable names written by the Environment target.
const (
	EnvHTTPProxy  = "HTTP_PROXY"
	EnvHTTPSProxy = "HTTPS_PROXY"
	EnvNoProxy    = "NO_PROXY"
)

var (
	reportedEnvVars = []string{EnvHTTPProxy, EnvHTTPSProxy, EnvNoProxy}
	managedEnvVars  = []string{EnvHTTPProxy, EnvHTTPSProxy, "http_proxy", "https_proxy", EnvNoProxy, "no_proxy"}
)

// Environment writes the conventional proxy variables into the current process
// and into the durable user environment.
type Environment struct {
	env     Environ
	durable envstore.Store
}

// NewEnvironment creates an Environment target.
func NewEnvironment(env Environ, durable envstore.Store) *Environment {
	return &Environment{env: env, durable: durable}
}

// Name implements Target.
func (t *Environment) Name() string { return KindEnvironment }

// Description implements Target.
func (t *Environment) Description() string { return describe(KindEnvironment) }

// IsAvailable implements Target.
func (t *Environment) IsAvailable(context.Context) bool { return true }

// Variables returns the variables SetProxy writes for cfg. An empty value
// means the variable is removed.
func Variables(cfg *config.ProxyConfig) map[string]string {
	httpURL := cfg.HTTPProxyURL()
	httpsURL := cfg.HTTPSProxyURL()
	noProxy := cfg.NoProxyString()
	return map[string]string{
		EnvHTTPProxy:  httpURL,
		"http_proxy":  httpURL,
		EnvHTTPSProxy: httpsURL,
		"https_proxy": httpsURL,
		EnvNoProxy:    noProxy,
		"no_proxy":    noProxy,
	}
}

// SetProxy implements Target.
func (t *Environment) SetProxy(ctx context.Context, cfg *config.ProxyConfig) error {
	logger := logging.FromContext(ctx).With("target", KindEnvironment, "op", "set")
	vars := Variables(cfg)

	set := make(map[string]string, len(vars))
	var unset []string
	var result *multierror.Error
	for _, name := range managedEnvVars {
		value := vars[name]
		if value == "" {
			unset = append(unset, name)
			result = multierror.Append(result, t.env.Unsetenv(name))
			continue
		}
		set[name] = value
		result = multierror.Append(result, t.env.Setenv(name, value))
	}
	if err := result.ErrorOrNil(); err != nil {
		return Invocation(KindEnvironment, "set", err)
	}

	if err := t.persist(set, unset); err != nil {
		logger.Warn("durable environment not updated", "location", t.durable.Location(), "error", err)
		return &Warning{
			Target:  KindEnvironment,
			Message: "variables set for the current session only",
			Err:     err,
		}
	}
	logger.Debug("environment variables written", "location", t.durable.Location())
	return nil
}

func (t *Environment) persist(set map[string]string, unset []string) error {
	if len(unset) > 0 {
		if err := t.durable.Delete(unset...); err != nil {
			return err
		}
	}
	return t.durable.Set(set)
}

// UnsetProxy implements Target.
func (t *Environment) UnsetProxy(ctx context.Context) error {
	logger := logging.FromContext(ctx).With("target", KindEnvironment, "op", "unset")

	var result *multierror.Error
	for _, name := range managedEnvVars {
		result = multierror.Append(result, t.env.Unsetenv(name))
	}
	if err := result.ErrorOrNil(); err != nil {
		return Invocation(KindEnvironment, "unset", err)
	}

	if err := t.durable.Delete(managedEnvVars...); err != nil {
		logger.Warn("durable environment not updated", "location", t.durable.Location(), "error", err)
		return &Warning{
			Target:  KindEnvironment,
			Message: "variables cleared for the current session only",
			Err:     err,
		}
	}
	return nil
}

// ListProxy implements Target. Process values win; the durable store fills
// in variables the current session has not picked up yet.
func (t *Environment) ListProxy(ctx context.Context) (Settings, error) {
	values := make(map[string]string, len(reportedEnvVars))
	complete := true
	for _, name := range reportedEnvVars {
		v := firstNonEmpty(t.env.Getenv(name), t.env.Getenv(strings.ToLower(name)))
		if v == "" {
			complete = false
			continue
		}
		values[name] = v
	}

	if !complete {
		stored, err := t.durable.Get(managedEnvVars...)
		if err != nil {
			if len(values) == 0 {
				return nil, Invocation(KindEnvironment, "list", fmt.Errorf("read %s: %w", t.durable.Location(), err))
			}
			logging.FromContext(ctx).Debug("durable environment unreadable", "target", KindEnvironment, "error", err)
		}
		for _, name := range reportedEnvVars {
			if values[name] == "" {
				values[name] = firstNonEmpty(stored[name], stored[strings.ToLower(name)])
			}
		}
	}

	var out Settings
	for _, name := range reportedEnvVars {
		out = out.add(name, values[name])
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
