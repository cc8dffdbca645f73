//go:build linux

package sysproxy

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rennerdo30/proxyman/internal/command"
)

const (
	gsettings      = "gsettings"
	proxySchema    = "org.gnome.system.proxy"
	modeManual     = "manual"
	modeNone       = "none"
	ignoreHostsKey = "ignore-hosts"
)

// gnomeManager drives the GNOME proxy schema through gsettings.
type gnomeManager struct {
	runner command.Runner
}

func newPlatformManager(runner command.Runner, _ time.Duration) Manager {
	return &gnomeManager{runner: runner}
}

func (m *gnomeManager) Available(ctx context.Context) bool {
	return command.Available(ctx, m.runner, gsettings, "get", proxySchema, "mode")
}

func (m *gnomeManager) SetProxy(ctx context.Context, s Settings) error {
	servers, err := ParseServer(s.Server)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, scheme := range []string{"http", "https", "ftp"} {
		addr, ok := servers[scheme]
		if !ok {
			continue
		}
		host, port, _ := net.SplitHostPort(addr)
		schema := proxySchema + "." + scheme
		result = multierror.Append(result, m.set(ctx, schema, "host", host))
		result = multierror.Append(result, m.set(ctx, schema, "port", port))
	}
	result = multierror.Append(result, m.set(ctx, proxySchema, ignoreHostsKey, formatStringList(splitOverride(s.Override))))
	if err := result.ErrorOrNil(); err != nil {
		// The mode switch comes last so a failed write never activates partial settings.
		return err
	}

	mode := modeNone
	if s.Enabled {
		mode = modeManual
	}
	return m.set(ctx, proxySchema, "mode", mode)
}

func (m *gnomeManager) ClearProxy(ctx context.Context) error {
	return m.set(ctx, proxySchema, "mode", modeNone)
}

func (m *gnomeManager) GetProxy(ctx context.Context) (*Settings, error) {
	mode, err := m.get(ctx, proxySchema, "mode")
	if err != nil {
		return nil, err
	}
	if unquote(mode) != modeManual {
		return nil, nil
	}

	addrs := make(map[string]string, 3)
	for _, scheme := range []string{"http", "https", "ftp"} {
		schema := proxySchema + "." + scheme
		host, err := m.get(ctx, schema, "host")
		if err != nil {
			return nil, err
		}
		port, err := m.get(ctx, schema, "port")
		if err != nil {
			return nil, err
		}
		if h := unquote(host); h != "" {
			addrs[scheme] = net.JoinHostPort(h, strings.TrimSpace(port))
		}
	}

	ignore, err := m.get(ctx, proxySchema, ignoreHostsKey)
	if err != nil {
		return nil, err
	}

	return &Settings{
		Enabled:  true,
		Server:   joinServers(addrs),
		Override: strings.Join(parseStringList(ignore), ";"),
	}, nil
}

func (m *gnomeManager) set(ctx context.Context, schema, key, value string) error {
	if _, err := m.runner.Run(ctx, gsettings, "set", schema, key, value); err != nil {
		return fmt.Errorf("gsettings set %s %s: %w", schema, key, err)
	}
	return nil
}

func (m *gnomeManager) get(ctx context.Context, schema, key string) (string, error) {
	res, err := m.runner.Run(ctx, gsettings, "get", schema, key)
	if err != nil {
		return "", fmt.Errorf("gsettings get %s %s: %w", schema, key, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func joinServers(addrs map[string]string) string {
	httpAddr := addrs["http"]
	if httpAddr != "" && addrs["https"] == httpAddr && addrs["ftp"] == httpAddr {
		return httpAddr
	}
	var parts []string
	for _, scheme := range []string{"http", "https", "ftp"} {
		if addr, ok := addrs[scheme]; ok {
			parts = append(parts, scheme+"="+addr)
		}
	}
	return strings.Join(parts, ";")
}

func splitOverride(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ";") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// formatStringList renders a GVariant string array, e.g. ['localhost', '::1'].
func formatStringList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = "'" + strings.ReplaceAll(it, "'", `\'`) + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// parseStringList parses gsettings output such as "['a', 'b']" or "@as []".
func parseStringList(s string) []string {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "@as"))
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = unquote(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return strings.ReplaceAll(s, `\'`, "'")
}
