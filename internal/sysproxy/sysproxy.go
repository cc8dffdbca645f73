// Package sysproxy reads and writes the operating system's network proxy settings.
package sysproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rennerdo30/proxyman/internal/command"
	"github.com/rennerdo30/proxyman/internal/config"
)

// DefaultNotifyTimeout bounds the settings-changed broadcast.
const DefaultNotifyTimeout = 2 * time.Second

// ErrNotSupported is returned when the platform does not support system proxy configuration.
var ErrNotSupported = errors.New("system proxy configuration not supported on this platform")

// ErrMalformedServer is returned when a stored proxy server string cannot be parsed.
var ErrMalformedServer = errors.New("malformed proxy server string")

// Settings is the OS-level proxy state.
type Settings struct {
	// Enabled is the master switch.
	Enabled bool
	// Server is "host:port", or "http=h:p;https=h:p;ftp=h:p" when protocols differ.
	Server string
	// Override is the ';' separated bypass list.
	Override string
}

// Manager allows managing system proxy settings.
type Manager interface {
	// Available reports whether this platform's settings store can be used.
	Available(ctx context.Context) bool
	// SetProxy writes and enables the given settings.
	SetProxy(ctx context.Context, s Settings) error
	// ClearProxy disables the system proxy. Clearing an unset proxy succeeds.
	ClearProxy(ctx context.Context) error
	// GetProxy returns the current settings, or nil when no proxy is configured.
	GetProxy(ctx context.Context) (*Settings, error)
}

// New returns a system proxy manager for the current platform.
// runner is used by platforms that drive a settings tool; notifyTimeout
// bounds the settings-changed broadcast where one exists.
func New(runner command.Runner, notifyTimeout time.Duration) Manager {
	return newPlatformManager(runner, notifyTimeout)
}

// FromConfig builds the OS settings for a proxy configuration.
func FromConfig(cfg *config.ProxyConfig) Settings {
	return Settings{
		Enabled:  true,
		Server:   ServerString(cfg),
		Override: strings.Join(cfg.NoProxy, ";"),
	}
}

// ServerString renders host:port when every protocol uses the same endpoint,
// otherwise the per-protocol form.
func ServerString(cfg *config.ProxyConfig) string {
	httpAddr := cfg.Address()
	httpsAddr := endpoint(cfg.HTTPSHost, cfg.HTTPSPort, httpAddr)
	ftpAddr := endpoint(cfg.FTPHost, cfg.FTPPort, httpAddr)
	if httpsAddr == httpAddr && ftpAddr == httpAddr {
		return httpAddr
	}
	return fmt.Sprintf("http=%s;https=%s;ftp=%s", httpAddr, httpsAddr, ftpAddr)
}

func endpoint(host string, port uint16, fallback string) string {
	if host == "" {
		return fallback
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

// ParseServer splits a server string into per-protocol host:port values.
// A bare host:port applies to http, https and ftp.
func ParseServer(server string) (map[string]string, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedServer)
	}

	out := make(map[string]string)
	if !strings.Contains(server, "=") {
		if err := checkHostPort(server); err != nil {
			return nil, err
		}
		for _, scheme := range []string{"http", "https", "ftp"} {
			out[scheme] = server
		}
		return out, nil
	}

	for _, part := range strings.Split(server, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		scheme, addr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMalformedServer, part)
		}
		addr = strings.TrimSpace(addr)
		if err := checkHostPort(addr); err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(scheme))] = addr
	}
	return out, nil
}

func checkHostPort(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return fmt.Errorf("%w: %q", ErrMalformedServer, addr)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%w: bad port in %q", ErrMalformedServer, addr)
	}
	return nil
}

// NotifyBounded runs fn on its own goroutine and waits at most timeout for it.
// It reports whether fn finished in time. On timeout fn is abandoned, not
// cancelled: it keeps running detached and its completion is ignored.
func NotifyBounded(timeout time.Duration, fn func()) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
