package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/rennerdo30/proxyman/internal/util"
)

// DefaultNoProxy is the exclusion list offered when the user supplies none.
var DefaultNoProxy = []string{
	"localhost", "127.0.0.1", "::1", "*.local",
	"10.*", "192.168.*",
	"172.16.*", "172.17.*", "172.18.*", "172.19.*",
	"172.20.*", "172.21.*", "172.22.*", "172.23.*",
	"172.24.*", "172.25.*", "172.26.*", "172.27.*",
	"172.28.*", "172.29.*", "172.30.*", "172.31.*",
}

// ProxyConfig describes the desired proxy state for every target.
// Values are built with NewProxyConfig and treated as read-only afterwards.
type ProxyConfig struct {
	HTTPHost  string   `yaml:"http_host" json:"http_host"`
	HTTPPort  uint16   `yaml:"http_port" json:"http_port"`
	HTTPSHost string   `yaml:"https_host" json:"https_host"`
	HTTPSPort uint16   `yaml:"https_port" json:"https_port"`
	FTPHost   string   `yaml:"ftp_host" json:"ftp_host"`
	FTPPort   uint16   `yaml:"ftp_port" json:"ftp_port"`
	UseSame   bool     `yaml:"use_same" json:"use_same"`
	UseAuth   bool     `yaml:"use_auth" json:"use_auth"`
	Username  string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password  string   `yaml:"password,omitempty" json:"password,omitempty"`
	NoProxy   []string `yaml:"no_proxy,omitempty" json:"no_proxy,omitempty"`
}

// ProxyInput is the raw, unvalidated input collected by the CLI layer.
// Ports are plain ints so out-of-range values can be reported instead of wrapped.
type ProxyInput struct {
	HTTPHost  string
	HTTPPort  int
	HTTPSHost string
	HTTPSPort int
	FTPHost   string
	FTPPort   int
	UseSame   bool
	UseAuth   bool
	Username  string
	Password  string
	NoProxy   string
}

// NewProxyConfig validates input and builds a ProxyConfig.
//
// With UseSame the https and ftp fields are copied from the http fields once,
// here. Empty https/ftp fields otherwise default to the http values.
func NewProxyConfig(in ProxyInput) (*ProxyConfig, error) {
	httpHost := strings.TrimSpace(in.HTTPHost)
	if err := validateEndpoint("http", httpHost, in.HTTPPort); err != nil {
		return nil, err
	}

	cfg := &ProxyConfig{
		HTTPHost: httpHost,
		HTTPPort: uint16(in.HTTPPort),
		UseSame:  in.UseSame,
		UseAuth:  in.UseAuth,
		NoProxy:  SplitNoProxy(in.NoProxy),
	}

	if in.UseSame {
		cfg.HTTPSHost, cfg.HTTPSPort = cfg.HTTPHost, cfg.HTTPPort
		cfg.FTPHost, cfg.FTPPort = cfg.HTTPHost, cfg.HTTPPort
	} else {
		host, port, err := endpointOrDefault("https", in.HTTPSHost, in.HTTPSPort, cfg)
		if err != nil {
			return nil, err
		}
		cfg.HTTPSHost, cfg.HTTPSPort = host, port

		host, port, err = endpointOrDefault("ftp", in.FTPHost, in.FTPPort, cfg)
		if err != nil {
			return nil, err
		}
		cfg.FTPHost, cfg.FTPPort = host, port
	}

	if in.UseAuth {
		cfg.Username = strings.TrimSpace(in.Username)
		cfg.Password = in.Password
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func endpointOrDefault(scheme, host string, port int, base *ProxyConfig) (string, uint16, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = base.HTTPHost
	}
	if port == 0 {
		port = int(base.HTTPPort)
	}
	if err := validateEndpoint(scheme, host, port); err != nil {
		return "", 0, err
	}
	return host, uint16(port), nil
}

func validateEndpoint(scheme, host string, port int) error {
	if host == "" {
		return fmt.Errorf("%w: %s_host is required", util.ErrInvalidConfig, scheme)
	}
	if strings.Contains(host, "://") || strings.ContainsAny(host, "/ \t") {
		return fmt.Errorf("%w: %s_host %q must be a bare host name or address", util.ErrInvalidConfig, scheme, host)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %s_port %d out of range (1-65535)", util.ErrInvalidConfig, scheme, port)
	}
	return nil
}

// Validate checks the ProxyConfig invariants.
func (c *ProxyConfig) Validate() error {
	if err := validateEndpoint("http", c.HTTPHost, int(c.HTTPPort)); err != nil {
		return err
	}
	if c.HTTPSHost != "" {
		if err := validateEndpoint("https", c.HTTPSHost, int(c.HTTPSPort)); err != nil {
			return err
		}
	}
	if c.FTPHost != "" {
		if err := validateEndpoint("ftp", c.FTPHost, int(c.FTPPort)); err != nil {
			return err
		}
	}
	if c.UseAuth && c.Username == "" {
		return fmt.Errorf("%w: username is required when authentication is enabled", util.ErrInvalidConfig)
	}
	if !c.UseAuth && (c.Username != "" || c.Password != "") {
		return fmt.Errorf("%w: credentials set but authentication is disabled", util.ErrInvalidConfig)
	}
	return nil
}

// Address returns the http proxy as host:port.
func (c *ProxyConfig) Address() string {
	return net.JoinHostPort(c.HTTPHost, strconv.Itoa(int(c.HTTPPort)))
}

// HTTPProxyURL returns http://[user:pass@]host:port for the http proxy.
func (c *ProxyConfig) HTTPProxyURL() string {
	return c.proxyURL(c.HTTPHost, c.HTTPPort)
}

// HTTPSProxyURL returns the proxy URL used for https traffic.
func (c *ProxyConfig) HTTPSProxyURL() string {
	if c.HTTPSHost == "" {
		return c.HTTPProxyURL()
	}
	return c.proxyURL(c.HTTPSHost, c.HTTPSPort)
}

// FTPProxyURL returns the proxy URL used for ftp traffic.
func (c *ProxyConfig) FTPProxyURL() string {
	if c.FTPHost == "" {
		return c.HTTPProxyURL()
	}
	return c.proxyURL(c.FTPHost, c.FTPPort)
}

func (c *ProxyConfig) proxyURL(host string, port uint16) string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, strconv.Itoa(int(port))),
	}
	if c.UseAuth && c.Username != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.Username, c.Password)
		} else {
			u.User = url.User(c.Username)
		}
	}
	return u.String()
}

// NoProxyString joins the exclusion list with commas.
func (c *ProxyConfig) NoProxyString() string {
	return strings.Join(c.NoProxy, ",")
}

// Redacted returns a copy with the password masked, for display.
func (c *ProxyConfig) Redacted() ProxyConfig {
	out := *c
	out.NoProxy = append([]string(nil), c.NoProxy...)
	if out.Password != "" {
		out.Password = "********"
	}
	return out
}

// SplitNoProxy parses a comma or semicolon separated exclusion list,
// dropping blanks and duplicates while keeping order.
func SplitNoProxy(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';'
	})
	fields = lo.Map(fields, func(f string, _ int) string {
		return strings.TrimSpace(f)
	})
	fields = lo.Compact(fields)
	if len(fields) == 0 {
		return nil
	}
	return lo.Uniq(fields)
}
