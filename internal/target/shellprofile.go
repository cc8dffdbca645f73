package target

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/rennerdo30/proxyman/internal/command"
	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/fsutil"
	"github.com/rennerdo30/proxyman/internal/logging"
)

// Markers delimiting the block proxyman owns inside the profile script.
const (
	BlockBegin  = "# >>> proxyman proxy settings >>>"
	BlockEnd    = "# <<< proxyman proxy settings <<<"
	legacyBlock = "# ProxyMan Windows - Proxy Settings"
)

// PowerShell maintains a marked block of proxy settings in the user's
// PowerShell profile script.
type PowerShell struct {
	runner   command.Runner
	fs       afero.Fs
	override string
	home     string

	once sync.Once
	path string
}

// NewPowerShell creates a PowerShell target. A non-empty profilePath skips
// asking the shell for $PROFILE.
func NewPowerShell(runner command.Runner, fs afero.Fs, profilePath string) *PowerShell {
	home, _ := os.UserHomeDir()
	return &PowerShell{runner: runner, fs: fs, override: profilePath, home: home}
}

// Name implements Target.
func (t *PowerShell) Name() string { return KindPowerShell }

// Description implements Target.
func (t *PowerShell) Description() string { return describe(KindPowerShell) }

// IsAvailable implements Target. Windows always ships a PowerShell; elsewhere
// pwsh has to be installed.
func (t *PowerShell) IsAvailable(ctx context.Context) bool {
	if runtime.GOOS == "windows" || t.override != "" {
		return true
	}
	return command.Available(ctx, t.runner, "pwsh", "-NoProfile", "-Command", "$PSVersionTable.PSVersion.ToString()")
}

// ProfilePath returns the profile script location, resolving it on first use.
func (t *PowerShell) ProfilePath(ctx context.Context) string {
	t.once.Do(func() {
		t.path = t.resolvePath(ctx)
	})
	return t.path
}

func (t *PowerShell) resolvePath(ctx context.Context) string {
	if t.override != "" {
		return t.override
	}
	logger := logging.FromContext(ctx).With("target", KindPowerShell)
	for _, shell := range shellCandidates() {
		res, err := t.runner.Run(ctx, shell, "-NoProfile", "-Command", "$PROFILE")
		if err != nil {
			logger.Debug("profile path query failed", "shell", shell, "error", err)
			continue
		}
		if p := strings.TrimSpace(res.Stdout); p != "" {
			return p
		}
	}
	return defaultProfilePath(t.home)
}

func shellCandidates() []string {
	if runtime.GOOS == "windows" {
		return []string{"powershell", "pwsh"}
	}
	return []string{"pwsh"}
}

func defaultProfilePath(home string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "Documents", "WindowsPowerShell", "Microsoft.PowerShell_profile.ps1")
	}
	return filepath.Join(home, ".config", "powershell", "Microsoft.PowerShell_profile.ps1")
}

// SetProxy implements Target. Any existing block is replaced.
func (t *PowerShell) SetProxy(ctx context.Context, cfg *config.ProxyConfig) error {
	path := t.ProfilePath(ctx)
	logging.FromContext(ctx).Debug("writing profile block", "target", KindPowerShell, "op", "set", "path", path)

	content, _, err := fsutil.ReadFileIfExists(t.fs, path)
	if err != nil {
		return Invocation(KindPowerShell, "set", err)
	}
	stripped, _, err := StripBlock(string(content))
	if err != nil {
		return NewError(KindPowerShell, "set", fmt.Errorf("%w: %s: %w", ErrReadParse, path, err))
	}

	nl := newline(string(content))
	stripped = strings.TrimRight(stripped, "\r\n")
	var b strings.Builder
	if stripped != "" {
		b.WriteString(stripped)
		b.WriteString(nl)
		b.WriteString(nl)
	}
	b.WriteString(strings.ReplaceAll(RenderBlock(cfg), "\n", nl))

	if err := fsutil.WriteFileAtomic(t.fs, path, []byte(b.String()), 0644); err != nil {
		return Invocation(KindPowerShell, "set", err)
	}
	return nil
}

// UnsetProxy implements Target.
func (t *PowerShell) UnsetProxy(ctx context.Context) error {
	path := t.ProfilePath(ctx)
	content, ok, err := fsutil.ReadFileIfExists(t.fs, path)
	if err != nil {
		return Invocation(KindPowerShell, "unset", err)
	}
	if !ok {
		return nil
	}
	stripped, changed, err := StripBlock(string(content))
	if err != nil {
		return NewError(KindPowerShell, "unset", fmt.Errorf("%w: %s: %w", ErrReadParse, path, err))
	}
	if !changed {
		return nil
	}
	logging.FromContext(ctx).Debug("removing profile block", "target", KindPowerShell, "op", "unset", "path", path)
	if err := fsutil.WriteFileAtomic(t.fs, path, []byte(stripped), 0644); err != nil {
		return Invocation(KindPowerShell, "unset", err)
	}
	return nil
}

// ListProxy implements Target. Only the presence of the marker is checked.
func (t *PowerShell) ListProxy(ctx context.Context) (Settings, error) {
	path := t.ProfilePath(ctx)
	content, ok, err := fsutil.ReadFileIfExists(t.fs, path)
	if err != nil {
		return nil, Invocation(KindPowerShell, "list", err)
	}
	if !ok {
		return nil, nil
	}
	s := string(content)
	if !strings.Contains(s, BlockBegin) && !strings.Contains(s, legacyBlock) {
		return nil, nil
	}
	return Settings{
		{Key: "status", Value: "Configured"},
		{Key: "profile_path", Value: path},
	}, nil
}

// RenderBlock returns the marked profile block for cfg.
func RenderBlock(cfg *config.ProxyConfig) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	proxyAddress := "http://" + cfg.Address()
	line(BlockBegin)
	line("$env:HTTP_PROXY = %s", psQuote(cfg.HTTPProxyURL()))
	line("$env:HTTPS_PROXY = %s", psQuote(cfg.HTTPSProxyURL()))
	line("$env:NO_PROXY = %s", psQuote(cfg.NoProxyString()))
	line("[System.Net.WebRequest]::DefaultWebProxy = New-Object System.Net.WebProxy(%s, $true)", psQuote(proxyAddress))
	if cfg.UseAuth {
		line("[System.Net.WebRequest]::DefaultWebProxy.Credentials = New-Object System.Net.NetworkCredential(%s, %s)",
			psQuote(cfg.Username), psQuote(cfg.Password))
	} else {
		line("[System.Net.WebRequest]::DefaultWebProxy.Credentials = [System.Net.CredentialCache]::DefaultCredentials")
	}
	line(BlockEnd)
	return b.String()
}

// StripBlock removes the proxyman block, and the unterminated block written
// by older releases, from a profile script. It reports whether anything was
// removed. A begin marker without an end marker is an error so that user
// content is never dropped.
func StripBlock(content string) (string, bool, error) {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	changed := false

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		switch {
		case trimmed == BlockBegin:
			end := -1
			for j := i + 1; j < len(lines); j++ {
				if strings.TrimSpace(lines[j]) == BlockEnd {
					end = j
					break
				}
			}
			if end < 0 {
				return content, false, fmt.Errorf("line %d: %q has no matching %q", i+1, BlockBegin, BlockEnd)
			}
			i = end
			changed = true
		case strings.Contains(trimmed, legacyBlock):
			for i+1 < len(lines) && isLegacyBlockLine(lines[i+1]) {
				i++
			}
			changed = true
		default:
			out = append(out, lines[i])
		}
	}
	if !changed {
		return content, false, nil
	}
	return collapseBlankRuns(strings.Join(out, "\n")), true, nil
}

func isLegacyBlockLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "$env:") ||
		strings.HasPrefix(trimmed, "[System.Net.WebRequest]")
}

// collapseBlankRuns squeezes the blank lines left where a block was removed.
func collapseBlankRuns(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

func newline(content string) string {
	if strings.Contains(content, "\r\n") {
		return "\r\n"
	}
	return "\n"
}

// psQuote renders s as a single-quoted PowerShell string literal.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
