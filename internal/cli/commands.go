// Package cli provides the proxyman subcommands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/manager"
	"github.com/rennerdo30/proxyman/internal/target"
)

// PasswordEnv supplies the proxy password when --password is not given.
const PasswordEnv = "PROXYMAN_PASSWORD"

// ErrTargetsFailed is returned when at least one requested target failed.
var ErrTargetsFailed = errors.New("one or more targets failed")

// Runtime is what the commands work with once settings are loaded.
type Runtime struct {
	Settings config.Settings
	Manager  *manager.Manager
}

// Loader builds the runtime for a command. Progress lines go to sink.
type Loader func(cmd *cobra.Command, sink manager.Sink) (*Runtime, error)

// StatusPrinter renders status messages as "[OK] target: message" lines.
func StatusPrinter(w io.Writer) manager.Sink {
	return manager.SinkFunc(func(s manager.Status) {
		if s.Target == "" {
			fmt.Fprintf(w, "[%s] %s\n", s.Level, s.Message)
			return
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", s.Level, s.Target, s.Message)
	})
}

// NewCommands creates the proxy and profile commands.
func NewCommands(load Loader) []*cobra.Command {
	setup := func(cmd *cobra.Command) (*Runtime, error) {
		return load(cmd, StatusPrinter(cmd.OutOrStdout()))
	}

	return []*cobra.Command{
		newSetCommand(setup),
		newUnsetCommand(setup),
		newListCommand(setup),
		newConfigsCommand(setup),
		newLoadCommand(setup),
		newSaveCommand(setup),
		newShowCommand(setup),
		newDeleteCommand(setup),
		newTargetsCommand(setup),
	}
}

type setupFunc func(cmd *cobra.Command) (*Runtime, error)

// proxyFlags are the flags that describe a proxy configuration.
type proxyFlags struct {
	httpHost  string
	httpPort  int
	httpsHost string
	httpsPort int
	ftpHost   string
	ftpPort   int
	same      bool
	username  string
	password  string
	noProxy   string
}

func (f *proxyFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.httpHost, "http-host", "", "HTTP proxy host (required)")
	fl.IntVar(&f.httpPort, "http-port", 8080, "HTTP proxy port")
	fl.StringVar(&f.httpsHost, "https-host", "", "HTTPS proxy host (defaults to the HTTP host)")
	fl.IntVar(&f.httpsPort, "https-port", 0, "HTTPS proxy port (defaults to the HTTP port)")
	fl.StringVar(&f.ftpHost, "ftp-host", "", "FTP proxy host (defaults to the HTTP host)")
	fl.IntVar(&f.ftpPort, "ftp-port", 0, "FTP proxy port (defaults to the HTTP port)")
	fl.BoolVar(&f.same, "same", false, "use the HTTP proxy for HTTPS and FTP")
	fl.StringVarP(&f.username, "username", "u", "", "proxy username (enables authentication)")
	fl.StringVarP(&f.password, "password", "p", "", "proxy password (or set "+PasswordEnv+")")
	fl.StringVar(&f.noProxy, "no-proxy", "", "comma-separated hosts that bypass the proxy (defaults to settings)")
	_ = cmd.MarkFlagRequired("http-host")
}

func (f *proxyFlags) config(cmd *cobra.Command, settings config.Settings) (*config.ProxyConfig, error) {
	noProxy := f.noProxy
	if !cmd.Flags().Changed("no-proxy") {
		noProxy = settings.DefaultNoProxyString()
	}
	password := f.password
	if password == "" {
		password = os.Getenv(PasswordEnv)
	}
	return config.NewProxyConfig(config.ProxyInput{
		HTTPHost:  f.httpHost,
		HTTPPort:  f.httpPort,
		HTTPSHost: f.httpsHost,
		HTTPSPort: f.httpsPort,
		FTPHost:   f.ftpHost,
		FTPPort:   f.ftpPort,
		UseSame:   f.same,
		UseAuth:   f.username != "",
		Username:  f.username,
		Password:  password,
		NoProxy:   noProxy,
	})
}

func newSetCommand(setup setupFunc) *cobra.Command {
	var flags proxyFlags
	var targets []string
	var saveAs string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set proxy settings on targets",
		Long: `Set proxy settings on the selected targets (all available targets by default).

Example:
  proxyman set --http-host proxy.corp.com --http-port 8080 --same
  proxyman set --http-host proxy.corp.com --targets git,npm --save office`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			cfg, err := flags.config(cmd, rt.Settings)
			if err != nil {
				return err
			}
			ids, err := rt.Manager.ResolveIDs(cmd.Context(), targets)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if saveAs != "" {
				if err := rt.Manager.SaveProfile(saveAs, cfg); err != nil {
					return err
				}
				fmt.Fprintf(out, "Saved profile %q\n", saveAs)
				_, report, err := rt.Manager.LoadProfile(cmd.Context(), saveAs, ids)
				if err != nil {
					return err
				}
				return summarize(out, report)
			}

			report, err := rt.Manager.Apply(cmd.Context(), cfg, ids)
			if err != nil {
				return err
			}
			return summarize(out, report)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringSliceVarP(&targets, "targets", "t", nil, "targets to configure (default: all available)")
	cmd.Flags().StringVar(&saveAs, "save", "", "also save the configuration as a profile and mark it active")
	return cmd
}

func newUnsetCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "unset [all|<target>...]",
		Short: "Remove proxy settings from targets",
		Long: `Remove proxy settings from the given targets, or from every available target
when none (or "all") is given.

Example:
  proxyman unset
  proxyman unset git npm`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			ids, err := rt.Manager.ResolveIDs(cmd.Context(), args)
			if err != nil {
				return err
			}
			report := rt.Manager.Unset(cmd.Context(), ids)
			if report.Err() == nil && selectsAll(args) {
				if err := rt.Manager.ClearActive(); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "[WARN] could not clear active profile: %v\n", err)
				}
			}
			return summarize(cmd.OutOrStdout(), report)
		},
	}
}

func selectsAll(args []string) bool {
	if len(args) == 0 {
		return true
	}
	for _, a := range args {
		if strings.EqualFold(strings.TrimSpace(a), manager.AllTargets) {
			return true
		}
	}
	return false
}

func newListCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved profiles and the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			names, err := rt.Manager.ListProfiles()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(out, "No saved profiles found")
				fmt.Fprintln(out, "Use 'proxyman set --save <name>' or 'proxyman save <name>' to create one")
				return nil
			}

			active, detected, err := rt.Manager.ActiveProfile(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "[WARN] active profile detection failed: %v\n", err)
			}

			fmt.Fprintln(out, "Profiles:")
			for _, name := range names {
				marker := " "
				if name == active {
					marker = "*"
				}
				fmt.Fprintf(out, "  %s %s\n", marker, name)
			}
			switch {
			case active == "":
				fmt.Fprintln(out, "\nNo active profile detected")
			case detected:
				fmt.Fprintf(out, "\nCurrently active: %s (detected from environment)\n", active)
			default:
				fmt.Fprintf(out, "\nCurrently active: %s\n", active)
			}
			return nil
		},
	}
}

// configView is the YAML shape of one target in `configs --output yaml`.
type configView struct {
	Target      string            `yaml:"target"`
	Description string            `yaml:"description"`
	State       string            `yaml:"state"`
	Settings    map[string]string `yaml:"settings,omitempty"`
	Error       string            `yaml:"error,omitempty"`
}

func newConfigsCommand(setup setupFunc) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "configs",
		Aliases: []string{"show-configs"},
		Short:   "Show the current proxy settings of every available target",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "text" && output != "yaml" {
				return fmt.Errorf("--output must be text or yaml, got %q", output)
			}
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			states := rt.Manager.CurrentConfigs(cmd.Context())
			out := cmd.OutOrStdout()

			if output == "yaml" {
				views := make([]configView, 0, len(states))
				for _, s := range states {
					v := configView{Target: s.Target, Description: s.Description, State: s.State()}
					if !s.Settings.Empty() {
						v.Settings = s.Settings.Map()
					}
					if s.Err != nil {
						v.Error = s.Err.Error()
					}
					views = append(views, v)
				}
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(views); err != nil {
					return err
				}
				return enc.Close()
			}

			for i, s := range states {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "[%s] %s - %s\n", s.State(), s.Target, s.Description)
				switch {
				case s.Err != nil:
					fmt.Fprintf(out, "  Error reading settings: %v\n", s.Err)
				case s.Settings.Empty():
					fmt.Fprintln(out, "  No proxy settings configured")
				default:
					for _, kv := range s.Settings {
						fmt.Fprintf(out, "  %s: %s\n", kv.Key, kv.Value)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or yaml")
	return cmd
}

func newLoadCommand(setup setupFunc) *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "load <name>",
		Short: "Apply a saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			cfg, err := rt.Manager.GetProfile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printProfile(out, args[0], cfg)
			fmt.Fprintln(out)

			ids, err := rt.Manager.ResolveIDs(cmd.Context(), targets)
			if err != nil {
				return err
			}
			_, report, err := rt.Manager.LoadProfile(cmd.Context(), args[0], ids)
			if err != nil {
				return err
			}
			return summarize(out, report)
		},
	}
	cmd.Flags().StringSliceVarP(&targets, "targets", "t", nil, "targets to configure (default: all available)")
	return cmd
}

func newSaveCommand(setup setupFunc) *cobra.Command {
	var flags proxyFlags

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save a proxy configuration as a profile without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			cfg, err := flags.config(cmd, rt.Settings)
			if err != nil {
				return err
			}
			if err := rt.Manager.SaveProfile(args[0], cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved profile %q\n", args[0])
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newShowCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show the details of a saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			cfg, err := rt.Manager.GetProfile(args[0])
			if err != nil {
				return err
			}
			printProfile(cmd.OutOrStdout(), args[0], cfg)
			return nil
		},
	}
}

func newDeleteCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := rt.Manager.DeleteProfile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %q\n", args[0])
			return nil
		},
	}
}

func newTargetsCommand(setup setupFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List supported targets and whether they are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, info := range rt.Manager.Targets(cmd.Context()) {
				status := "[OK]"
				if !info.Available {
					status = "[UNAVAILABLE]"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", status, info.ID, info.Description)
			}
			return w.Flush()
		},
	}
}

// TargetsHelp renders the target list appended to the root help text.
func TargetsHelp() string {
	var b strings.Builder
	b.WriteString("Supported targets:\n")
	for _, k := range target.Kinds() {
		fmt.Fprintf(&b, "  %-12s %s\n", k.ID, k.Description)
	}
	return b.String()
}

func printProfile(w io.Writer, name string, cfg *config.ProxyConfig) {
	endpoint := func(host string, port uint16) string {
		if host == "" {
			return "(same as HTTP)"
		}
		return fmt.Sprintf("%s:%d", host, port)
	}
	fmt.Fprintf(w, "Profile: %s\n", name)
	fmt.Fprintf(w, "  HTTP    : %s\n", endpoint(cfg.HTTPHost, cfg.HTTPPort))
	fmt.Fprintf(w, "  HTTPS   : %s\n", endpoint(cfg.HTTPSHost, cfg.HTTPSPort))
	fmt.Fprintf(w, "  FTP     : %s\n", endpoint(cfg.FTPHost, cfg.FTPPort))
	if cfg.UseAuth {
		fmt.Fprintf(w, "  Auth    : yes (%s)\n", cfg.Username)
	} else {
		fmt.Fprintln(w, "  Auth    : no")
	}
	fmt.Fprintf(w, "  No proxy: %s\n", cfg.NoProxyString())
}

// summarize prints the batch result and returns ErrTargetsFailed when any
// target failed.
func summarize(w io.Writer, report manager.Report) error {
	failed := report.Failed()
	if len(failed) == 0 {
		fmt.Fprintf(w, "\nDone: %d target(s) updated\n", report.Succeeded())
		return nil
	}
	fmt.Fprintf(w, "\n%d of %d target(s) failed\n", len(failed), len(report.Outcomes))
	return fmt.Errorf("%w: %w", ErrTargetsFailed, report.Err())
}
