// Package main provides the proxyman entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	clicmd "github.com/rennerdo30/proxyman/internal/cli"
	"github.com/rennerdo30/proxyman/internal/command"
	"github.com/rennerdo30/proxyman/internal/config"
	"github.com/rennerdo30/proxyman/internal/envstore"
	"github.com/rennerdo30/proxyman/internal/logging"
	"github.com/rennerdo30/proxyman/internal/manager"
	"github.com/rennerdo30/proxyman/internal/profile"
	"github.com/rennerdo30/proxyman/internal/sysproxy"
	"github.com/rennerdo30/proxyman/internal/target"
	"github.com/rennerdo30/proxyman/internal/version"
)

var (
	configFile string
	logLevel   string

	// Config init flags
	initOutput string
	initForce  bool

	rootCmd = &cobra.Command{
		Use:   "proxyman",
		Short: "Proxy settings manager",
		Long: `proxyman applies one proxy configuration to the system settings, environment
variables, git, npm and the PowerShell profile, and keeps named profiles of
configurations you switch between.

` + clicmd.TargetsHelp(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultSettingsPath(), "settings file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the log level (debug, info, warn, error)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	})

	rootCmd.AddCommand(clicmd.NewCommands(loadRuntime)...)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Settings file commands",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented settings file with the defaults",
		RunE:  runConfigInit,
	}
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "", "output file path (default: the --config path)")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(configFile)
			if err != nil {
				return fmt.Errorf("settings invalid: %w", err)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	configCmd.AddCommand(initCmd, showCmd)
	rootCmd.AddCommand(configCmd)
}

// loadRuntime reads the settings, configures logging and wires the manager.
func loadRuntime(cmd *cobra.Command, sink manager.Sink) (*clicmd.Runtime, error) {
	settings, err := config.LoadSettings(configFile)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if logLevel != "" {
		settings.Logging.Level = logLevel
	}
	if err := logging.Setup(settings.Logging); err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	notifyTimeout := settings.NotifyTimeout.Duration()
	runner := command.NewExecRunner(settings.CommandTimeout.Duration())
	fs := afero.NewOsFs()

	registry := target.NewRegistry(target.Deps{
		Runner:       runner,
		SysProxy:     sysproxy.New(runner, notifyTimeout),
		Environ:      target.OSEnviron{},
		EnvStore:     envstore.New(settings.EnvFilePath(), notifyTimeout),
		Fs:           fs,
		ShellProfile: settings.ShellProfile,
	})
	store := profile.NewStore(fs, settings.ProfileDir, settings.ProfileFormat)

	cmd.SetContext(logging.ContextWith(cmd.Context(), "command", cmd.Name()))
	logging.FromContext(cmd.Context()).Debug("settings loaded",
		"config", configFile,
		"profile_dir", settings.ProfileDir,
		"profile_format", settings.ProfileFormat,
	)

	return &clicmd.Runtime{
		Settings: settings,
		Manager:  manager.New(registry, store, sink),
	}, nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	output := initOutput
	if output == "" {
		output = configFile
	}

	if !initForce {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("file %s already exists (use --force to overwrite)", output)
		}
	}

	if err := config.WriteFile(output, []byte(config.DefaultSettingsTemplate)); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s\n", output)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	_ = logging.Close()
	if err != nil {
		if !errors.Is(err, clicmd.ErrTargetsFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
