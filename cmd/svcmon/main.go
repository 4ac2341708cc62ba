package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	svcCommand := &command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(svcCommand),
		createStatusCommand(svcCommand),
		createWatchCommand(svcCommand),
		createToggleCommand(svcCommand),
		createBulkCommand(svcCommand, true),
		createBulkCommand(svcCommand, false),
		createListCommand(svcCommand),
		createConfigCommand(svcCommand),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "svcmon",
		Short: "Service monitor for a list of OS services",
		Long: `svcmon tracks the OS services named in a text file (one display name per
line), reports whether each is running, and starts or stops them on request.

Examples:
  svcmon serve --config=svcmon.toml              # Start daemon with HTTP API
  svcmon status                                  # One local poll
  svcmon status --api-url=http://host:8080/api   # Ask a running daemon
  svcmon toggle "Print Spooler"
  svcmon list add "Windows Update"`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringSliceVar(&flags.EnvFiles, "env-file", nil, "dotenv file(s) loaded before the config (repeatable)")
	return root
}

func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api); empty runs locally")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
}

// signalContext cancels on SIGINT/SIGTERM as well as when parent is done.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func createServeCommand(c *command) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the svcmon daemon",
		Long: `Start the monitor loop and the HTTP API. Runs until SIGINT or SIGTERM.

Examples:
  svcmon serve svcmon.toml
  svcmon serve --listen=:8080 --registry=memory`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				c.global.ConfigPath = args[0]
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.Serve(ctx, *flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&flags.Listen, "listen", "", "override [server].listen")
	cmd.Flags().StringVar(&flags.Registry, "registry", "", "override registry backend (auto, windows, systemd, memory)")
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of every listed service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), *flags, cmd.OutOrStdout())
		},
	}
	addRemoteFlags(cmd, &flags.RemoteFlags)
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print JSON instead of a table")
	return cmd
}

func createWatchCommand(c *command) *cobra.Command {
	flags := &WatchFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll locally and print the table whenever something changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.Watch(ctx, *flags, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&flags.Interval, "interval", 0, "override the poll interval")
	return cmd
}

func createToggleCommand(c *command) *cobra.Command {
	flags := &RemoteFlags{}
	cmd := &cobra.Command{
		Use:   "toggle NAME",
		Short: "Stop a running service or start a stopped one",
		Long: `Toggle one listed service. NAME is the system name or the display name
as written in the service list.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Toggle(cmd.Context(), args[0], *flags, cmd.OutOrStdout())
		},
	}
	addRemoteFlags(cmd, flags)
	return cmd
}

func createBulkCommand(c *command, start bool) *cobra.Command {
	flags := &RemoteFlags{}
	use, short := "stop-all", "Stop every listed service"
	if start {
		use, short = "start-all", "Start every listed service"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Bulk(cmd.Context(), start, *flags, cmd.OutOrStdout())
		},
	}
	addRemoteFlags(cmd, flags)
	return cmd
}

func createListCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show or edit the service list file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the listed display names",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.ListShow(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "add NAME...",
			Short: "Append display names that are not listed yet",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.ListAdd(args, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "remove NAME...",
			Short: "Remove every line matching a name",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.ListRemove(args, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create an empty service list if none exists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.ListInit(cmd.OutOrStdout())
			},
		},
	)
	return cmd
}

func createConfigCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the svcmon config file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample config (default svcmon.toml)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "svcmon.toml"
			if len(args) > 0 {
				path = args[0]
			}
			return c.ConfigInit(path, cmd.OutOrStdout())
		},
	})
	return cmd
}
