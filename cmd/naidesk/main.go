package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(command{out: os.Stdout})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select a running backend for the remote-control commands.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

// InitFlags holds flags for config init
type InitFlags struct {
	Preset  string
	DataDir string
	Out     string
	Force   bool
}

func buildRoot(c command) *cobra.Command {
	global := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "naidesk",
		Short: "Native backend for the NAI desktop client",
		Long: `naidesk runs the native side of the NAI desktop client: it supervises the
local tagger worker, manages the embedded browser overlay, proxies the remote
image services and shuts everything down cleanly on exit.

Examples:
  naidesk serve --config naidesk.toml
  naidesk tagger check
  naidesk tagger status --api-url=http://127.0.0.1:8001/api
  naidesk config init --preset desktop --out naidesk.toml`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&global.ConfigPath, "config", "", "path to TOML config file (optional)")

	root.AddCommand(
		createServeCommand(c, global),
		createTaggerCommand(c, global),
		createConfigCommand(c, global),
	)
	return root
}

func createServeCommand(c command, global *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the backend until interrupted",
		Long: `Start the backend: reap any worker left by a previous run, autostart the
tagger worker, serve the command API and, on SIGINT/SIGTERM, close the overlay
and terminate the worker before exiting.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := global.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.Serve(ctx, path)
		},
	}
}

func createTaggerCommand(c command, global *GlobalFlags) *cobra.Command {
	tagger := &cobra.Command{
		Use:   "tagger",
		Short: "Inspect or control the tagger worker",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Report whether the tagger worker executable can be found",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TaggerCheck(global.ConfigPath)
		},
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the tagger worker in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.TaggerRun(ctx, global.ConfigPath)
		},
	}

	api := &APIFlags{}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the worker status of a running backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TaggerStatus(cmd.Context(), *api)
		},
	}
	start := &cobra.Command{
		Use:   "start",
		Short: "Ask a running backend to start the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TaggerStart(cmd.Context(), *api)
		},
	}
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running backend to terminate the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TaggerStop(cmd.Context(), *api)
		},
	}
	for _, sub := range []*cobra.Command{status, start, stop} {
		sub.Flags().StringVar(&api.APIUrl, "api-url", "", "backend API URL (default http://127.0.0.1:8001/api)")
		sub.Flags().DurationVar(&api.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	}

	tagger.AddCommand(check, run, status, start, stop)
	return tagger
}

func createConfigCommand(c command, global *GlobalFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or generate configuration",
	}

	printCmd := &cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ConfigPrint(global.ConfigPath)
		},
	}

	flags := &InitFlags{}
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration",
		Long: `Write a starter configuration for one of the presets:
  minimal  defaults, no autostart, no metrics
  desktop  autostart, pid file, worker logs and history under --data-dir
  debug    desktop plus debug logging, tree termination and metrics`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ConfigInit(*flags)
		},
	}
	initCmd.Flags().StringVar(&flags.Preset, "preset", "minimal", "preset name (minimal, desktop, debug)")
	initCmd.Flags().StringVar(&flags.DataDir, "data-dir", "", "directory for logs, pid file and history")
	initCmd.Flags().StringVar(&flags.Out, "out", "", "output file (default stdout)")
	initCmd.Flags().BoolVar(&flags.Force, "force", false, "overwrite an existing output file")

	cfgCmd.AddCommand(printCmd, initCmd)
	return cfgCmd
}
