package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/llmtap/pkg/cli"
	"mercator-hq/llmtap/pkg/config"
	"mercator-hq/llmtap/pkg/server"
	"mercator-hq/llmtap/pkg/telemetry/logging"
)

var serveFlags struct {
	listen     string
	upstream   string
	capture    bool
	captureDir string
	logLevel   string
	dryRun     bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the forwarding proxy",
	Long: `Start the forwarding proxy with the specified configuration.

Every request outside the admin prefix is forwarded to the upstream. With
capture enabled each exchange is written to the capture directory and
indexed for replay.

Examples:
  # Start with defaults (127.0.0.1:8080 -> http://localhost:11434)
  llmtap serve

  # Record every exchange into ./Data
  llmtap serve --capture

  # Custom config, overriding the listen address
  llmtap serve --config /etc/llmtap.yaml --listen 0.0.0.0:9000

  # Validate config without starting the server
  llmtap serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listen, "listen", "l", "", "override listen address (host:port)")
	serveCmd.Flags().StringVarP(&serveFlags.upstream, "upstream", "u", "", "override upstream base URL")
	serveCmd.Flags().BoolVar(&serveFlags.capture, "capture", false, "record every exchange")
	serveCmd.Flags().StringVar(&serveFlags.captureDir, "capture-dir", "", "override capture directory")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting server")
}

// applyServeFlags overrides cfg with the flags the user set.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	if serveFlags.listen != "" {
		host, port, err := net.SplitHostPort(serveFlags.listen)
		if err != nil {
			return fmt.Errorf("invalid --listen %q: %w", serveFlags.listen, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid --listen port %q", port)
		}
		cfg.Server.Host, cfg.Server.Port = host, n
	}
	if serveFlags.upstream != "" {
		cfg.Upstream.BaseURL = serveFlags.upstream
	}
	if cmd.Flags().Changed("capture") {
		cfg.Capture.Enabled = serveFlags.capture
	}
	if serveFlags.captureDir != "" {
		cfg.Capture.Directory = serveFlags.captureDir
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}
	return config.Validate(cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return cli.NewConfigError(cfgFile, err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	if serveFlags.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: %s -> %s (capture %t)\n",
			cfg.Server.ListenAddress(), cfg.Upstream.BaseURL, cfg.Capture.Enabled)
		return nil
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	srv, err := server.New(cfg, server.Options{
		Logger: logger.Logger,
		Build:  server.BuildInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate},
	})
	if err != nil {
		return cli.NewCommandError("serve", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if watchable(cfgFile) {
		g.Go(func() error {
			return config.Watch(gctx, config.WatcherConfig{Path: cfgFile, Logger: logger.Logger}, func(next *config.Config) {
				applyReload(logger, next)
			})
		})
	}

	if err := g.Wait(); err != nil {
		return cli.NewCommandError("serve", err)
	}
	return nil
}

// applyReload applies the settings that can change without a restart.
// Only the log level is live; other changes need a restart.
func applyReload(logger *logging.Logger, next *config.Config) {
	level := next.Telemetry.Logging.Level
	if verbose {
		level = "debug"
	}
	if err := logger.SetLevel(level); err != nil {
		logger.Error("ignoring reloaded log level", "level", level, "error", err)
		return
	}
	logger.Info("log level applied", "level", logger.Level().String())
}

func watchable(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
