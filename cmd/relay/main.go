package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientcmd "github.com/mood-agency/relay/internal/cmd/client"
	serverrun "github.com/mood-agency/relay/internal/cmd/server"
	cfgpkg "github.com/mood-agency/relay/internal/config"
	pebblestore "github.com/mood-agency/relay/internal/storage/pebble"
	logpkg "github.com/mood-agency/relay/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	// Respect RELAY_LOG_LEVEL for CLI output before config is loaded.
	level := os.Getenv("RELAY_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Relay queue server CLI",
		Long:  "Relay is a durable priority work queue with leases and dead-lettering. This CLI manages the server and basic operations.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start relay server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			visibilityMs, _ := cmd.Flags().GetInt64("visibility-timeout-ms")
			maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
			sweepMs, _ := cmd.Flags().GetInt64("sweep-interval-ms")

			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			cfg, err := cfgpkg.Load(configPath)
			if err != nil {
				return err
			}
			cfgpkg.FromEnv(&cfg)
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			switch logFormat {
			case "":
			case "text":
				cfg.LogJSON = false
			case "json":
				cfg.LogJSON = true
			default:
				return fmt.Errorf("invalid --log-format; use text|json")
			}
			if visibilityMs > 0 {
				cfg.Queue.VisibilityTimeoutMs = visibilityMs
			}
			if maxAttempts > 0 {
				cfg.Queue.MaxAttempts = maxAttempts
			}
			if sweepMs > 0 {
				cfg.Queue.SweepIntervalMs = sweepMs
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       dataDir,
				HTTPAddr:      httpAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	serverStartCmd.Flags().String("config", os.Getenv("RELAY_CONFIG"), "Path to JSON config file")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default from config, :8080)")
	serverStartCmd.Flags().String("fsync", "always", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms (default 5)")
	serverStartCmd.Flags().String("log-level", os.Getenv("RELAY_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", "", "Log format: text|json (default text)")
	serverStartCmd.Flags().Int64("visibility-timeout-ms", 0, "Lease visibility timeout in ms (default from config, 30000)")
	serverStartCmd.Flags().Int("max-attempts", 0, "Delivery attempts before dead-lettering (default from config, 3)")
	serverStartCmd.Flags().Int64("sweep-interval-ms", 0, "Lease sweep interval in ms (default from config, 2000)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.NewQueueCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
