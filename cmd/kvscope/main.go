package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kvscope/kvscope/internal/config"
	"github.com/kvscope/kvscope/internal/logging"
	"github.com/kvscope/kvscope/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kvscope",
		Short: "kvscope - paginated key browser for cursor-scanned key-value stores",
		Long: `kvscope browses the keys of a key-value store page by page over its
cursor scan, resolving the type of every key it shows.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "./data", "Data directory path")
	rootCmd.PersistentFlags().StringP("log-level", "", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCommand(), newStoreCommand(), newBrowseCommand())
	return rootCmd
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard console API",
		RunE:  runServe,
	}
	cmd.Flags().StringP("listen", "l", ":8081", "Dashboard listen address")
	cmd.Flags().StringP("store-url", "s", "http://localhost:8080", "Key store API URL")
	cmd.Flags().IntP("page-size", "p", 50, "Keys per page")
	return cmd
}

func newStoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Run a local key store serving the scan API",
		RunE:  runStore,
	}
	cmd.Flags().StringP("store-listen", "l", ":8080", "Store listen address")
	cmd.Flags().StringP("engine", "e", "badger", "Storage engine (badger, pebble, memory)")
	cmd.Flags().Int("seed", 0, "Number of sample keys to write at startup")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLogs, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer closeLogs()

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("Starting kvscope")

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logrus.Info("kvscope stopped")
	return nil
}

func runStore(cmd *cobra.Command, args []string) error {
	cfg, closeLogs, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer closeLogs()

	ctx, cancel := signalContext()
	defer cancel()

	srv, err := server.NewStoreServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("store error: %w", err)
	}

	logrus.Info("kvscope store stopped")
	return nil
}

// loadConfig loads the configuration and sets up logging. The returned func
// flushes forwarded logs and must be called before exiting.
func loadConfig(cmd *cobra.Command) (*config.Config, func(), error) {
	cfg, err := config.Load(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	setupLogging(cfg.LogLevel)

	if len(cfg.Logging.Targets) == 0 {
		return cfg, func() {}, nil
	}

	forwarder := logging.NewManager(logrus.StandardLogger())
	if err := forwarder.Configure(cfg.Logging.Targets); err != nil {
		return nil, nil, fmt.Errorf("failed to configure log forwarding: %w", err)
	}
	return cfg, forwarder.Close, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(c)

		select {
		case <-c:
			logrus.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
