package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nekbot/nekirc/internal/config"
	"github.com/nekbot/nekirc/internal/irc"
	"github.com/nekbot/nekirc/internal/logging"
)

// Version information - set at build time via ldflags
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		jsonLogs   bool
		pidFile    string
	)

	root := &cobra.Command{
		Use:           "nekirc",
		Short:         "IRC protocol adapter for the nekbot framework",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, logLevel, jsonLogs, pidFile)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	root.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	root.Flags().BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON lines")
	root.Flags().StringVar(&pidFile, "pid-file", "", "Write the process id to this file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nekirc version %s\nBuilt: %s\nCommit: %s\n", version, buildDate, gitCommit)
		},
	})

	return root
}

func run(ctx context.Context, configPath, logLevel string, jsonLogs bool, pidFile string) error {
	// Set version info in irc package
	irc.Version = version
	irc.BuildDate = buildDate
	irc.GitCommit = gitCommit

	// Make config path absolute
	if !filepath.IsAbs(configPath) {
		wd, _ := os.Getwd()
		configPath = filepath.Join(wd, configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return err
	}

	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	if err := logging.Setup(logging.Options{Level: logLevel, JSON: jsonLogs}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return err
	}

	if pidFile != "" {
		if err := writePIDFile(pidFile); err != nil {
			log.Warn().Err(err).Msg("could not write PID file")
		}
	}

	manager := irc.NewManager(cfg, irc.DispatcherFunc(logDispatch))
	if err := manager.Init(); err != nil {
		log.Error().Err(err).Msg("failed to build sessions")
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Int("sessions", len(manager.Sessions())).Msg("starting sessions")
	err = manager.Run(ctx)
	switch {
	case errors.Is(err, irc.ErrNoSessions):
		log.Error().Msg("no server has both rooms and credentials configured")
		return err
	case err != nil:
		log.Error().Err(err).Msg("some sessions failed to start")
		return err
	}

	log.Info().Msg("shut down")
	return nil
}

// logDispatch stands in for the host framework when the adapter runs on
// its own: every inbound message is logged.
func logDispatch(ctx context.Context, kind string, msg *irc.Message) error {
	log.Info().
		Str("module", "dispatch").
		Str("kind", kind).
		Str("server", msg.Session.Server().Key()).
		Str("from", msg.Source).
		Str("target", msg.Target).
		Bool("private", msg.Private).
		Msg(msg.Body)
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
