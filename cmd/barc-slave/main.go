// Package main is the entry point for barc-slave, the remote backup
// executor: it accepts session connections from a master's runner and
// executes JOB_TRIGGER/JOB_ABORT/JOB_INFO commands against its own
// local job registry, reporting host telemetry alongside every reply.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Build the local job registry and run its initial scan
//  4. Build a local-only runner (no slave pool — a slave never itself
//     dispatches to another slave)
//  5. Start the control-plane session listener
//  6. Block until SIGINT/SIGTERM, then shut down
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/controlserver"
	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/pipeline"
	"github.com/coldroot-labs/barc/internal/runner"
	"github.com/coldroot-labs/barc/internal/session"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	jobsDir     string
	listenAddr  string
	logLevel    string
	supportRSA  bool
	password    string
	archiverBin string
	diskPath    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "barc-slave",
		Short: "barc-slave — remote backup executor",
		Long: `barc-slave accepts session connections from a barcd master and
executes the jobs the master delegates to it, reporting progress and
host telemetry back over the same session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	f := root.PersistentFlags()
	f.StringVar(&cfg.jobsDir, "jobs-dir", envOrDefault("BARC_SLAVE_JOBS_DIR", "./slave-jobs"), "directory of per-job config files this slave knows how to run")
	f.StringVar(&cfg.listenAddr, "listen-addr", envOrDefault("BARC_SLAVE_LISTEN_ADDR", ":9877"), "session-protocol listen address")
	f.StringVar(&cfg.logLevel, "log-level", envOrDefault("BARC_SLAVE_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	f.BoolVar(&cfg.supportRSA, "support-rsa", envOrDefault("BARC_SLAVE_SUPPORT_RSA", "true") == "true", "advertise RSA session encryption")
	f.StringVar(&cfg.password, "password", envOrDefault("BARC_SLAVE_PASSWORD", ""), "plaintext password the master must AUTHORIZE with (empty disables auth)")
	f.StringVar(&cfg.archiverBin, "archiver-binary", envOrDefault("BARC_SLAVE_ARCHIVER_BINARY", ""), "external archiver binary this slave shells out to")
	f.StringVar(&cfg.diskPath, "telemetry-disk-path", envOrDefault("BARC_SLAVE_TELEMETRY_DISK", "/"), "filesystem path telemetry reports free/total space for")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("barc-slave %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting barc-slave",
		zap.String("version", version),
		zap.String("jobs_dir", cfg.jobsDir),
		zap.String("listen_addr", cfg.listenAddr),
	)

	if err := os.MkdirAll(cfg.jobsDir, 0o700); err != nil {
		return fmt.Errorf("creating jobs dir: %w", err)
	}

	registry := job.NewRegistry(cfg.jobsDir, logger, 64)
	if err := registry.Scan(); err != nil {
		logger.Warn("initial job scan reported errors", zap.Error(err))
	}
	go rescanLoop(ctx, registry, logger)

	var worker pipeline.Worker
	if cfg.archiverBin != "" {
		worker = &pipeline.CommandWorker{
			BinaryPath: cfg.archiverBin,
			BuildArgs:  buildArchiverArgs,
			Parse:      parseArchiverLine,
		}
	}

	// A slave runs every job locally — it never itself dispatches to
	// another slave pool, hence the nil *slavepool.Pool.
	jobRunner := runner.New(nil, worker, logger)

	acceptOpts := session.AcceptOptions{SupportRSA: cfg.supportRSA}
	passwordHash := ""
	if cfg.password != "" {
		passwordHash = session.HashPassword(cfg.password)
	}
	srv := controlserver.New(registry, jobRunner, passwordHash, acceptOpts, logger)
	srv.Telemetry = collectTelemetry(cfg.diskPath)

	ln, err := net.Listen("tcp", cfg.listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.listenAddr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("slave listening", zap.String("addr", cfg.listenAddr))
		serveErr <- srv.Serve(ctx, ln)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("slave server error: %w", err)
		}
	}

	logger.Info("barc-slave stopped")
	return nil
}

func rescanLoop(ctx context.Context, registry *job.Registry, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := registry.Scan(); err != nil {
				logger.Warn("periodic job scan reported errors", zap.Error(err))
			}
		}
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
