// Package main is the entry point for barcd, the backup archiver
// master daemon: it owns the job registry, the scheduler, the
// control-plane session listener, and the admin HTTP/websocket surface.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Open the archive index and build the persistence engine
//  4. Build the job registry and run its initial scan
//  5. Build the slave pool, runner, scheduler, and continuous watcher
//  6. Start the control-plane session listener
//  7. Load/generate the admin JWT signing key, configure auth, and start
//     the admin HTTP server
//  8. Block until SIGINT/SIGTERM, then shut everything down in order
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coldroot-labs/barc/internal/archiveindex"
	"github.com/coldroot-labs/barc/internal/auth"
	"github.com/coldroot-labs/barc/internal/continuouswatch"
	"github.com/coldroot-labs/barc/internal/controlserver"
	"github.com/coldroot-labs/barc/internal/httpapi"
	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/persistence"
	"github.com/coldroot-labs/barc/internal/pipeline"
	"github.com/coldroot-labs/barc/internal/runner"
	"github.com/coldroot-labs/barc/internal/scheduler"
	"github.com/coldroot-labs/barc/internal/session"
	"github.com/coldroot-labs/barc/internal/slavepool"
	"github.com/coldroot-labs/barc/internal/testhook"
	"github.com/coldroot-labs/barc/internal/wsapi"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	jobsDir      string
	dataDir      string
	controlAddr  string
	httpAddr     string
	logLevel     string
	supportRSA   bool
	password     string
	adminUser    string
	adminHash    string
	oidcIssuer   string
	oidcClient   string
	oidcSecret   string
	oidcRedirect string
	secureCookie  bool
	archiverBin   string
	migrationsDir string
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
		Use:   "barcd",
		Short: "barcd — backup archiver master daemon",
		Long: `barcd orchestrates scheduled, policy-driven backup jobs to local and
remote storage: it loads jobs from a directory of per-job config
files, decides when each one's schedules fire, dispatches execution
locally or to a slave over the session protocol, and expires old
archives per each job's persistence policy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newHashPasswordCmd())

	f := root.PersistentFlags()
	f.StringVar(&cfg.jobsDir, "jobs-dir", envOrDefault("BARC_JOBS_DIR", "./jobs"), "directory of per-job config files")
	f.StringVar(&cfg.dataDir, "data-dir", envOrDefault("BARC_DATA_DIR", "./data"), "directory for the archive index and JWT keys")
	f.StringVar(&cfg.controlAddr, "control-addr", envOrDefault("BARC_CONTROL_ADDR", ":9876"), "session-protocol listen address for slaves and interactive clients")
	f.StringVar(&cfg.httpAddr, "http-addr", envOrDefault("BARC_HTTP_ADDR", ":8080"), "admin HTTP/websocket listen address")
	f.StringVar(&cfg.logLevel, "log-level", envOrDefault("BARC_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	f.BoolVar(&cfg.supportRSA, "support-rsa", envOrDefault("BARC_SUPPORT_RSA", "true") == "true", "advertise RSA session encryption to control-plane peers")
	f.StringVar(&cfg.password, "control-password", envOrDefault("BARC_CONTROL_PASSWORD", ""), "plaintext password control-plane clients must AUTHORIZE with (empty disables auth)")
	f.StringVar(&cfg.adminUser, "admin-user", envOrDefault("BARC_ADMIN_USER", "admin"), "admin HTTP username")
	f.StringVar(&cfg.adminHash, "admin-password-hash", envOrDefault("BARC_ADMIN_PASSWORD_HASH", ""), "salt:hash (argon2id) admin HTTP password — see 'barcd hash-password'")
	f.StringVar(&cfg.oidcIssuer, "oidc-issuer", envOrDefault("BARC_OIDC_ISSUER", ""), "OIDC issuer URL (empty disables OIDC login)")
	f.StringVar(&cfg.oidcClient, "oidc-client-id", envOrDefault("BARC_OIDC_CLIENT_ID", ""), "OIDC client id")
	f.StringVar(&cfg.oidcSecret, "oidc-client-secret", envOrDefault("BARC_OIDC_CLIENT_SECRET", ""), "OIDC client secret")
	f.StringVar(&cfg.oidcRedirect, "oidc-redirect-url", envOrDefault("BARC_OIDC_REDIRECT_URL", ""), "OIDC redirect URL")
	f.BoolVar(&cfg.secureCookie, "secure-cookies", envOrDefault("BARC_SECURE_COOKIES", "false") == "true", "set Secure flag on auth cookies (enable behind HTTPS)")
	f.StringVar(&cfg.archiverBin, "archiver-binary", envOrDefault("BARC_ARCHIVER_BINARY", ""), "external archiver binary for local job execution (empty disables local execution)")
	f.StringVar(&cfg.migrationsDir, "migrations-dir", envOrDefault("BARC_MIGRATIONS_DIR", "internal/archiveindex/migrations"), "directory containing the archive index's golang-migrate migration files")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("barcd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// newHashPasswordCmd hashes a plaintext admin password into the
// salt:hash form --admin-password-hash/BARC_ADMIN_PASSWORD_HASH expects,
// so an operator never has to run Go code by hand to provision the
// admin account.
func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <plaintext>",
		Short: "hash a plaintext password for --admin-password-hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}
			fmt.Println(hash)
			return nil
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	testhook.Configure()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting barcd",
		zap.String("version", version),
		zap.String("jobs_dir", cfg.jobsDir),
		zap.String("control_addr", cfg.controlAddr),
		zap.String("http_addr", cfg.httpAddr),
	)

	if err := os.MkdirAll(cfg.dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	// --- Archive index + persistence engine ---
	idx, err := archiveindex.OpenSQLiteIndex(filepath.Join(cfg.dataDir, "archives.db"), cfg.migrationsDir)
	if err != nil {
		return fmt.Errorf("opening archive index: %w", err)
	}
	persistEngine := persistence.New(idx)

	// --- Job registry ---
	registry := job.NewRegistry(cfg.jobsDir, logger, 64)
	if err := os.MkdirAll(cfg.jobsDir, 0o700); err != nil {
		return fmt.Errorf("creating jobs dir: %w", err)
	}
	if err := registry.Scan(); err != nil {
		logger.Warn("initial job scan reported errors", zap.Error(err))
	}

	// --- Pipeline worker (nil disables local execution; slave-only deployments) ---
	var worker pipeline.Worker
	if cfg.archiverBin != "" {
		worker = &pipeline.CommandWorker{
			BinaryPath: cfg.archiverBin,
			BuildArgs:  buildArchiverArgs,
			Parse:      parseArchiverLine,
		}
	}

	// --- Slave pool + runner ---
	pool := slavepool.New(slavepool.NewNetDialer(10*time.Second), 30*time.Second, logger)
	jobRunner := runner.New(pool, worker, logger)
	jobRunner.Persistence = persistEngine

	hub := wsapi.NewHub()
	jobRunner.Publisher = wsapi.NewPublisher(hub)

	// --- Continuous watcher + scheduler ---
	watcher, err := continuouswatch.New(jobRunner, logger, 5*time.Second)
	if err != nil {
		return fmt.Errorf("creating continuous watcher: %w", err)
	}
	sched, err := scheduler.New(registry, jobRunner, watcher, logger)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	stop := make(chan struct{})
	go watcher.Run(stop)
	go hub.Run(stop)
	go rescanLoop(ctx, registry, logger)

	// --- Control-plane session listener ---
	acceptOpts := session.AcceptOptions{SupportRSA: cfg.supportRSA}
	passwordHash := ""
	if cfg.password != "" {
		passwordHash = session.HashPassword(cfg.password)
	}
	ctlSrv := controlserver.New(registry, jobRunner, passwordHash, acceptOpts, logger)

	ln, err := net.Listen("tcp", cfg.controlAddr)
	if err != nil {
		return fmt.Errorf("listening on control addr %s: %w", cfg.controlAddr, err)
	}
	go func() {
		logger.Info("control-plane listening", zap.String("addr", cfg.controlAddr))
		if err := ctlSrv.Serve(ctx, ln); err != nil {
			logger.Error("control-plane server error", zap.Error(err))
			cancel()
		}
	}()

	// --- Admin auth + HTTP server ---
	authSvc, err := buildAuthService(cfg, logger)
	if err != nil {
		return fmt.Errorf("building auth service: %w", err)
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		AuthService: authSvc,
		Registry:    registry,
		Runner:      jobRunner,
		Hub:         hub,
		SlavePool:   pool,
		Logger:      logger,
		Secure:      cfg.secureCookie,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("admin http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down barcd")
	close(stop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin http server shutdown error", zap.Error(err))
	}
	if err := sched.Stop(); err != nil {
		logger.Warn("scheduler shutdown error", zap.Error(err))
	}
	if err := watcher.Close(); err != nil {
		logger.Warn("continuous watcher shutdown error", zap.Error(err))
	}

	logger.Info("barcd stopped")
	return nil
}

// rescanLoop periodically re-scans the jobs directory for added,
// changed, or removed job files, complementing the fsnotify-driven
// continuous-watch subsystem (which only watches job *source*
// directories, not the jobs directory itself).
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

// buildAuthService wires the admin HTTP auth stack: a JWT manager
// persisted under dataDir, the single configured local admin, and an
// optional OIDC provider.
func buildAuthService(cfg *config, logger *zap.Logger) (*auth.AuthService, error) {
	jwtManager, err := buildJWTManager(cfg.dataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("building JWT manager: %w", err)
	}

	local := auth.NewLocalProvider(cfg.adminUser, cfg.adminHash)

	var oidcProvider *auth.OIDCProvider
	if cfg.oidcIssuer != "" {
		oidcProvider, err = auth.NewOIDCProvider(context.Background(), auth.OIDCConfig{
			Issuer:       cfg.oidcIssuer,
			ClientID:     cfg.oidcClient,
			ClientSecret: cfg.oidcSecret,
			RedirectURL:  cfg.oidcRedirect,
			Scopes:       []string{"openid", "email"},
			AllowedEmail: cfg.adminUser,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing OIDC provider: %w", err)
		}
	}

	return auth.NewAuthService(jwtManager, local, oidcProvider), nil
}

func buildJWTManager(dataDir string, logger *zap.Logger) (*auth.JWTManager, error) {
	privPath := filepath.Join(dataDir, "jwt_private.pem")
	pubPath := filepath.Join(dataDir, "jwt_public.pem")

	if _, err := os.Stat(privPath); err == nil {
		logger.Info("loading JWT keys from disk", zap.String("private", privPath))
		return auth.NewJWTManagerFromFiles(privPath, pubPath, "barcd")
	}

	logger.Warn("JWT key files not found — using ephemeral in-memory keys (tokens invalidate on restart)",
		zap.String("expected_private", privPath))
	return auth.NewJWTManagerGenerated("barcd")
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
