package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	tollhttp "github.com/tollgate/tollgate/internal/adapter/inbound/http"
	"github.com/tollgate/tollgate/internal/adapter/outbound/llm"
	"github.com/tollgate/tollgate/internal/adapter/outbound/memstore"
	"github.com/tollgate/tollgate/internal/adapter/outbound/notifyqueue"
	"github.com/tollgate/tollgate/internal/adapter/outbound/sqlite"
	"github.com/tollgate/tollgate/internal/adapter/outbound/webhook"
	"github.com/tollgate/tollgate/internal/config"
	"github.com/tollgate/tollgate/internal/domain/approval"
	"github.com/tollgate/tollgate/internal/domain/audit"
	"github.com/tollgate/tollgate/internal/domain/authz"
	"github.com/tollgate/tollgate/internal/domain/identity"
	"github.com/tollgate/tollgate/internal/domain/notify"
	"github.com/tollgate/tollgate/internal/domain/smartrule"
	"github.com/tollgate/tollgate/internal/service"
)

var (
	devMode  bool
	seedPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway's HTTP server",
	Long: `Serve starts the tollgate HTTP server: it opens the configured SQLite
database (or an in-memory store in --dev mode), wires the policy
evaluator, approval manager, and notifier, and listens for /authorize,
/approval-status, /approve, /deny, rule/lease CRUD, /healthz, and
/metrics requests.

Examples:
  # Start with config file settings
  tollgate serve

  # Start against an in-memory store with permissive defaults
  tollgate serve --dev

  # Seed a workspace's rules/leases on boot
  tollgate serve --seed ./seed.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (in-memory store, permissive defaults, verbose logging)")
	serveCmd.Flags().StringVar(&seedPath, "seed", "", "path to a seed.yaml pre-populating a workspace's rules and leases")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if seedPath != "" {
		cfg.SeedFile = seedPath
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	shutdownTracing, err := setupTracing(cfg, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	rulesStore, auditStore, approvalStore, identityStore, closeStore, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.SeedFile != "" {
		if err := applySeed(ctx, cfg.SeedFile, rulesStore); err != nil {
			return fmt.Errorf("apply seed file: %w", err)
		}
		logger.Info("seed file applied", "path", cfg.SeedFile)
	}

	smartEval := buildSmartRuleEvaluator(cfg, logger)

	snapshotTTL, _ := time.ParseDuration(cfg.Policy.SnapshotTTL)
	defaultOutcome := authz.DecisionAllowed
	switch cfg.Policy.DefaultDecision {
	case "deny":
		defaultOutcome = authz.DecisionDenied
	case "approval_required":
		defaultOutcome = authz.DecisionApprovalRequired
	}
	evaluator := authz.NewEvaluator(rulesStore, smartEval, logger,
		authz.WithSnapshotTTL(snapshotTTL),
		authz.WithDefaultDecision(authz.Decision{
			Outcome: defaultOutcome,
			Reason:  "configured default decision",
		}),
	)

	requestTTL, _ := time.ParseDuration(cfg.Approval.RequestTTL)
	tokenTTL, _ := time.ParseDuration(cfg.Approval.TokenTTL)
	approvals := approval.NewManager(approvalStore,
		approval.WithRequestTTL(requestTTL),
		approval.WithTokenTTL(tokenTTL),
	)

	identitySvc := identity.NewService(identityStore)
	notifier := buildNotifier(cfg, logger)

	authorizeSvc := service.NewAuthorizeService(identitySvc, evaluator, approvals, auditStore, notifier, logger)
	approvalSvc := service.NewApprovalService(approvals, auditStore, rulesStore, evaluator)

	handler := tollhttp.NewHandler(authorizeSvc, approvals, approvalSvc, rulesStore, evaluator, logger,
		tollhttp.WithBuildVersion(Version))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: handler.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("tollgate listening", "addr", cfg.Server.HTTPAddr, "dev_mode", cfg.DevMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("tollgate stopped")
	return nil
}

// storeCloser releases whatever openStores opened: the SQLite handle,
// or nothing for the in-memory stores of --dev mode.
type storeCloser func() error

func openStores(cfg *config.Config, logger *slog.Logger) (authz.Store, audit.Store, approval.Store, identity.Store, storeCloser, error) {
	if cfg.DevMode {
		logger.Warn("dev mode: using in-memory store, data will not survive a restart")
		return memstore.NewRuleStore(), memstore.NewAuditStore(), memstore.NewApprovalStore(), memstore.NewIdentityStore(),
			func() error { return nil }, nil
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("open database %q: %w", cfg.Database.Path, err)
	}
	return sqlite.NewRuleStore(db), sqlite.NewAuditStore(db), sqlite.NewApprovalStore(db), sqlite.NewIdentityStore(db),
		db.Close, nil
}

func applySeed(ctx context.Context, path string, store authz.Store) error {
	seed, err := config.LoadSeedFile(path)
	if err != nil {
		return err
	}
	return seed.Apply(ctx, store, time.Now())
}

func buildSmartRuleEvaluator(cfg *config.Config, logger *slog.Logger) *smartrule.Evaluator {
	if !cfg.SmartRule.Enabled {
		return smartrule.NewEvaluator(nil, logger)
	}

	client, err := llm.NewFromAPIKey(cfg.SmartRule.APIKey, cfg.SmartRule.Model, cfg.SmartRule.MaxTokens)
	if err != nil {
		logger.Warn("smart-rule LLM client unavailable, falling back to keyword heuristic", "error", err)
		return smartrule.NewEvaluator(nil, logger)
	}

	timeout, _ := time.ParseDuration(cfg.SmartRule.Timeout)
	return smartrule.NewEvaluator(client, logger, smartrule.WithTimeout(timeout))
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	switch cfg.Notifier.Kind {
	case "webhook":
		return webhook.New(cfg.Notifier.WebhookURL, logger)
	case "queue":
		return notifyqueue.New(notifyqueue.DefaultCapacity)
	default:
		return notify.NoopNotifier{}
	}
}

// setupTracing wires a TracerProvider exporting spans to stderr via
// stdouttrace when tracing is enabled, registering it as the global
// provider the service package's otel.Tracer(...) calls resolve against.
// When disabled, otel's default no-op provider is left in place and the
// returned shutdown func is a no-op.
func setupTracing(cfg *config.Config, logger *slog.Logger) (func(context.Context) error, error) {
	if !cfg.Server.Tracing {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("build stdout trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "exporter", "stdout")

	return tp.Shutdown, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
