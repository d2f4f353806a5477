package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hrpay/internal/domain/attendance"
	"hrpay/internal/domain/audit"
	"hrpay/internal/domain/auth"
	"hrpay/internal/domain/directory"
	"hrpay/internal/domain/entitlement"
	"hrpay/internal/domain/leave"
	"hrpay/internal/domain/ledger"
	"hrpay/internal/domain/payroll"
	"hrpay/internal/domain/reports"
	"hrpay/internal/domain/workflow"
	"hrpay/internal/platform/config"
	"hrpay/internal/platform/crypto"
	"hrpay/internal/platform/db"
	"hrpay/internal/platform/events"
	"hrpay/internal/platform/jobs"
	"hrpay/internal/platform/lock"
	"hrpay/internal/platform/logging"
	"hrpay/internal/platform/metrics"
	"hrpay/internal/transport/http/api"
	audithandler "hrpay/internal/transport/http/handlers/audit"
	entitlementhandler "hrpay/internal/transport/http/handlers/entitlement"
	jobshandler "hrpay/internal/transport/http/handlers/jobs"
	leavehandler "hrpay/internal/transport/http/handlers/leave"
	ledgerhandler "hrpay/internal/transport/http/handlers/ledger"
	payrollhandler "hrpay/internal/transport/http/handlers/payroll"
	reportshandler "hrpay/internal/transport/http/handlers/reports"
	workflowhandler "hrpay/internal/transport/http/handlers/workflow"
	"hrpay/internal/transport/http/middleware"
)

// AuditLog is both the audit sink and its query side.
type AuditLog interface {
	audit.Recorder
	audithandler.Lister
}

// Directory serves employee lookups and the role hierarchy used for
// workflow escalation.
type Directory interface {
	payroll.Employees
	workflow.Hierarchy
}

// Backends are the storage and infrastructure pieces the services run on.
// Postgres, Redis and Kafka in production; in-memory stand-ins in tests.
type Backends struct {
	Ledger      ledger.Store
	Entitlement entitlement.Store
	Leave       leave.Store
	Payroll     payroll.Store
	Workflow    workflow.Store
	Jobs        jobs.Store
	Audit       AuditLog
	Idempotency middleware.IdempotencyStore
	Directory   Directory
	Time        payroll.TimeSource
	Reports     reports.Source
	Locker      lock.Locker
	Publisher   events.Publisher
	// Ready reports whether the backends can serve traffic.
	Ready func(ctx context.Context) error
}

type Services struct {
	Ledger      *ledger.Service
	Entitlement *entitlement.Engine
	Leave       *leave.Service
	Payroll     *payroll.Service
	Workflow    *workflow.Engine
	Reports     *reports.Service
	Runner      *jobs.Runner
	Metrics     *metrics.Collector
	Perms       middleware.PermissionChecker
}

// Wire builds the domain services over b.
func Wire(cfg config.Config, b Backends, collector *metrics.Collector) (Services, error) {
	rbac, err := auth.NewRBAC()
	if err != nil {
		return Services{}, err
	}
	publisher := b.Publisher
	if publisher == nil {
		publisher = events.Noop{}
	}
	locker := b.Locker
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}

	runner := jobs.NewRunner(b.Jobs)
	runner.OnDone = func(run jobs.Run) {
		collector.JobRun(run.Summary.Failed)
	}

	ledgerSvc := ledger.NewService(b.Ledger,
		ledger.WithLocker(locker),
		ledger.WithPublisher(publisher),
		ledger.WithMetrics(collector),
		ledger.WithMaxRetries(cfg.LedgerMaxRetries),
	)
	workflowEngine := workflow.NewEngine(b.Workflow, b.Directory, b.Audit, publisher)
	entitlementEngine := entitlement.NewEngine(b.Entitlement, b.Directory, ledgerSvc, runner, publisher)
	leaveSvc := leave.NewService(b.Leave, ledgerSvc, entitlementEngine, b.Directory, workflowEngine, b.Audit, publisher)
	payrollSvc := payroll.NewService(b.Payroll, payroll.Sources{
		Employees: b.Directory,
		Time:      b.Time,
		Leave:     leaveSvc,
		Ledger:    ledgerSvc,
	}, workflowEngine, runner, b.Audit, publisher)

	return Services{
		Ledger:      ledgerSvc,
		Entitlement: entitlementEngine,
		Leave:       leaveSvc,
		Payroll:     payrollSvc,
		Workflow:    workflowEngine,
		Reports:     reports.NewService(b.Reports),
		Runner:      runner,
		Metrics:     collector,
		Perms:       rbac,
	}, nil
}

// NewRouter mounts the API and the operational endpoints.
func NewRouter(cfg config.Config, b Backends, svc Services) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(svc.Metrics))
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.IsProduction()))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader, middleware.IdempotencyKeyHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if b.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := b.Ready(ctx); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Use(middleware.RateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		r.Use(middleware.BatchRateLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
		if b.Idempotency != nil {
			r.Use(middleware.Idempotency(b.Idempotency))
		}

		r.With(middleware.RequirePermission(auth.PermJobsRead, svc.Perms)).Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, svc.Metrics.Snapshot(), middleware.GetRequestID(r.Context()))
		})

		ledgerhandler.NewHandler(svc.Ledger, svc.Perms).RegisterRoutes(r)
		entitlementhandler.NewHandler(svc.Entitlement, svc.Perms).RegisterRoutes(r)
		leavehandler.NewHandler(svc.Leave, svc.Perms).RegisterRoutes(r)
		payrollhandler.NewHandler(svc.Payroll, svc.Perms).RegisterRoutes(r)
		workflowhandler.NewHandler(svc.Workflow, svc.Perms).
			WithResolver(workflow.EntityPayrollRun, svc.Payroll.ApprovalKey).
			RegisterRoutes(r)
		jobshandler.NewHandler(svc.Entitlement, b.Jobs, svc.Perms).RegisterRoutes(r)
		audithandler.NewHandler(b.Audit, svc.Perms).RegisterRoutes(r)
		reportshandler.NewHandler(svc.Reports, svc.Perms).RegisterRoutes(r)
	})

	return router
}

type App struct {
	Config   config.Config
	DB       *db.Pool
	Router   http.Handler
	Services Services
	closers  []func() error
}

// New connects to Postgres and the optional Redis and Kafka backends, runs
// migrations and seed data as configured, and builds the router.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	app := &App{Config: cfg, DB: pool}
	app.closers = append(app.closers, func() error { pool.Close(); return nil })

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, cfg.MigrationsDir); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}
	if cfg.RunSeed {
		if err := db.Seed(ctx, pool); err != nil {
			_ = app.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	cipher, err := crypto.NewFieldCipher(cfg.DataEncryptionKey)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	directoryStore := directory.NewStore(pool, cipher)
	backends := Backends{
		Ledger:      ledger.NewPgStore(pool),
		Entitlement: entitlement.NewPgStore(pool),
		Leave:       leave.NewPgStore(pool),
		Payroll:     payroll.NewPgStore(pool),
		Workflow:    workflow.NewPgStore(pool),
		Jobs:        jobs.NewPgStore(pool),
		Audit:       audit.New(pool),
		Idempotency: &middleware.PgIdempotencyStore{DB: pool},
		Directory:   directoryStore,
		Time:        attendance.NewStore(pool),
		Reports:     reports.NewStore(pool),
		Locker:      lock.NewKeyedMutex(),
		Publisher:   events.Noop{},
		Ready:       pool.Ping,
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = app.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		app.closers = append(app.closers, rdb.Close)
		backends.Locker = lock.NewRedisLocker(rdb, cfg.LedgerLockTTL)
		zap.L().Info("ledger locks backed by redis", zap.String("addr", cfg.RedisAddr))
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		app.closers = append(app.closers, publisher.Close)
		backends.Publisher = publisher
		zap.L().Info("domain events published to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	svc, err := Wire(cfg, backends, metrics.New())
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Services = svc
	app.Router = NewRouter(cfg, backends, svc)
	return app, nil
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func Run() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, cfg)
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("hrpay server listening", zap.String("addr", cfg.Addr), zap.String("env", cfg.Environment))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
		}
	}
}
