// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/datapulse/orchestrator/api/openapi"
	"github.com/datapulse/orchestrator/internal/audit"
	auditmemory "github.com/datapulse/orchestrator/internal/audit/memory"
	auditpostgres "github.com/datapulse/orchestrator/internal/audit/postgres"
	"github.com/datapulse/orchestrator/internal/auth"
	"github.com/datapulse/orchestrator/internal/config"
	"github.com/datapulse/orchestrator/internal/dispatch"
	"github.com/datapulse/orchestrator/internal/incidents"
	incidentsmemory "github.com/datapulse/orchestrator/internal/incidents/memory"
	incidentspostgres "github.com/datapulse/orchestrator/internal/incidents/postgres"
	"github.com/datapulse/orchestrator/internal/notifications"
	"github.com/datapulse/orchestrator/internal/notifications/jira"
	"github.com/datapulse/orchestrator/internal/notifications/slack"
	"github.com/datapulse/orchestrator/internal/pkg/ctxlog"
	"github.com/datapulse/orchestrator/internal/pkg/httputil"
	"github.com/datapulse/orchestrator/internal/pkg/metrics"
	"github.com/datapulse/orchestrator/internal/pkg/postgres"
	"github.com/datapulse/orchestrator/internal/policy"
	"github.com/datapulse/orchestrator/internal/tasks"
	"github.com/datapulse/orchestrator/internal/version"
	"github.com/datapulse/orchestrator/internal/webhook"
	"github.com/datapulse/orchestrator/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const docsPage = `<!DOCTYPE html>
<html>
<head>
    <title>Incident Orchestrator API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	repo          incidents.Repository
	service       *incidents.Service
	runner        *tasks.Runner
	scheduler     *cron.Cron
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)
	metrics.SetBuildInfo(version.Version, version.GitCommit)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		metricsCancel: metricsCancel,
	}

	auditLog, err := app.setupStorage()
	if err != nil {
		metricsCancel()
		return nil, err
	}

	if app.db != nil {
		go app.collectDBMetrics(metricsCtx)
	}

	app.runner = tasks.NewRunner(tasks.Config{
		NumWorkers:  cfg.Tasks.NumWorkers,
		QueueSize:   cfg.Tasks.QueueSize,
		TaskTimeout: cfg.Tasks.TaskTimeout,
	})

	router, err := app.setupRouter(auditLog)
	if err != nil {
		app.closeStorage()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	if cfg.Reconcile.Enabled {
		app.scheduler = cron.New()
		if _, err := app.scheduler.AddFunc(cfg.Reconcile.Schedule, app.reconcileOpen); err != nil {
			app.closeStorage()
			metricsCancel()
			return nil, fmt.Errorf("schedule reconciliation %q: %w", cfg.Reconcile.Schedule, err)
		}
	}

	app.runner.Start()
	if app.scheduler != nil {
		app.scheduler.Start()
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) setupStorage() (audit.Repository, error) {
	cfg := a.config

	if cfg.Storage.Driver == config.StorageDriverMemory {
		a.logger.Warn("using in-memory storage: incidents and audit records are lost on restart")
		a.repo = incidentsmemory.NewRepository()
		return auditmemory.NewRepository(), nil
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(migrations.FS, cfg.Database.URL, postgres.Up); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a.db = db
	a.repo = incidentspostgres.NewRepository(db)
	return auditpostgres.NewRepository(db), nil
}

func (a *App) closeStorage() {
	if a.db != nil {
		a.db.Close()
	}
}

// Run starts the HTTP servers and blocks until the main server stops.
func (a *App) Run() error {
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"environment", a.config.Environment,
		"storage", a.config.Storage.Driver,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown stops accepting requests, lets background work finish and
// releases storage.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Shutdown(gctx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.metricsServer.Shutdown(gctx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})
	err := g.Wait()

	if a.scheduler != nil {
		select {
		case <-a.scheduler.Stop().Done():
		case <-ctx.Done():
			a.logger.Warn("reconciliation still running at shutdown deadline")
		}
	}

	// Stop after the servers so accepted requests can still schedule work.
	a.runner.Stop()

	a.closeStorage()

	return err
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Service returns the incident service. Used in tests.
func (a *App) Service() *incidents.Service {
	return a.service
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPool(a.db.Stat())

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPool(a.db.Stat())
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) reconcileOpen() {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.Reconcile.Timeout)
	defer cancel()

	start := time.Now()
	repaired, err := a.service.ReconcileOpen(ctx)
	if err != nil {
		a.logger.Error("scheduled reconciliation failed", "repaired", repaired, "error", err)
		return
	}
	a.logger.Info("scheduled reconciliation finished", "repaired", repaired, "duration", time.Since(start))
}

func (a *App) setupRouter(auditLog audit.Repository) (*chi.Mux, error) {
	cfg := a.config

	notifier, err := buildNotifier(cfg.Notifications)
	if err != nil {
		return nil, err
	}

	engine := policy.NewEngine(policy.Config{
		Enabled:      cfg.AutoApproval.Enabled,
		MaxRiskScore: cfg.AutoApproval.MaxRiskScore,
		AllowTypes:   cfg.AutoApproval.AllowTypes,
	})

	agents := dispatch.NewClient(dispatch.Config{
		AnalystURL:  cfg.Agents.AnalystURL,
		ResolverURL: cfg.Agents.ResolverURL,
		Timeout:     cfg.Agents.Timeout,
	})

	a.service = incidents.NewService(a.repo, auditLog, engine, agents, notifier, a.runner, incidents.Config{
		MaxUpdateAttempts: cfg.Incidents.MaxUpdateAttempts,
	})
	incidentsHandler := incidents.NewHandler(a.service)

	verifier, err := webhook.NewVerifier(webhook.VerifierConfig{
		SigningSecret: cfg.Webhook.SigningSecret,
		AllowInsecure: cfg.Webhook.AllowInsecure,
		Environment:   cfg.Environment,
		Tolerance:     cfg.Webhook.Tolerance,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook verifier: %w", err)
	}
	webhookHandler := webhook.NewHandler(verifier, a.service, auditLog)

	var operatorAuth, agentAuth func(http.Handler) http.Handler
	if cfg.Auth.JWTSecret != "" {
		validator, err := auth.NewTokenValidator(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
		if err != nil {
			return nil, fmt.Errorf("create token validator: %w", err)
		}
		operatorAuth = httputil.AuthMiddleware(validator)
	} else {
		a.logger.Warn("auth.jwt_secret is not set: action routes accept unauthenticated requests")
	}
	if cfg.Auth.AgentTokenHash != "" {
		checker, err := auth.NewAgentTokenChecker(cfg.Auth.AgentTokenHash)
		if err != nil {
			return nil, fmt.Errorf("create agent token checker: %w", err)
		}
		agentAuth = httputil.SharedSecretMiddleware(checker)
	}

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		_, _ = w.Write(openapi.Spec)
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(docsPage))
	})

	agentRoutes := func(r chi.Router) {
		if agentAuth != nil {
			r.Use(agentAuth)
		}
		incidentsHandler.RegisterAgentRoutes(r)
	}

	// Agents post to the root path.
	r.Group(agentRoutes)

	r.Route("/api/v1", func(r chi.Router) {
		incidentsHandler.RegisterRoutes(r)
		webhookHandler.RegisterRoutes(r)

		r.Group(agentRoutes)

		r.Group(func(r chi.Router) {
			if operatorAuth != nil {
				r.Use(operatorAuth)
			}
			incidentsHandler.RegisterOperatorRoutes(r)
		})
	})

	return r, nil
}

// buildNotifier returns nil when no channel is configured so incident
// handling skips notification work entirely.
func buildNotifier(cfg config.NotificationsConfig) (incidents.Notifier, error) {
	if !cfg.Enabled {
		slog.Info("notifications disabled")
		return nil, nil
	}

	var senders []notifications.Sender
	if cfg.Slack.Configured() {
		senders = append(senders, slack.NewSender(slack.Config{
			WebhookURL:    cfg.Slack.WebhookURL,
			BotToken:      cfg.Slack.BotToken,
			Channel:       cfg.Slack.Channel,
			RatePerSecond: cfg.Slack.RatePerSecond,
			Burst:         cfg.Slack.Burst,
		}))
	}

	var tickets notifications.TicketCreator
	if cfg.Jira.Configured() {
		tickets = jira.NewClient(jira.Config{
			BaseURL:    cfg.Jira.BaseURL,
			Email:      cfg.Jira.Email,
			APIToken:   cfg.Jira.APIToken,
			ProjectKey: cfg.Jira.ProjectKey,
			IssueType:  cfg.Jira.IssueType,
		})
	}

	slog.Info("notifications configured",
		"slack_enabled", cfg.Slack.Configured(),
		"jira_enabled", cfg.Jira.Configured(),
	)

	if len(senders) == 0 && tickets == nil {
		return nil, nil
	}

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	return notifications.NewDispatcher(renderer, notifications.RetryConfig{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}, tickets, senders...), nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.repo.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Info())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
