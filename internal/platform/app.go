package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/riverly-dev/riverly/internal/mcp/platformserver"
	"github.com/riverly-dev/riverly/internal/platform/api"
	v0 "github.com/riverly-dev/riverly/internal/platform/api/handlers/v0"
	"github.com/riverly-dev/riverly/internal/platform/api/router"
	"github.com/riverly-dev/riverly/internal/platform/cloudbuild"
	"github.com/riverly-dev/riverly/internal/platform/config"
	internaldb "github.com/riverly-dev/riverly/internal/platform/database"
	"github.com/riverly-dev/riverly/internal/platform/github"
	"github.com/riverly-dev/riverly/internal/platform/ratelimit"
	"github.com/riverly-dev/riverly/internal/platform/reconcile"
	"github.com/riverly-dev/riverly/internal/platform/service"
	"github.com/riverly-dev/riverly/internal/platform/telemetry"
	"github.com/riverly-dev/riverly/internal/version"
	"github.com/riverly-dev/riverly/pkg/platform/auth"
	"github.com/riverly-dev/riverly/pkg/platform/database"
	"github.com/riverly-dev/riverly/pkg/types"
)

// NewLogger returns the JSON logger used by the server and CLI.
func NewLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})).With("service", "riverly")
}

// OpenDatabase connects to the database selected by cfg, applying
// migrations for PostgreSQL.
func OpenDatabase(ctx context.Context, cfg *config.Config, factory types.DatabaseFactory, log *slog.Logger) (database.Database, error) {
	if factory != nil {
		return factory(ctx, cfg.DatabaseURL)
	}
	if cfg.UsesMemoryDatabase() {
		log.Warn("using in-memory database, records are lost on exit")
		return internaldb.NewMemoryDB(), nil
	}
	db, err := internaldb.NewPostgreSQL(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, nil
}

// NewLimiter returns the Redis limiter when REDIS_ADDR is set and the
// in-process limiter otherwise.
func NewLimiter(ctx context.Context, cfg *config.Config, log *slog.Logger) ratelimit.Limiter {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemory(cfg.DeployRateLimit, cfg.DeployRateWindow)
	}
	limiter, err := ratelimit.NewRedis(ctx, ratelimit.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, cfg.DeployRateLimit, cfg.DeployRateWindow, log)
	if err != nil {
		log.Warn("redis unavailable, falling back to in-process rate limiting", "addr", cfg.RedisAddr, "error", err)
		return ratelimit.NewMemory(cfg.DeployRateLimit, cfg.DeployRateWindow)
	}
	return limiter
}

// NewSubmitter builds the Cloud Build client. Dry-run mode needs neither
// Google credentials nor a GitHub App key.
func NewSubmitter(ctx context.Context, cfg *config.Config, log *slog.Logger) (*cloudbuild.Client, error) {
	opts := cloudbuild.Options{
		ProjectID:        cfg.Build.ProjectID,
		Region:           cfg.Build.Region,
		APIURL:           cfg.Build.APIURL,
		ServiceAccount:   cfg.Build.ServiceAccount,
		DryRun:           cfg.Build.DryRun,
		ProjectNamespace: cfg.Build.Namespace(),
	}
	if opts.ProjectID == "" {
		opts.ProjectID = "riverly-dry-run"
	}
	if cfg.Build.DryRun {
		return cloudbuild.NewClient(opts, nil, nil, nil, log), nil
	}

	var issuerOpts []github.IssuerOption
	if cfg.GitHub.APIURL != "" {
		base, err := github.ParseBaseURL(cfg.GitHub.APIURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GITHUB_API_URL: %w", err)
		}
		issuerOpts = append(issuerOpts, github.WithBaseURL(base))
	}
	tokens, err := github.NewTokenIssuer(cfg.GitHub.AppID, []byte(cfg.GitHub.PrivateKey), issuerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load GitHub App key: %w", err)
	}

	clientOpts, err := cloudbuild.DefaultClientOptions(ctx)
	if err != nil {
		return nil, err
	}
	builds, err := cloudbuild.NewBuildsClient(ctx, cfg.Build.APIURL, clientOpts...)
	if err != nil {
		return nil, err
	}
	secrets, err := cloudbuild.NewSecretManagerStore(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		_ = builds.Close()
		return nil, err
	}
	return cloudbuild.NewClient(opts, builds, secrets, tokens, log), nil
}

func App(_ context.Context, opts ...types.AppOptions) error {
	var options types.AppOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	cfg := config.NewConfig()
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	log := NewLogger(cfg)
	slog.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := OpenDatabase(ctx, cfg, options.DatabaseFactory, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("error closing database connection", "error", err)
		} else {
			log.Info("database connection closed")
		}
	}()

	log.Info("starting riverly", "version", version.Version, "commit", version.GitCommit)

	shutdownTelemetry, metrics, err := telemetry.InitMetrics(cfg.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Error("failed to shutdown telemetry", "error", err)
		}
	}()

	submitter := options.Submitter
	if submitter == nil {
		client, err := NewSubmitter(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		if client.DryRun() {
			log.Warn("build dry run enabled, jobs are composed but never submitted")
		}
		submitter = client
	}

	limiter := NewLimiter(ctx, cfg, log)
	defer func() { _ = limiter.Close() }()

	deployments := service.NewDeploymentService(service.Options{
		DB:           db,
		Resolver:     github.NewResolver(db),
		Submitter:    submitter,
		Limiter:      limiter,
		Metrics:      metrics,
		Log:          log,
		DefaultAppID: cfg.GitHub.AppID,
	})
	if options.OnServiceCreated != nil {
		options.OnServiceCreated(deployments)
	}

	authnProvider := options.AuthnProvider
	if authnProvider == nil && cfg.JWTPrivateKey != "" {
		jwtManager, err := auth.NewJWTManager(cfg.JWTPrivateKey, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("invalid JWT_PRIVATE_KEY: %w", err)
		}
		authnProvider = jwtManager
	}
	if authnProvider == nil {
		log.Warn("no authentication configured, deployment endpoints will reject every request")
	}

	server := api.NewServer(cfg.ServerAddress, router.Dependencies{
		Deployments: deployments,
		Events:      reconcile.New(db, metrics, log),
		Database:    db,
		Webhook:     auth.BasicCredentials{Username: cfg.WebhookUsername, Password: cfg.WebhookPassword},
		Metrics:     metrics,
		VersionInfo: &v0.VersionBody{
			Version:   version.Version,
			GitCommit: version.GitCommit,
			BuildTime: version.BuildDate,
		},
	}, authnProvider, log)
	if options.OnHTTPServerCreated != nil {
		options.OnHTTPServerCreated(server)
	}

	var mcpHTTPServer *http.Server
	if cfg.MCPPort > 0 {
		mcpServer := platformserver.NewServer(deployments)

		var handler http.Handler = mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
			return mcpServer
		}, &mcp.StreamableHTTPOptions{})

		if authnProvider != nil {
			handler = mcpAuthnMiddleware(authnProvider)(handler)
		}

		addr := ":" + strconv.Itoa(int(cfg.MCPPort))
		mcpHTTPServer = &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Info("MCP HTTP server starting", "addr", addr)
			if err := mcpHTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("failed to start MCP server", "error", err)
				os.Exit(1)
			}
		}()
	}

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()

	if err := server.Shutdown(sctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if mcpHTTPServer != nil {
		if err := mcpHTTPServer.Shutdown(sctx); err != nil {
			log.Error("MCP server forced to shutdown", "error", err)
		}
	}

	log.Info("server exiting")
	return nil
}

// mcpAuthnMiddleware authenticates MCP requests and stores the session in
// the request context for the tools to scope their queries.
func mcpAuthnMiddleware(authn auth.AuthnProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			session, err := authn.Authenticate(ctx, r.Header.Get, r.URL.Query())
			if err == nil && session != nil {
				r = r.WithContext(auth.AuthSessionTo(ctx, session))
			}
			next.ServeHTTP(w, r)
		})
	}
}
