package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"finitefield.org/usermapping/internal/di"
	"finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/handlers"
	"finitefield.org/usermapping/internal/platform/auth"
	"finitefield.org/usermapping/internal/platform/config"
	"finitefield.org/usermapping/internal/platform/events"
	"finitefield.org/usermapping/internal/platform/idempotency"
	"finitefield.org/usermapping/internal/platform/observability"
	"finitefield.org/usermapping/internal/platform/profiles"
	"finitefield.org/usermapping/internal/platform/secrets"
	"finitefield.org/usermapping/internal/platform/spreadsheet"
	"finitefield.org/usermapping/internal/platform/sqldb"
	platformstorage "finitefield.org/usermapping/internal/platform/storage"
	"finitefield.org/usermapping/internal/repositories"
	"finitefield.org/usermapping/internal/repositories/sqlstore"
	"finitefield.org/usermapping/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := services.BuildInfo{
		Version:     cfg.Build.Version,
		CommitSHA:   cfg.Build.CommitSHA,
		Environment: cfg.Security.Environment,
		StartedAt:   startedAt,
	}
	if buildInfo.CommitSHA == "" {
		buildInfo.CommitSHA = "unknown"
	}

	db, err := sqldb.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err), zap.String("kind", cfg.Database.Kind))
	}
	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
	}
	store, err := sqlstore.New(db)
	if err != nil {
		logger.Fatal("failed to initialise sql store", zap.Error(err))
	}

	healthChecks := []repositories.DependencyCheck{{
		Name:     "database",
		Critical: true,
		Check:    store.Ping,
	}}
	healthChecks = append(healthChecks, secretManagerCheck(fetcher))

	archive, closeStorage := newExportArchive(ctx, logger, cfg)
	defer closeStorage()
	var archiver services.ExportArchiver
	if archive != nil {
		archiver = archive
		healthChecks = append(healthChecks, repositories.DependencyCheck{Name: "exportsBucket", Check: archive.Check})
	}

	publisher, closePubSub := newExportPublisher(ctx, logger, cfg)
	defer closePubSub()
	var exportPublisher services.ExportPublisher
	if publisher != nil {
		exportPublisher = publisher
		healthChecks = append(healthChecks, repositories.DependencyCheck{Name: "pubsub", Check: publisher.Check})
	}

	container, err := di.NewContainer(ctx, cfg, store, di.Infrastructure{
		Sources:      newProfileSources(logger, cfg),
		Renderer:     spreadsheet.NewRenderer(),
		Archive:      archiver,
		Publisher:    exportPublisher,
		HealthChecks: healthChecks,
		Build:        buildInfo,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	if cfg.Ingestion.OnStartup {
		runStartupIngestion(ctx, logger.Named("ingestion"), container.Services.Ingestion, cfg.Ingestion.Timeout)
	}

	idempotencyStore := idempotency.NewSQLStore(db)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunJanitor(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	internalMiddlewares := []func(http.Handler) http.Handler{
		buildOIDCMiddleware(logger.Named("auth"), cfg),
		handlers.RateLimitMiddleware(cfg.RateLimits.InternalPerMinute, time.Minute, time.Now),
	}

	svc := container.Services
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRegistryRoutes(handlers.NewRegistryHandlers(svc.Registry).Routes),
		handlers.WithMappingRoutes(handlers.NewMappingHandlers(svc.Mappings).Routes),
		handlers.WithExportRoutes(handlers.NewExportHandlers(svc.Mappings, svc.Exports).Routes),
		handlers.WithDocsRoutes(handlers.NewDocsHandlers(buildInfo.Version).Routes),
		handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Ingestion, svc.Exports,
			handlers.WithPublishMiddlewares(idempotencyMiddleware),
		).Routes),
		handlers.WithInternalMiddlewares(internalMiddlewares...),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("user mapping api listening", zap.String("database", cfg.Database.Kind))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func runStartupIngestion(ctx context.Context, logger *zap.Logger, svc services.IngestionService, timeout time.Duration) {
	if svc == nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	run, err := svc.Ingest(runCtx, services.IngestCommand{})
	switch {
	case errors.Is(err, services.ErrIngestionUnavailable):
		logger.Info("startup ingestion skipped; no profile sources configured")
	case err != nil:
		logger.Error("startup ingestion failed", zap.Error(err), zap.String("runId", run.ID))
	default:
		for _, side := range run.Sides {
			logger.Info("startup ingestion completed",
				zap.String("runId", run.ID),
				zap.String("side", string(side.Side)),
				zap.Int("fieldsInserted", side.FieldsInserted),
				zap.Int("optionsInserted", side.OptionsInserted),
				zap.String("error", side.Error),
			)
		}
	}
}

func newProfileSources(logger *zap.Logger, cfg config.Config) []services.ProfileSource {
	endpoints := []struct {
		side     domain.Side
		endpoint config.ProfileEndpoint
	}{
		{domain.SideSource, cfg.Ingestion.Source},
		{domain.SideTarget, cfg.Ingestion.Target},
	}
	var sources []services.ProfileSource
	for _, e := range endpoints {
		if !e.endpoint.Configured() {
			continue
		}
		client, err := profiles.NewClient(e.side, e.endpoint,
			profiles.WithTimeout(cfg.Ingestion.Timeout),
			profiles.WithMaxPages(cfg.Ingestion.MaxPages),
		)
		if err != nil {
			logger.Warn("profile source disabled", zap.String("side", string(e.side)), zap.Error(err))
			continue
		}
		sources = append(sources, client)
	}
	return sources
}

func newExportArchive(ctx context.Context, logger *zap.Logger, cfg config.Config) (*platformstorage.ExportArchive, func()) {
	noop := func() {}
	if strings.TrimSpace(cfg.Storage.ExportsBucket) == "" {
		return nil, noop
	}
	client, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}

	var opts []platformstorage.ArchiveOption
	if keyFile := strings.TrimSpace(cfg.Storage.SignerKeyFile); keyFile != "" {
		signer, err := platformstorage.NewServiceAccountSignerFromFile(keyFile)
		if err != nil {
			logger.Fatal("failed to parse storage signer key", zap.Error(err))
		}
		opts = append(opts, platformstorage.WithDownloadSigner(signer, cfg.Storage.DownloadURLTTL))
	}

	archive, err := platformstorage.NewExportArchive(client, cfg.Storage.ExportsBucket, cfg.Storage.ExportsPrefix, opts...)
	if err != nil {
		logger.Fatal("failed to initialise export archive", zap.Error(err))
	}
	return archive, closeFn
}

func newExportPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (*events.PubSubExportPublisher, func()) {
	noop := func() {}
	if strings.TrimSpace(cfg.PubSub.ExportTopic) == "" {
		return nil, noop
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	publisher, err := events.NewPubSubExportPublisher(client.Topic(cfg.PubSub.ExportTopic))
	if err != nil {
		logger.Fatal("failed to initialise export publisher", zap.Error(err))
	}
	return publisher, func() {
		publisher.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const secretHealthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	validator := auth.NewOIDCValidator(cache, []string{audience}, cfg.Security.OIDC.Issuers, auth.WithOIDCLogger(adapter))
	return validator.RequireOIDC()
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = strings.ToLower(lookup("API_ENVIRONMENT"))
	}
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_PUBSUB_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if raw := lookup("API_SECRET_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse API_SECRET_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}

	var clientOpts []option.ClientOption
	if credentialsFile := lookup("API_SECRET_CREDENTIALS_FILE"); credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	return secrets.NewFetcher(ctx, opts, clientOpts...)
}

// requiredSecretNames marks the token of every side whose URL is configured as mandatory.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	for _, side := range []struct{ prefix, name string }{
		{"SRC", "Ingestion.Source.Token"},
		{"TRG", "Ingestion.Target.Token"},
	} {
		url := strings.TrimSpace(env["API_INGEST_"+side.prefix+"_URL"])
		if url == "" {
			url = strings.TrimSpace(env[side.prefix+"_URL"])
		}
		if url != "" {
			required = append(required, side.name)
		}
	}
	return required
}
