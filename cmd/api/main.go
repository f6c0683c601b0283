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

	"github.com/bazaarly/api/internal/di"
	"github.com/bazaarly/api/internal/handlers"
	"github.com/bazaarly/api/internal/payments"
	"github.com/bazaarly/api/internal/platform/auth"
	"github.com/bazaarly/api/internal/platform/config"
	pfirestore "github.com/bazaarly/api/internal/platform/firestore"
	"github.com/bazaarly/api/internal/platform/idempotency"
	"github.com/bazaarly/api/internal/platform/jobs"
	"github.com/bazaarly/api/internal/platform/observability"
	"github.com/bazaarly/api/internal/platform/secrets"
	platformstorage "github.com/bazaarly/api/internal/platform/storage"
	"github.com/bazaarly/api/internal/repositories"
	firestoreRepo "github.com/bazaarly/api/internal/repositories/firestore"
	"github.com/bazaarly/api/internal/repositories/memory"
	"github.com/bazaarly/api/internal/repositories/postgres"
	"github.com/bazaarly/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

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
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	store, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise storage backend", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	store.checks = append(store.checks, secretManagerCheck(fetcher))

	defaults, err := config.LoadPlatformDefaults(cfg.Platform.DefaultsFile)
	if err != nil {
		logger.Fatal("failed to load platform defaults", zap.Error(err))
	}

	infra := di.Infrastructure{
		Logger:       logger,
		HealthChecks: store.checks,
		Build:        buildInfo,
		Defaults:     defaults,
		Clock:        time.Now,
	}

	paymentsLogger := payments.Logger(observability.NewEventLogger(logger, "psp"))
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) != "" {
		card, err := payments.NewStripeCardProcessor(payments.StripeConfig{
			APIKey:        cfg.PSP.StripeAPIKey,
			WebhookSecret: cfg.PSP.StripeWebhookSecret,
			Logger:        paymentsLogger,
			Clock:         time.Now,
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe processor", zap.Error(err))
		}
		infra.Card = card
	} else {
		logger.Warn("stripe api key not configured; card payments disabled")
	}
	if strings.TrimSpace(cfg.PSP.GatewayKeyID) != "" {
		gateway, err := payments.NewRazorpayGateway(payments.RazorpayConfig{
			KeyID:         cfg.PSP.GatewayKeyID,
			KeySecret:     cfg.PSP.GatewayKeySecret,
			WebhookSecret: cfg.PSP.GatewayWebhookSecret,
			Logger:        paymentsLogger,
			Clock:         time.Now,
		})
		if err != nil {
			logger.Fatal("failed to initialise gateway processor", zap.Error(err))
		}
		infra.Gateway = gateway
	} else {
		logger.Warn("gateway credentials not configured; gateway payments disabled")
	}

	var publisher *jobs.PubSubNotificationPublisher
	if topic := strings.TrimSpace(cfg.Notifications.Topic); topic != "" && cfg.Notifications.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err = jobs.NewPubSubNotificationPublisher(pubsubClient.Topic(topic))
		if err != nil {
			logger.Fatal("failed to initialise notification publisher", zap.Error(err))
		}
		infra.Publisher = publisher
	}

	var receipts *platformstorage.ReceiptArchive
	if bucket := strings.TrimSpace(cfg.Storage.ReceiptsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		receipts, err = newReceiptArchive(ctx, storageClient, bucket, cfg.Storage.SignerEmail)
		if err != nil {
			logger.Fatal("failed to initialise receipt archive", zap.Error(err))
		}
		infra.Receipts = receipts
	}

	container, err := di.NewContainer(ctx, cfg, store.registry, infra)
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	svc := container.Services

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyMiddleware := idempotency.Middleware(
		store.idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(idempotency.EventLogger(observability.NewEventLogger(logger, "idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunCleanup(cleanupCtx, store.idempotency, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize,
			idempotency.EventLogger(observability.NewEventLogger(logger, "idempotency")))
	}()

	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Payments, idempotencyMiddleware)
	walletHandlers := handlers.NewWalletHandlers(authenticator, svc.Wallets)
	var linker handlers.ReceiptLinker
	if receipts != nil {
		linker = receipts
	}
	vendorHandlers := handlers.NewVendorHandlers(authenticator, svc.Payouts, linker, idempotencyMiddleware)
	adminHandlers := handlers.NewAdminHandlers(authenticator, handlers.AdminServices{
		Orders:   svc.Orders,
		Payments: svc.Payments,
		Payouts:  svc.Payouts,
		Settings: svc.Settings,
		Coupons:  svc.Coupons,
		Wallets:  svc.Wallets,
	}, idempotencyMiddleware)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments)
	internalHandlers := handlers.NewInternalHandlers(svc.Wallets)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithMeRoutes(walletHandlers.Routes),
		handlers.WithVendorRoutes(vendorHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("backend", cfg.Storage.Backend))
	go func() {
		serverLogger.Info("bazaarly api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
	publisher.Stop()
}

// backend groups the registry with the collaborators that share its connection.
type backend struct {
	registry    repositories.Registry
	idempotency idempotency.Store
	checks      []repositories.DependencyCheck
}

func openBackend(ctx context.Context, cfg config.Config) (backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return backend{}, err
		}
		reg, err := postgres.NewRegistry(pool)
		if err != nil {
			pool.Close()
			return backend{}, err
		}
		return backend{
			registry:    reg,
			idempotency: idempotency.NewPostgresStore(pool),
			checks: []repositories.DependencyCheck{
				{Name: "postgres", Timeout: 1500 * time.Millisecond, Check: reg.Ping},
			},
		}, nil
	case config.BackendMemory:
		return backend{
			registry:    memory.NewStore(),
			idempotency: idempotency.NewMemoryStore(),
			checks: []repositories.DependencyCheck{
				{Name: "memory", Check: func(context.Context) error { return nil }},
			},
		}, nil
	default:
		provider := pfirestore.NewProvider(cfg.Firestore)
		client, err := provider.Client(ctx)
		if err != nil {
			return backend{}, err
		}
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			return backend{}, err
		}
		return backend{
			registry:    reg,
			idempotency: idempotency.NewFirestoreStore(client),
			checks: []repositories.DependencyCheck{
				{Name: "firestore", Timeout: 1500 * time.Millisecond, Check: provider.Ping},
			},
		}, nil
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

func newReceiptArchive(ctx context.Context, client *cloudstorage.Client, bucket, signerEmail string) (*platformstorage.ReceiptArchive, error) {
	writer, err := platformstorage.NewGCSWriter(client)
	if err != nil {
		return nil, err
	}
	var opts []platformstorage.ReceiptArchiveOption
	if email := strings.TrimSpace(signerEmail); email != "" {
		signer, err := platformstorage.NewIAMSigner(ctx, email)
		if err != nil {
			return nil, err
		}
		urls, err := platformstorage.NewClient(signer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, platformstorage.WithURLSigner(urls))
	}
	return platformstorage.NewReceiptArchive(writer, bucket, opts...)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		Environment: environment,
		Backend:     cfg.Storage.Backend,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(cache, auth.EventLogger(observability.NewEventLogger(logger, "oidc")))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers, cfg.Security.OIDC.AllowedEmails...)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve for the configured rails and backend.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	}
	if strings.TrimSpace(env["API_PSP_GATEWAY_KEY_ID"]) != "" {
		required = append(required, "PSP.GatewayKeySecret")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_STORAGE_BACKEND"]), config.BackendPostgres) {
		required = append(required, "Postgres.DSN")
	}
	return required
}
