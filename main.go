package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/config"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/crypto"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/database"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/extract"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/handlers"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/jira"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/logging"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/middleware"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/queue"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/repositories"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/services"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/status"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/transform"
	"github.com/gustavoquinelato-wexinc/health-pulse-engine/pkg/workers"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Connecting to database",
		zap.String("url", logging.SanitizeConnectionString(cfg.Database.URL())))
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Migrations run through database/sql (required by golang-migrate).
	sqlDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(sqlDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = sqlDB.Close()

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Fatal("Failed to create credential encryptor", zap.Error(err))
	}

	manager, err := queue.NewManager(cfg.NATS.URL, cfg.NATS.PublishRetries, logger)
	if err != nil {
		logger.Fatal("Failed to connect to broker", zap.Error(err))
	}
	defer manager.Close()

	if err := manager.SetupQueues(ctx); err != nil {
		logger.Fatal("Failed to set up queues", zap.Error(err))
	}

	// Repositories
	tenants := repositories.NewTenantRepository()
	integrations := repositories.NewIntegrationRepository()
	schedules := repositories.NewJobScheduleRepository()
	rawData := repositories.NewRawDataRepository()
	reference := repositories.NewReferenceRepository()
	workItems := repositories.NewWorkItemRepository()
	changelogs := repositories.NewChangelogRepository()
	sprints := repositories.NewSprintRepository()
	prLinks := repositories.NewPrLinkRepository()
	failures := repositories.NewFailureRepository()

	scopes := database.NewTenantScopeProvider(db)
	router := queue.NewRouter(manager, tenants)

	// Status document plumbing
	broadcaster := status.NewBroadcaster(cfg.StatusSocketURL, logger)
	go broadcaster.Start(ctx)
	statusSvc := services.NewStatusService(logger, schedules, broadcaster)

	// Extraction
	clients := extract.NewClientFactory(encryptor, jira.Config{
		RequestTimeout: cfg.Provider.RequestTimeout,
		FetchTimeout:   cfg.Provider.FetchTimeout,
		PageSize:       cfg.Provider.PageSize,
		MaxRetries:     cfg.Provider.MaxRetries,
	}, logger)
	referenceExtractor := extract.NewReferenceExtractor(logger, clients, rawData, router)
	issueExtractor := extract.NewIssueExtractor(logger, clients, rawData, reference, router)
	devStatusExtractor := extract.NewDevStatusExtractor(logger, clients, rawData, router)

	syncSvc := services.NewSyncService(logger, schedules, integrations,
		referenceExtractor, issueExtractor, devStatusExtractor, statusSvc)

	// Transform
	dispatcher := transform.NewDispatcher(logger, router, rawData,
		transform.NewReferenceTransformer(logger, reference, statusSvc),
		transform.NewIssueTransformer(logger, reference, workItems, changelogs, sprints),
		transform.NewDevStatusTransformer(logger, workItems, prLinks))

	// Worker pools with the shared retry middleware
	retryMw := workers.NewRetryMiddleware(logger, router, failures, schedules, cfg.Pipeline.MaxMessageRetries)

	extractionHandler := retryMw.Wrap(queue.StepExtraction, func(ctx context.Context, msg *queue.Message) error {
		_, err := syncSvc.RunSync(ctx, &services.SyncRequest{
			JobScheduleID: msg.JobID,
			Mode:          services.ModeForJobName(msg.Type),
		})
		return err
	})
	transformHandler := retryMw.Wrap(queue.StepTransform, dispatcher.Handle)

	pools := workers.StartPools(ctx, logger, manager, scopes, queue.StepExtraction, extractionHandler)
	pools = append(pools, workers.StartPools(ctx, logger, manager, scopes, queue.StepTransform, transformHandler)...)

	scheduler := services.NewScheduler(logger, db, tenants, schedules, router, cfg.Pipeline.SchedulerInterval)
	scheduler.Start(ctx)

	// HTTP control plane
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, broadcaster, logger).RegisterRoutes(mux)
	handlers.NewSyncHandler(logger, scopes, syncSvc, schedules).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: middleware.RequestLogger(logger)(mux),
	}

	go func() {
		logger.Info("Starting health-pulse-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown: stop taking work, then drain in-flight messages.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(err))
	}

	scheduler.Stop()
	for _, pool := range pools {
		pool.Stop(cfg.Pipeline.ShutdownGrace)
	}
	broadcaster.Stop()
	cancel()
}
