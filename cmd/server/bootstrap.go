package main

import (
	"context"
	"time"

	"github.com/huangang/contractorhub/backend/internal/config"
	"github.com/huangang/contractorhub/backend/internal/handlers"
	"github.com/huangang/contractorhub/backend/internal/metrics"
	"github.com/huangang/contractorhub/backend/internal/models"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/internal/storage"
	"github.com/huangang/contractorhub/backend/internal/utils"
	"github.com/huangang/contractorhub/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg       *config.Config
	taskQueue services.TaskQueue
	worker    *services.Worker
	scheduler *services.Scheduler

	authHandler         *handlers.AuthHandler
	teamHandler         *handlers.TeamHandler
	joinRequestHandler  *handlers.JoinRequestHandler
	companyHandler      *handlers.CompanyHandler
	applicationHandler  *handlers.ApplicationHandler
	documentHandler     *handlers.DocumentHandler
	systemLogHandler    *handlers.SystemLogHandler
	systemConfigHandler *handlers.SystemConfigHandler
	healthHandler       *handlers.HealthHandler
	signedObjectHandler *handlers.SignedObjectHandler // memory storage only
}

// bootstrap initializes all application dependencies: database, storage, queue, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database, cfg.Log.Level); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	db := models.GetDB()

	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	services.InitSystemLogger(db)
	metrics.Registry.MustRegister(metrics.NewStateCollector(db))

	// Object storage; the bucket must exist before the first upload
	store, err := storage.NewStore(&cfg.Storage, cfg.Server.APIURL)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	files := storage.NewFileStorage(store, &cfg.Storage)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := files.EnsureBucketExists(ctx); err != nil {
		logger.Error().Err(err).Str("bucket", files.Bucket()).Msg("Storage bucket unavailable, uploads will fail until it is reachable")
	}
	cancel()

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	emailService := services.NewEmailService(&cfg.SMTP)
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(emailService.SendInvitation)
	}

	// Start async worker if Redis is enabled
	worker := services.NewWorker(&cfg.Redis)
	if worker != nil {
		worker.SetProcessor(emailService.SendInvitation)
		if err := worker.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start task worker")
		}
	}

	invitationService := services.NewInvitationService(db, &cfg.Invitation, emailService, taskQueue)
	authService := services.NewAuthService(db, &cfg.JWT, invitationService)
	if err := authService.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	systemLogService := services.NewSystemLogService(db)
	scheduler := services.NewScheduler(db, invitationService, systemLogService)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start scheduler")
	}

	var signedObjectHandler *handlers.SignedObjectHandler
	if mem, ok := store.(*storage.MemoryStore); ok {
		signedObjectHandler = handlers.NewSignedObjectHandler(mem)
	}

	return &appServices{
		cfg:       cfg,
		taskQueue: taskQueue,
		worker:    worker,
		scheduler: scheduler,

		authHandler:         handlers.NewAuthHandler(authService),
		teamHandler:         handlers.NewTeamHandler(services.NewTeamService(db), invitationService),
		joinRequestHandler:  handlers.NewJoinRequestHandler(services.NewJoinRequestService(db)),
		companyHandler:      handlers.NewCompanyHandler(services.NewCompanyService(db)),
		applicationHandler:  handlers.NewApplicationHandler(services.NewApplicationService(db, files), cfg.Storage.MaxFileSize),
		documentHandler:     handlers.NewDocumentHandler(services.NewDocumentService(db, files)),
		systemLogHandler:    handlers.NewSystemLogHandler(systemLogService),
		systemConfigHandler: handlers.NewSystemConfigHandler(services.NewSystemConfigService(db)),
		healthHandler:       handlers.NewHealthHandler(db, taskQueue, files),
		signedObjectHandler: signedObjectHandler,
	}
}

// shutdown gracefully stops background work.
func (s *appServices) shutdown() {
	s.scheduler.Stop()

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
