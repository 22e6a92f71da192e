package handler

import (
	"context"

	"github.com/EchoRingAI/voice-handoff-service/internal/cache"
	"github.com/EchoRingAI/voice-handoff-service/internal/config"
	"github.com/EchoRingAI/voice-handoff-service/internal/orchestrator"
	"github.com/EchoRingAI/voice-handoff-service/internal/provider"
	"github.com/EchoRingAI/voice-handoff-service/internal/repository"
	"github.com/EchoRingAI/voice-handoff-service/internal/task"
	"github.com/EchoRingAI/voice-handoff-service/pkg/logger"
	"github.com/EchoRingAI/voice-handoff-service/pkg/redis"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandlerManager manages all handlers and their initialization
type HandlerManager struct {
	config      *config.HandoffConfig
	repoManager repository.RepositoryManager
	cloneCache  *cache.CloneCache
	orch        *orchestrator.Orchestrator
	taskBus     task.Bus
}

// NewHandlerManager creates and initializes all handlers and services
func NewHandlerManager(cfg *config.HandoffConfig) (*HandlerManager, error) {
	// Initialize database connection
	repoManager, err := repository.NewRepositoryManager()
	if err != nil {
		logger.Base().Error("failed to connect to database", zap.Error(err))
		return nil, err
	}

	// Redis is optional: without it the hot cache layer is skipped and
	// call-ended cancellation only reaches tasks on this instance.
	var redisSvc redis.RedisServiceInterface
	var taskBus task.Bus
	if svc, err := redis.NewRedisService(redis.LoadRedisConfigFromEnv()); err != nil {
		logger.Base().Warn("failed to initialize redis service, running single-instance", zap.Error(err))
	} else {
		redisSvc = svc
		taskBus = task.NewRedisBus(svc)
		logger.Base().Info("task bus initialized", zap.String("instance", cfg.InstanceID))
	}

	providerClient := provider.NewClient(cfg.ProviderBaseURL, cfg.ProviderAPIKey, cfg.ProviderTimeout, cfg.ProviderMaxRetries)

	cloneCache := cache.NewCloneCache(
		repoManager.CloneCache(),
		repoManager.VoiceProfile(),
		providerClient,
		redisSvc,
		cfg.CloneCacheTTL,
	)

	orch := orchestrator.New(cfg, repoManager.CallSession(), repoManager.CloneEvent(), cloneCache, providerClient, taskBus)

	// Cross-instance cancellation and the expired-entry sweeper run for
	// the life of the process.
	if err := orch.StartTaskSubscriber(context.Background()); err != nil {
		logger.Base().Warn("failed to start task subscriber", zap.Error(err))
	}
	go cloneCache.StartSweepRoutine(context.Background(), cfg.SweepInterval)

	return &HandlerManager{
		config:      cfg,
		repoManager: repoManager,
		cloneCache:  cloneCache,
		orch:        orch,
		taskBus:     taskBus,
	}, nil
}

// SetupAllRoutes sets up all routes with middleware
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(CORSMiddleware)
	router.Use(LoggingMiddleware)

	hm.SetupWebhookRoutes(router)
	hm.SetupStatusRoutes(router)

	logger.Base().Info("all application routes registered")
}

// SetupWebhookRoutes sets up the signed telephony webhook routes.
func (hm *HandlerManager) SetupWebhookRoutes(router *mux.Router) {
	validator := NewSignatureValidator(hm.config.WebhookSigningSecret, hm.config.TimestampTolerance)
	webhookHandler := NewWebhookHandler(hm.orch, validator, hm.config)

	webhookRouter := router.PathPrefix("/webhook").Subrouter()
	webhookRouter.Use(ValidationMiddleware)
	webhookRouter.Use(RateLimitMiddleware(hm.config.RateLimitRPS, hm.config.RateLimitBurst))

	webhookRouter.HandleFunc("/incoming-call", webhookHandler.HandleIncomingCall).Methods("POST")
	webhookRouter.HandleFunc("/call-ended", webhookHandler.HandleCallEnded).Methods("POST")
	webhookRouter.HandleFunc("/call-result", webhookHandler.HandleCallResult).Methods("POST")

	// Status query sits outside the signed surface; it carries no secrets.
	router.HandleFunc("/clone-status/{callerID}", webhookHandler.HandleCloneStatus).Methods("GET")

	logger.Base().Info("webhook routes registered")
}

// SetupStatusRoutes sets up health and the operational debug surface.
func (hm *HandlerManager) SetupStatusRoutes(router *mux.Router) {
	statusHandler := NewStatusHandler(hm.orch, hm.cloneCache, hm.config.InstanceID)

	router.HandleFunc("/health", statusHandler.HandleHealth).Methods("GET")

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(APIKeyMiddleware(hm.config.SecretKey))
	apiRouter.HandleFunc("/status", statusHandler.HandleStatus).Methods("GET")

	logger.Base().Info("status routes registered")
}

// GetRepoManager returns the repository manager
func (hm *HandlerManager) GetRepoManager() repository.RepositoryManager {
	return hm.repoManager
}

// GetOrchestrator returns the call orchestrator
func (hm *HandlerManager) GetOrchestrator() *orchestrator.Orchestrator {
	return hm.orch
}

// Close releases database resources.
func (hm *HandlerManager) Close() error {
	return hm.repoManager.Close()
}
