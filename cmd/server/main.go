package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/EchoRingAI/voice-handoff-service/internal/config"
	"github.com/EchoRingAI/voice-handoff-service/internal/handler"
	"github.com/EchoRingAI/voice-handoff-service/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server represents the voice handoff service
type Server struct {
	config         *config.HandoffConfig
	router         *mux.Router
	handlerManager *handler.HandlerManager
}

// NewServer creates a new voice handoff server
func NewServer(cfg *config.HandoffConfig) *Server {
	// Initialize zap logger and redirect stdlib log to it
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	router := mux.NewRouter()

	// Initialize handler manager - it will create all services internally
	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		logger.Base().Error("Failed to initialize handler manager", zap.Error(err))
		return nil
	}

	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
	}
}

// Start starts the voice handoff server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Base().Info("Starting server", zap.String("addr", addr))
	return server.ListenAndServe()
}

// getDynamicInstanceID generates a unique identifier for this service instance.
// It uses the system hostname (pod name in K8s) when available and falls
// back to a timestamp-based ID.
func getDynamicInstanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("voice-handoff-%d", time.Now().UnixNano())
}

func main() {
	// Load .env file for local development if it exists.
	// This will not override environment variables set by Helm/Docker.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.LoadFromEnv()
	if cfg.InstanceID == "" {
		cfg.InstanceID = getDynamicInstanceID()
	}
	if cfg.WebhookSigningSecret == "" {
		log.Println("WARNING: WEBHOOK_SIGNING_SECRET is empty; webhook signatures will not verify")
	}

	server := NewServer(cfg)
	if server == nil {
		log.Fatal("Failed to create server")
	}
	logger.Base().Info("Server initialized successfully",
		zap.String("port", cfg.Port),
		zap.String("instance_id", cfg.InstanceID))
	defer logger.Sync()

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
