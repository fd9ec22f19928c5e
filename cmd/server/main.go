package main

import (
	"context"
	"encoding/base64"
	"os"
	"os/signal"
	"syscall"

	"github.com/fwb-labs/langlab_service/internal/client"
	"github.com/fwb-labs/langlab_service/internal/config"
	httphandler "github.com/fwb-labs/langlab_service/internal/handler/http"
	"github.com/fwb-labs/langlab_service/internal/logger"
	"github.com/fwb-labs/langlab_service/internal/repository"
	"github.com/fwb-labs/langlab_service/internal/server"
	"github.com/fwb-labs/langlab_service/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	// Credentials and required settings are checked before any traffic is
	// accepted; a hole here is fatal.
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration invalid")
	}

	log.Info().Str("env", cfg.Environment).Msg("Starting langlab_service")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize clients
	openaiClient := client.NewOpenAIClient(cfg.OpenAIAPIKey)
	if cfg.ChatModel != "" {
		openaiClient = openaiClient.WithChatModel(cfg.ChatModel)
	}

	var geminiClient *client.GeminiClient
	if cfg.GeminiSABase64 != "" {
		saJSON, err := base64.StdEncoding.DecodeString(cfg.GeminiSABase64)
		if err != nil {
			log.Error().Err(err).Msg("Failed to decode GEMINI_SA_BASE64")
		} else {
			geminiClient, err = client.NewGeminiClientWithCredentials(ctx, cfg.GCPLocation, saJSON)
			if err != nil {
				log.Error().Err(err).Msg("Failed to initialize Gemini client")
			} else {
				log.Info().Str("project_id", geminiClient.ProjectID()).Msg("Gemini client initialized")
			}
		}
	}

	// Pick the dialogue provider; transcription and synthesis always run
	// on OpenAI.
	var dialogue service.Dialogue = openaiClient
	if cfg.TutorProvider == "gemini" {
		if geminiClient == nil {
			log.Fatal().Msg("TUTOR_PROVIDER=gemini but no Gemini credentials configured")
		}
		dialogue = geminiClient
	}

	// Initialize Redis client (optional license cache)
	var redisClient *client.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = client.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Redis client, license lookups uncached")
			redisClient = nil
		} else {
			log.Info().Msg("Redis client initialized")
		}
	}

	sheetClient := client.NewSheetClient(cfg.LicenseSheetURL)

	// Initialize repositories
	sessionRepo := repository.NewInMemorySessionRepository()

	// Initialize services
	sessionService := service.NewSessionService(sessionRepo, openaiClient, dialogue, openaiClient, cfg.ProviderTimeout, log)
	licenseService := service.NewLicenseService(sheetClient, redisClient, cfg.LicenseCacheTTL, log)
	authService := service.NewAuthService(licenseService, cfg.JWTSecret, cfg.TokenTTL)

	// Initialize handlers
	healthHandler := httphandler.NewHealthHandler()
	authHandler := httphandler.NewAuthHandler(log, authService)
	sessionHandler := httphandler.NewSessionHandler(log, sessionService, cfg.MaxAudioBytes)
	shareHandler := httphandler.NewShareHandler(log, cfg.PublicBaseURL)

	// Initialize HTTP server
	httpServer := server.NewHTTPServer(cfg, log, healthHandler, authHandler, sessionHandler, shareHandler, authService)

	// Start server
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	log.Info().
		Str("http_addr", cfg.HTTPAddress()).
		Str("tutor_provider", cfg.TutorProvider).
		Msg("Server started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Close clients
	if geminiClient != nil {
		geminiClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Info().Msg("Server stopped")
}
