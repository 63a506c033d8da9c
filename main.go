package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Yutman/Nexus-Trade/cache"
	"github.com/Yutman/Nexus-Trade/config"
	"github.com/Yutman/Nexus-Trade/email"
	"github.com/Yutman/Nexus-Trade/handler"
	appLogger "github.com/Yutman/Nexus-Trade/logger"
	"github.com/Yutman/Nexus-Trade/middleware"
	"github.com/Yutman/Nexus-Trade/ratelimit"
	redisClient "github.com/Yutman/Nexus-Trade/redis"
	"github.com/Yutman/Nexus-Trade/store"
	"github.com/Yutman/Nexus-Trade/token"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// @title NexusTrade Account Recovery API
// @version 1.0
// @description Password reset service: token issuance, verification, consumption, with layered rate limiting.

// @host localhost:8080
// @BasePath /
// @schemes http https

// @tag.name Reset
// @tag.description Password reset request, verification and consumption

// @tag.name System
// @tag.description Health checks

func main() {
	// Initialize logger
	appLogger.Initialize()

	// Load configuration
	cfg := config.MustLoadConfig()
	log.Info().Msg("Configuration loaded successfully")

	// Initialize Redis client
	rdb := redisClient.NewClient(cfg.Redis)

	// Initialize cache (if enabled)
	var cacheClient *cache.Cache
	if cfg.Cache.Enabled {
		var err error
		cacheClient, err = cache.New(cfg.Cache)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize cache")
		}
	} else {
		log.Info().Msg("Cache disabled in configuration")
	}

	// Wire the reset flow dependencies
	users := store.NewRedisUserStore(rdb, cacheClient)
	resets := store.NewRedisResetStore(rdb)
	limiter := ratelimit.New(ratelimit.NewRedisCounterStore(rdb))
	tokens := token.NewAuthority(time.Duration(cfg.Reset.TokenTTLSeconds) * time.Second)
	mailer := email.NewEmailService(cfg.Email, cfg.WebServer.PublicBaseURL)

	resetHandler := handler.NewResetHandler(users, resets, limiter, tokens, mailer, cfg)
	healthHandler := handler.NewHealthHandler(rdb)

	// Set up router
	r := mux.NewRouter()

	// Apply global middleware
	floodGate := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	r.Use(middleware.CORS)
	r.Use(middleware.RequestLogger)
	r.Use(floodGate.Limit)

	// Register routes
	r.HandleFunc("/health", healthHandler.HealthCheck).Methods("GET")
	r.HandleFunc("/reset/request", resetHandler.RequestReset).Methods("POST")
	r.HandleFunc("/reset/verify", resetHandler.VerifyToken).Methods("GET")
	r.HandleFunc("/reset/consume", resetHandler.ConsumeReset).Methods("POST")

	// Configure HTTP server
	serverAddress := fmt.Sprintf("%s:%s", cfg.WebServer.IP, cfg.WebServer.Port)
	server := &http.Server{
		Addr:         serverAddress,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.WebServer.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WebServer.WriteTimeout) * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("address", serverAddress).
			Str("scheme", cfg.WebServer.Scheme).
			Msg("Starting server")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.WebServer.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if cacheClient != nil {
		cacheClient.Close()
	}

	log.Info().Msg("Server exited")
}
