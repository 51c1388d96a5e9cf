package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	log "github.com/schollz/logger"

	"github.com/bandbridge/audio/internal/audio"
	"github.com/bandbridge/audio/internal/auth"
	"github.com/bandbridge/audio/internal/cache"
	"github.com/bandbridge/audio/internal/client"
	"github.com/bandbridge/audio/internal/config"
	"github.com/bandbridge/audio/internal/middleware"
	"github.com/bandbridge/audio/internal/router"
	"github.com/bandbridge/audio/internal/service"
	ws "github.com/bandbridge/audio/internal/websocket"
	"github.com/bandbridge/audio/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}

	log.SetLevel(cfg.Server.LogLevel)
	if cfg.OnLogLevelChange(func(level string) {
		log.SetLevel(level)
		log.Infof("log level changed to %s", level)
	}) {
		log.Debugf("watching config file for log level changes")
	}

	// Redis is optional: without it there is no result cache, rate limiting
	// or job queue, and the synchronous endpoints keep working.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Errorf("redis not available at %s, running without cache and jobs: %v", cfg.Redis.Addr, err)
		redisClient.Close()
		redisClient = nil
	}
	cancel()

	var resultCache *cache.ResultCache
	if cfg.Cache.Enabled {
		resultCache = cache.New(redisClient, cfg.Cache.TTL)
	}

	decoder := audio.NewDecoder(&cfg.Audio)
	analysisService := service.NewAnalysisService(decoder, &cfg.Analysis, resultCache)

	deps := router.Deps{
		Config:   cfg,
		Analysis: analysisService,
		Redis:    redisClient,
		Validate: validator.New(),
	}

	var asynqSrv *asynq.Server
	if redisClient != nil {
		storage, err := client.NewStorage(&cfg.Storage)
		if err != nil {
			log.Errorf("failed to init storage: %v", err)
			os.Exit(1)
		}

		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()

		hub := ws.NewHub()
		go hub.Run()
		defer hub.Stop()

		jobService := service.NewJobService(redisClient, asynqClient, storage)
		deps.Jobs = jobService
		deps.Hub = hub

		if cfg.Worker.Enabled {
			asynqSrv = startWorkerServer(cfg, redisOpt, jobService, analysisService, storage, hub)
		}
	}

	if cfg.Auth.Enabled {
		authHandler, closeAuth := newAuth(&cfg.Auth)
		defer closeAuth()
		deps.Auth = authHandler
	}

	app := router.New(deps)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Infof("shutting down server...")
		if asynqSrv != nil {
			asynqSrv.Shutdown()
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("server shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Infof("server starting on %s (%s)", addr, cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		log.Errorf("server error: %v", err)
		os.Exit(1)
	}
}

// newAuth builds the /api auth middleware: JWKS when an issuer is configured,
// with the HMAC secret as fallback.
func newAuth(cfg *config.AuthConfig) (fiber.Handler, func()) {
	var verifier *auth.JWKSVerifier
	if cfg.Issuer != "" {
		v, err := auth.NewJWKSVerifier(cfg)
		if err != nil {
			log.Errorf("JWKS verifier not initialized: %v", err)
		} else {
			verifier = v
		}
	}

	var m *middleware.AuthMiddleware
	switch {
	case verifier != nil && cfg.JWTSecret != "":
		m = middleware.NewAuthMiddlewareWithFallback(verifier, cfg.JWTSecret)
	case verifier != nil:
		m = middleware.NewAuthMiddleware(verifier)
	default:
		m = middleware.NewLegacyAuthMiddleware(cfg.JWTSecret)
	}

	return m.Authenticate(), func() {
		if verifier != nil {
			verifier.Close()
		}
	}
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug", "trace":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

func startWorkerServer(
	cfg *config.Config,
	redisOpt asynq.RedisClientOpt,
	jobService *service.JobService,
	analyzer service.Analyzer,
	storage client.StorageClient,
	hub *ws.Hub,
) *asynq.Server {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			service.QueueAnalysis: 1,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})

	analysisWorker := worker.NewAnalysisWorker(jobService, analyzer, storage, hub, cfg.Audio.TempDir)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeAnalysis, analysisWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Errorf("asynq worker error: %v", err)
		return nil
	}
	log.Infof("analysis worker started with concurrency %d", cfg.Worker.Concurrency)
	return srv
}
