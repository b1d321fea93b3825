// Package main runs the live shopping HTTP API, the relay websocket endpoint and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/liveshop/config"
	"github.com/aura-webinar/liveshop/internal/auth"
	"github.com/aura-webinar/liveshop/internal/chat"
	"github.com/aura-webinar/liveshop/internal/middleware"
	"github.com/aura-webinar/liveshop/internal/peer"
	"github.com/aura-webinar/liveshop/internal/relay"
	"github.com/aura-webinar/liveshop/internal/sessions"
	"github.com/aura-webinar/liveshop/internal/worker"
	"github.com/aura-webinar/liveshop/pkg/database"
	"github.com/aura-webinar/liveshop/pkg/queue"
	"github.com/aura-webinar/liveshop/pkg/redis"
	"github.com/aura-webinar/liveshop/pkg/response"
	"github.com/aura-webinar/liveshop/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var uploader sessions.Uploader
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:           cfg.AWS.Region,
			AccessKeyID:      cfg.AWS.AccessKeyID,
			SecretAccessKey:  cfg.AWS.SecretAccessKey,
			ThumbnailsBucket: cfg.AWS.ThumbnailsBucket,
		}
		s3Client, err := storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			uploader = s3Client
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	broker := relay.NewRedisBroker(rdb.Client, logger)
	hub := relay.NewHub(logger)

	// Sessions
	sessionRepo := sessions.NewRepository(pool)
	hub.SetAudienceChangeHandler(sessions.AudienceHandler(sessionRepo, hub, logger))

	// Chat persistence (history reads are always direct; appends may be queued)
	chatRepo := chat.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	chatProcessor := worker.NewChatProcessor(jobQueue, chatRepo, logger)

	iceServers := peer.ICEServersFromConfig(cfg.WebRTC)
	sessionHandler := sessions.NewHandler(sessionRepo, chatRepo, uploader, iceServers, logger)
	sessionHandler.SetHistoryLimit(cfg.Chat.HistoryLimit)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	router.GET("/ice-servers", sessionHandler.ICEServers)
	router.GET("/sessions/live", sessionHandler.ListLive)
	router.GET("/sessions/scheduled", sessionHandler.ListScheduled)
	router.GET("/sessions/:id", sessionHandler.GetByID)
	router.GET("/sessions/:id/chat", sessionHandler.ChatHistory)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/sessions", middleware.RequireRole(middleware.RoleSeller, middleware.RoleAdmin), sessionHandler.Create)
		api.POST("/sessions/:id/start", sessionHandler.Start)
		api.POST("/sessions/:id/end", sessionHandler.End)
		api.POST("/sessions/:id/like", sessionHandler.Like)
		api.POST("/sessions/:id/thumbnail", sessionHandler.UploadThumbnail)
	}

	// Relay websocket (token in query; no Authorization header required)
	router.GET("/relay", relay.ServeWs(hub, broker, logger, jwtService.UserID, relay.JoinOptions{
		Timeout:     cfg.Relay.JoinTimeout,
		SendTimeout: cfg.Relay.SendTimeout,
	}))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (queued chat persistence)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Chat.Queued {
		go chatProcessor.Run(workerCtx)
		logger.Info("chat worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
