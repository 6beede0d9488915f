// Package main runs the call-signaling server with WebSocket transport and
// graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Javisolarte/api-proliseg-sub002/config"
	"github.com/Javisolarte/api-proliseg-sub002/internal/auth"
	"github.com/Javisolarte/api-proliseg-sub002/internal/history"
	"github.com/Javisolarte/api-proliseg-sub002/internal/middleware"
	"github.com/Javisolarte/api-proliseg-sub002/internal/signaling"
	"github.com/Javisolarte/api-proliseg-sub002/pkg/database"
	"github.com/Javisolarte/api-proliseg-sub002/pkg/redis"
	"github.com/Javisolarte/api-proliseg-sub002/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	var notifiers []signaling.Notifier

	// Call-history recorder is optional: no database, no audit trail.
	if cfg.Database.URL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Warn("call history disabled", zap.Error(err))
		} else {
			defer pool.Close()
			if err := database.Migrate(ctx, pool); err != nil {
				logger.Fatal("migrate", zap.Error(err))
			}
			notifiers = append(notifiers, history.NewRecorder(pool, logger))
		}
	} else {
		logger.Warn("call history disabled: DATABASE_URL not set")
	}

	// Lifecycle publishing is optional: no Redis, no external subscribers.
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("lifecycle publishing disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			notifiers = append(notifiers, signaling.NewRedisPublisher(rdb.Client, logger))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret)
	registry := signaling.NewRegistry(cfg.Signaling.MaxSessions, logger)
	hub := signaling.NewHub(logger)
	gateway := signaling.NewGateway(registry, hub, logger, notifiers...)
	signalingHandler := signaling.NewHandler(registry, hub)

	validate := func(token string) (uuid.UUID, string, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return uuid.Nil, "", err
		}
		return claims.UserID, claims.Role, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/stats", signalingHandler.Stats)

	// Active-session listing for dispatch UI bootstrap (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/sessions", middleware.RequireRole("dispatcher", "admin"), signalingHandler.ListSessions)
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", signaling.ServeWs(gateway, hub, logger, validate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	defer reaperCancel()
	reaper := signaling.NewReaper(gateway, registry,
		time.Duration(cfg.Signaling.ReapIntervalSec)*time.Second,
		time.Duration(cfg.Signaling.IdleTimeoutSec)*time.Second,
		logger)
	go reaper.Run(reaperCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	reaperCancel()
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
