package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatline-backend/internal/database"
	callHandler "chatline-backend/internal/handler/http/call"
	chatHandler "chatline-backend/internal/handler/http/chat"
	wsHandler "chatline-backend/internal/handler/ws"
	"chatline-backend/internal/middleware"
	"chatline-backend/internal/repository/cassandra"
	"chatline-backend/internal/repository/cockroach"
	redisrepo "chatline-backend/internal/repository/redis"
	callService "chatline-backend/internal/service/call"
	chatService "chatline-backend/internal/service/chat"
	"chatline-backend/pkg/constants"
	"chatline-backend/pkg/env"
	"chatline-backend/pkg/jwt"
	"chatline-backend/pkg/logger"
	"chatline-backend/pkg/metrics"
)

func main() {
	logger.InitDefault()
	defer logger.Sync()

	// 1. JWT manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewJWTManager(jwtSecret, env.GetDuration("JWT_ACCESS_TOKEN_TTL", 15*time.Minute))

	// 2. Cassandra (message history)
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    []string{env.GetString("CASSANDRA_HOST", "localhost")},
		Keyspace: env.GetString("CASSANDRA_KEYSPACE", "chatline_ks"),
		Username: env.GetStringFromFile("CASSANDRA_USER", ""),
		Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
		Timeout:  10 * time.Second,
	})
	if err != nil {
		logger.Fatal("failed to connect to Cassandra", zap.Error(err))
	}
	defer cassandraDB.Close()
	logger.Info("connected to Cassandra")

	// 3. Redis (presence)
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
		Timeout:  5 * time.Second,
	})
	if err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisDB.Close()

	if err := redisDB.Ping(context.Background()); err != nil {
		logger.Warn("redis unreachable at startup, presence degraded", zap.Error(err))
	}
	redisDB.StartHealthCheck(context.Background(), 10*time.Second)
	logger.Info("connected to Redis")

	// 4. CockroachDB (call logs, delivery state, memberships)
	cockroachDB, err := database.NewCockroachDB(context.Background(), &database.CockroachConfig{
		Host:     env.GetString("COCKROACH_HOST", "localhost"),
		Port:     env.GetInt("COCKROACH_PORT", 26257),
		User:     env.GetString("COCKROACH_USER", "root"),
		Password: env.GetStringFromFile("COCKROACH_PASSWORD", ""),
		Database: env.GetString("COCKROACH_DATABASE", "chatline_db"),
		SSLMode:  env.GetString("COCKROACH_SSLMODE", "disable"),
		MaxConns: env.GetInt("COCKROACH_MAX_CONNS", 25),
	})
	if err != nil {
		logger.Fatal("failed to connect to CockroachDB", zap.Error(err))
	}
	defer cockroachDB.Close()
	logger.Info("connected to CockroachDB")

	// 5. Repositories
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	statusRepo := cockroach.NewMessageStatusRepository(cockroachDB.Pool)
	callLogRepo := cockroach.NewCallLogRepository(cockroachDB.Pool)
	conversationRepo := cockroach.NewConversationRepository(cockroachDB.Pool)
	presenceRepo := redisrepo.NewPresenceRepository(redisDB.Client)

	// 6. Metrics
	appMetrics := metrics.NewMetrics("realtime-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 7. Hub and services
	hub := wsHandler.NewHub(appMetrics)
	chatSvc := chatService.NewService(messageRepo, statusRepo, hub, appMetrics)
	callSvc := callService.NewService(
		callLogRepo,
		callService.NewRegistry(),
		hub,
		appMetrics,
		env.GetDuration("CALL_RING_TIMEOUT", constants.CallRingTimeout),
	)

	// 8. Handlers
	gateway := wsHandler.NewGateway(hub, chatSvc, callSvc, conversationRepo, presenceRepo, appMetrics)
	chatHdlr := chatHandler.NewHandler(chatSvc, conversationRepo)
	callHdlr := callHandler.NewHandler(callSvc)

	// 9. Router
	if env.GetString("GIN_MODE", "") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "realtime-service",
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		v1.GET("/conversations/:id/messages", chatHdlr.GetMessages)
		v1.GET("/calls", callHdlr.GetHistory)
		v1.GET("/ws", gateway.ServeWS)
	}

	// 10. Start server
	port := env.GetString("PORT", "8082")
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: router,
	}

	go func() {
		logger.Info("realtime service starting", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// 11. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
