package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"unread-service/internal/access"
	"unread-service/internal/cache"
	"unread-service/internal/config"
	"unread-service/internal/db"
	"unread-service/internal/grpcserver"
	"unread-service/internal/handlers"
	"unread-service/internal/logger"
	"unread-service/internal/middleware"
	"unread-service/internal/observability"
	"unread-service/internal/rabbitmq"
	"unread-service/internal/readstate"
	"unread-service/internal/realtime"
	"unread-service/internal/repositories"
	"unread-service/internal/telemetry"
	"unread-service/internal/unread"
)

type store interface {
	repositories.MessageRepository
	repositories.MembershipRepository
}

type sqlStore struct {
	*repositories.MessageRepo
	*repositories.MembershipRepo
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Global().Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.NewForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		logger.Global().Fatal("failed to build logger", zap.Error(err))
	}
	logger.SetGlobal(log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.TracingEndpoint)
		if err != nil {
			log.Warn("tracing disabled", zap.Error(err))
		} else {
			defer shutdownTracing(context.Background())
		}
	}

	var st store
	if cfg.UseMemoryStore() {
		log.Warn("using in-memory store; data is lost on restart")
		st = repositories.NewMemoryStore()
	} else {
		database, err := db.Connect(ctx, cfg.DatabaseDSN, log)
		if err != nil {
			log.Fatal("failed to connect to db", zap.Error(err))
		}
		defer database.Close()
		st = sqlStore{
			MessageRepo:    repositories.NewMessageRepo(database),
			MembershipRepo: repositories.NewMembershipRepo(database),
		}
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info("amqp publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)
	audit := telemetry.NewAuditEmitter(publisher, "audit.log", cfg.ServiceName, cfg.Env, log)

	var (
		broker   realtime.Broker
		httpDeps []handlers.Pinger
		grpcDeps []grpcserver.Pinger
	)
	if cfg.NATSURL != "" {
		nb, err := realtime.NewNATSBroker(cfg.NATSURL, cfg.ServiceName, log)
		if err != nil {
			log.Fatal("failed to connect to nats", zap.Error(err))
		}
		broker = nb
		httpDeps = append(httpDeps, nb)
		grpcDeps = append(grpcDeps, nb)
	}
	history := cache.New(cfg.CacheSize, cfg.CacheTTL, observability.CacheObserver("history"))
	hub := realtime.NewHub(broker, cfg.HeartbeatInterval, log)
	hub.InvalidateOn(history)
	if err := hub.Start(ctx); err != nil {
		log.Fatal("failed to start delivery hub", zap.Error(err))
	}

	checker := access.NewChecker(st)
	aggregator := unread.NewAggregator(st, nil, log)
	mutator := readstate.NewMutator(st, checker, history, hub, nil, log)
	auth := middleware.NewJWTAuth(cfg.JWTSecret)

	notificationHandler := handlers.NewNotificationHandler(aggregator, mutator, log)
	messageHandler := handlers.NewMessageHandler(st, st, history, hub, audit, log)
	streamHandler := realtime.NewStreamHandler(hub, checker, auth, log)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		middleware.RequestID(),
		observability.HTTPMetricsMiddleware(),
		middleware.RequestLogger(log),
		middleware.CORS(cfg.CORSOrigins),
	)

	router.GET("/healthz", handlers.Health(st, httpDeps...))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(auth)
	limited := middleware.RateLimit(cfg.RateLimit, cfg.RateLimitWindow)

	router.GET("/notifications/unread", authMiddleware, notificationHandler.GetUnread)
	router.GET("/notifications/recent", authMiddleware, notificationHandler.GetRecent)
	router.POST("/notifications/mark-read", authMiddleware, limited, notificationHandler.MarkRead)
	router.PUT("/notifications/mark-read", authMiddleware, limited, notificationHandler.MarkBatchRead)
	router.POST("/notifications/mark-all-read", authMiddleware, limited, notificationHandler.MarkAllRead)

	router.POST("/system/messages", authMiddleware, middleware.RequireScope(middleware.ScopeBroadcast), limited, messageHandler.PostSystemMessage)
	router.POST("/projects/:project_id/messages", authMiddleware, limited, messageHandler.PostProjectMessage)
	router.GET("/projects/:project_id/messages", authMiddleware, messageHandler.GetProjectMessages)
	router.POST("/chats/start", authMiddleware, limited, messageHandler.StartChat)
	router.POST("/chats/:chat_id/messages", authMiddleware, limited, messageHandler.PostChatMessage)
	router.GET("/chats/:chat_id/messages", authMiddleware, messageHandler.GetChatMessages)
	router.DELETE("/messages/:kind/:message_id", authMiddleware, limited, messageHandler.DeleteMessage)

	// streams authenticate themselves so browsers can pass ?token=
	router.GET("/stream/:kind/:id", streamHandler.SSE)
	router.GET("/ws/:kind/:id", streamHandler.WebSocket)

	handlers.RegisterDebugRoutes(router.Group("", authMiddleware), audit, history, cfg.DebugRoutes)

	grpcSrv := grpcserver.New(st, log, grpcDeps...)
	go grpcSrv.Watch(ctx, 15*time.Second)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal("failed to listen for grpc", zap.Error(err))
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error("grpc server error", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("grpc_port", cfg.GRPCPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	// closing streams first lets their handlers return before the server drains
	hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	grpcSrv.Stop()
}
