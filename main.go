package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-coordinator/internal/config"
	"chat-coordinator/internal/dispatch"
	"chat-coordinator/internal/handlers"
	"chat-coordinator/internal/middleware"
	"chat-coordinator/internal/observability"
	"chat-coordinator/internal/rabbitmq"
	"chat-coordinator/internal/telemetry"
	"chat-coordinator/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logs.GetLoggerFromString("ERROR").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	observability.SetPublisher(publisher)
	log.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment, cfg.AuditBufferSize, log)

	hub := ws.NewHub(log)
	dispatcher := dispatch.New(log, hub, audit, cfg.EventQueueSize)
	runCtx, stopDispatcher := context.WithCancel(context.Background())
	go dispatcher.Run(runCtx)

	wsHandler := ws.NewHandler(hub, dispatcher, ws.NewOriginPolicy(cfg.Origins(), log), ws.ClientOptions{
		MaxMessageSize:    cfg.MaxMessageSize,
		SendBufferSize:    cfg.SendBufferSize,
		RateLimitBurst:    cfg.RateLimitBurst,
		RateLimitInterval: cfg.RateLimitInterval,
	}, log)
	roomHandler := handlers.NewRoomHandler(dispatcher)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Count()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/rooms", roomHandler.ListRooms)
	router.GET("/rooms/:room/users", roomHandler.RoomUsers)
	router.GET("/ws", wsHandler.Handle)
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	server := &http.Server{Addr: cfg.Addr(), Handler: router}
	go func() {
		log.Info("chat coordinator listening", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		// Stop accepting, drop clients, then stop the loop they feed.
		"server": func(ctx context.Context) error {
			var errs []error
			errs = append(errs, server.Shutdown(ctx))
			errs = append(errs, hub.Shutdown(ctx))
			stopDispatcher()
			<-dispatcher.Done()
			audit.Close()
			errs = append(errs, publisher.Close())
			return errors.Join(errs...)
		},
		"tracer": func(ctx context.Context) error {
			return shutdownTracer(ctx)
		},
	})

	exitCode := <-wait
	log.Info("chat coordinator exited", "code", exitCode)
	os.Exit(exitCode)
}
