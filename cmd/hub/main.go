package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peerhub/peerhub/internal/common/config"
	"github.com/peerhub/peerhub/internal/common/constants"
	"github.com/peerhub/peerhub/internal/common/db"
	commonhttp "github.com/peerhub/peerhub/internal/common/http"
	"github.com/peerhub/peerhub/internal/common/httpmetrics"
	"github.com/peerhub/peerhub/internal/common/jwtverify"
	"github.com/peerhub/peerhub/internal/common/logger"
	"github.com/peerhub/peerhub/internal/common/server"
	friendshttp "github.com/peerhub/peerhub/internal/friends/http"
	friendsservice "github.com/peerhub/peerhub/internal/friends/service"
	presencehttp "github.com/peerhub/peerhub/internal/presence/http"
	"github.com/peerhub/peerhub/internal/presence/hub"
	userrepo "github.com/peerhub/peerhub/internal/user/repository"
)

func main() {
	log, err := logger.New(os.Getenv("LOG_DIR"), "presence-hub", os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadHubConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	pool := db.NewPool(log, cfg.DatabaseURL)
	defer pool.Close()

	repo := userrepo.NewPgRepository(pool, log)

	presenceHub := hub.New(log, repo, hub.Config{
		QueueSize:     cfg.HubQueueSize,
		LookupTimeout: cfg.LookupTimeout,
	})
	go presenceHub.Run(context.Background())

	presenceHandler := presencehttp.NewHandler(presenceHub, repo, presencehttp.Config{
		WriteWait:      cfg.WebSocketWriteWait,
		PongWait:       cfg.WebSocketPongWait,
		PingPeriod:     cfg.WebSocketPingPeriod,
		MaxMsgSize:     cfg.WebSocketMaxMsgSize,
		SendBufSize:    cfg.WebSocketSendBufSize,
		RequestTimeout: cfg.RequestTimeout,
	}, log)

	friendsService := friendsservice.New(repo, presenceHub, log)
	friendsHandler := friendshttp.NewHandler(friendsService, cfg.RequestTimeout, log)

	// Authenticated surface: the WebSocket endpoint and the API routes.
	api := http.NewServeMux()
	presenceHandler.RegisterRoutes(api)
	friendsHandler.RegisterRoutes(api)

	auth := jwtverify.Middleware(cfg.JWTSecret, log)

	root := http.NewServeMux()
	root.HandleFunc("/health", commonhttp.HealthHandler(log))
	root.Handle("/metrics", promhttp.Handler())
	root.Handle("/", auth(api))

	collector := httpmetrics.New("presence-hub")
	handler := commonhttp.RecoveryMiddleware(log)(
		commonhttp.TraceIDMiddleware(
			collector.Wrap(root)))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: constants.ServerReadHeaderTimeout,
		IdleTimeout:       constants.ServerIdleTimeout,
	}

	hooks := []server.ShutdownHook{
		func(ctx context.Context) error {
			presenceHub.Shutdown()
			return nil
		},
	}

	server.StartWithGracefulShutdownAndHooks(srv, log, "presence-hub", hooks)
}
