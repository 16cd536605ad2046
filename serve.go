package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskflow/internal/auth"
	"taskflow/internal/config"
	"taskflow/internal/database/db_client"
	"taskflow/internal/http/http_server"
	"taskflow/internal/http/taskhandler"
	"taskflow/internal/logging"
	"taskflow/internal/redis/redis_client"
	"taskflow/internal/services/directory"
	"taskflow/internal/services/tasks"
	"taskflow/internal/ws"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()
	undo := zap.ReplaceGlobals(log)
	defer undo()

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(cmd.Context(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Postgres db client
	pgDb, err := db_client.Open(db_client.Options{
		Host:     cfg.PostgresHost,
		Port:     cfg.PostgresPort,
		User:     cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		Database: cfg.PostgresDb,
	})
	if err != nil {
		return fmt.Errorf("pg open: %w", err)
	}
	defer pgDb.Close()

	// 4. Redis membership cache (optional)
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
		if err != nil {
			log.Warn("redis.unavailable", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// 5. Services
	verifier, err := auth.NewVerifier(authConfig(cfg))
	if err != nil {
		return err
	}
	dirService := directory.NewDirectoryService(pgDb, redisClient, cfg.MembershipCacheTTL)

	// 6. Realtime registry, WS server and idle sweeper
	registry := ws.NewRegistry(nil)
	wsSrv := ws.NewWsServer(registry, verifier, dirService, dirService, ws.Options{
		SendBuffer:     cfg.WsSendBuffer,
		AllowedOrigins: cfg.CorsAllowedOrigins,
	})
	ws.RunSweeper(ctx, registry, cfg.WsSweepInterval, cfg.WsInactivityThreshold)

	taskService := tasks.NewTaskService(pgDb, registry)
	handler := taskhandler.New(taskService, dirService, registry, verifier)

	// 7. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, handler, cfg.CorsAllowedOrigins)

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.Start() }()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown.begin")
	if err := httpServer.Dispose(); err != nil {
		return err
	}
	log.Info("shutdown.done", zap.Int("open_connections", registry.Stats().TotalConnections))
	return <-errCh
}

func authConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		SigningSecret: []byte(cfg.JwtSecret),
		Issuer:        cfg.JwtIssuer,
		Audience:      cfg.JwtAudience,
	}
}
