package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/scribeworks/be-doc-approvals/internal/client"
	"github.com/scribeworks/be-doc-approvals/internal/config"
	"github.com/scribeworks/be-doc-approvals/internal/database"
	"github.com/scribeworks/be-doc-approvals/internal/handler"
	"github.com/scribeworks/be-doc-approvals/internal/logger"
	"github.com/scribeworks/be-doc-approvals/internal/repository"
	"github.com/scribeworks/be-doc-approvals/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("environment", cfg.Service.Environment).
		Msg("Starting Document Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// The notification stream is optional: without NATS the service runs,
	// it just publishes nothing.
	var js nats.JetStreamContext
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.Service.Name),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
		} else {
			defer nc.Drain()
			js, err = nc.JetStream()
			if err != nil {
				log.Warn().Err(err).Msg("JetStream unavailable, notifications disabled")
				js = nil
			} else {
				log.Info().Str("url", cfg.NATS.URL).Msg("NATS notification publisher initialized")
			}
		}
	}
	notifier := client.NewNotificationPublisher(js, log.Logger)

	directory := client.NewDirectoryClient(cfg.Directory.BaseURL, cfg.Directory.Timeout)
	log.Info().Str("url", cfg.Directory.BaseURL).Msg("Directory client initialized")

	workflowRepo := repository.NewWorkflowRepository(db)
	stepsRepo := repository.NewStepsRepository(db)
	historyRepo := repository.NewStatusHistoryRepository(db)

	approvalService := service.NewApprovalService(db, workflowRepo, stepsRepo, historyRepo, directory, notifier, log)

	httpHandler := handler.NewHTTPHandler(approvalService, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
