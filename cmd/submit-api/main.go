package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	cfg "github.com/thrillee/smppgateway/internal/config"
	"github.com/thrillee/smppgateway/internal/database"
	"github.com/thrillee/smppgateway/internal/httpapi"
	"github.com/thrillee/smppgateway/internal/logging"
	"github.com/thrillee/smppgateway/internal/outbound"
	"github.com/thrillee/smppgateway/internal/pgnotify"
	"github.com/thrillee/smppgateway/internal/store"
)

func main() {
	appCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	config, err := cfg.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	logging.Setup(config.LogLevel)

	dbpool, err := database.Connect(appCtx, config.DatabaseURL)
	if err != nil {
		slog.Error("DB connect error", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	st := store.New(dbpool)
	registry := outbound.NewRegistry(st, st, pgnotify.NewPublisher(dbpool), outbound.Config{
		SendGroupSize:   config.Outbound.SendGroupSize,
		NotifyThreshold: config.Outbound.NotifyThreshold,
		DefaultPriority: config.Outbound.DefaultPriority,
	})

	if config.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	httpapi.SetupRoutes(router, httpapi.NewMessageHandler(httpapi.RegistryLookup(registry), st), dbpool)

	srv := &http.Server{
		Addr:         config.API.Addr,
		Handler:      router,
		ReadTimeout:  config.API.ReadTimeout,
		WriteTimeout: config.API.WriteTimeout,
		IdleTimeout:  config.API.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
	}

	go func() {
		slog.Info("Starting submit API server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Submit API ListenAndServe error", slog.Any("error", err))
			rootCancel()
		}
	}()

	<-appCtx.Done()
	slog.Info("Shutdown signal received for submit API server.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Submit API server forced to shutdown", slog.Any("error", err))
	}

	slog.Info("Submit API server stopped.")
}
