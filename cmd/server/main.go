package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fieldops/opsimport/internal/audit"
	"github.com/fieldops/opsimport/internal/config"
	"github.com/fieldops/opsimport/internal/db"
	"github.com/fieldops/opsimport/internal/importer"
	"github.com/fieldops/opsimport/internal/middleware"
	"github.com/fieldops/opsimport/internal/repository"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".", log)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database, cfg.Server.MigrationsPath); err != nil {
		log.WithError(err).Fatal("failed to run migrations")
	}

	// Repositories
	records := repository.NewImportRecordRepository(conn.Pool)
	committed := repository.NewCommittedRecordRepository(conn)
	canonical := repository.NewCanonicalEntityRepository(conn.Pool)
	auditRepo := repository.NewAuditRepository(conn.Pool)
	staging := repository.WithExpiryAudit(repository.NewStagingRepository(conn.Pool), auditRepo)

	recorder := audit.NewRecorder(auditRepo, log)

	service := importer.NewPipeline(staging, records, committed, canonical, auditRepo, recorder, log, importer.PipelineOptions{
		StagingTTL:     cfg.Server.StagingTTL,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	router := mux.NewRouter()
	importer.NewHandler(service, log).Register(router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.Server.AllowedOrigin},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(middleware.Logging(log)(middleware.Actor(router))),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("starting import server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server exited")
}
