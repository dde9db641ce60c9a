package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pressroom/newsletter-service/internal/newsletter/app"
	"github.com/pressroom/newsletter-service/internal/newsletter/provider"
	"github.com/pressroom/newsletter-service/internal/newsletter/repository/postgres"
	transport "github.com/pressroom/newsletter-service/internal/newsletter/transport/http"
	"github.com/pressroom/newsletter-service/internal/platform/config"
	"github.com/pressroom/newsletter-service/internal/platform/database"
	"github.com/pressroom/newsletter-service/internal/platform/logger"
	"github.com/pressroom/newsletter-service/internal/platform/messagebroker"
)

const (
	serviceName     = "newsletter-service"
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("Starting service...")

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		log.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	log.Info("Database connection pool initialized")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, log, serviceName)
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	log.Info("NATS connection initialized")

	// Repositories
	scheduleRepo := postgres.NewPgScheduleRepository(dbPool, log)
	runRepo := postgres.NewPgRunRepository(dbPool, log)
	subscriberRepo := postgres.NewPgSubscriberRepository(dbPool, log)
	issueRepo := postgres.NewPgIssueRepository(dbPool, log)

	// Delivery provider
	var sender provider.EmailSender
	switch cfg.ProviderName {
	case "mock":
		sender = provider.NewMockEmailSender(log, false, 0)
	default:
		sender = provider.NewAPIEmailSender(log, cfg.ProviderAPIURL, cfg.ProviderAPIKey, nil)
	}
	log.Info("Delivery provider configured", "provider", sender.Name())

	clock := app.NewRealClock()
	executor := app.NewDeliveryExecutor(sender, app.ExecutorConfig{
		Concurrency:      cfg.ExecutorConcurrency,
		RecipientTimeout: cfg.ExecutorRecipientTimeout,
		MaxRetries:       cfg.ExecutorMaxRetries,
	}, log)

	scheduler := app.NewScheduler(scheduleRepo, runRepo, subscriberRepo, issueRepo, executor, natsClient, clock, app.SchedulerConfig{
		PollInterval:    cfg.SchedulerPollInterval,
		LeaseTTL:        cfg.SchedulerLeaseTTL,
		StaleRunAfter:   cfg.SchedulerStaleRunAfter,
		MissedRunPolicy: app.MissedRunPolicy(cfg.SchedulerMissedRunPolicy),
	}, log)

	service := app.NewService(scheduleRepo, runRepo, clock, log)

	// HTTP admin surface
	validate := validator.New()
	handler := transport.NewNewsletterHandler(service, scheduler, log, validate)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		return scheduler.Run(groupCtx)
	})

	g.Go(func() error {
		log.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("Shutting down HTTP server...")
		return httpServer.Shutdown(shutdownCtx)
	})

	log.Info("Service components initialized. Service is ready.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Received termination signal", "signal", sig.String())
		mainCancel()
	case <-groupCtx.Done():
		log.Error("A critical component failed, initiating shutdown")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Error during shutdown", "error", err)
	}
	log.Info("Service shutdown complete.")
}
