package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/client"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/config"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/handler"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/natsclient"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting bookkeeping core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
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
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// NATS is optional; without it notifications are dropped.
	var nats *natsclient.Client
	if cfg.Nats.URL != "" {
		nats, err = natsclient.Connect(cfg.Nats.URL, cfg.Service.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nats.Close()
		log.Info().Str("url", cfg.Nats.URL).Msg("NATS connection established")
	} else {
		log.Warn().Msg("NATS_URL not set; notifications disabled")
	}
	notifier := client.NewNotificationPublisher(nats, log.Logger)

	// Initialize repositories
	eventRepo := repository.NewEventRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	decisionRepo := repository.NewDecisionRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	correctionRepo := repository.NewCorrectionRepository(db)
	patternRepo := repository.NewPatternRepository(db)
	voucherRepo := repository.NewVoucherRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	clientRepo := repository.NewClientRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// External collaborators
	ocr := client.NewOCRClient(cfg.Engine.OCRServiceURL)
	reasoner := client.NewReasoningClient(cfg.Engine.ReasoningServiceURL)
	rates := client.NewCurrencyClient(cfg.Engine.CurrencyServiceURL)

	// Initialize services
	postingService := service.NewPostingService(voucherRepo, accountRepo, periodRepo, auditRepo, notifier, log)
	patternService := service.NewPatternService(patternRepo, correctionRepo, auditRepo, notifier, log)
	reviewService := service.NewReviewService(reviewRepo, decisionRepo, correctionRepo, eventRepo, postingService, patternService, auditRepo, notifier, log)
	orchestrator := service.NewOrchestrator(eventRepo, taskRepo, auditRepo, log,
		cfg.Engine.PollInterval, cfg.Engine.OrchestratorBatch, cfg.Engine.DefaultMaxRetries)

	// Agent capabilities
	capabilities := []service.AgentCapability{
		service.NewInvoiceParsingCapability(ocr, eventRepo, log),
		service.NewPostingSuggestionCapability(
			clientRepo, accountRepo, decisionRepo, patternRepo, reviewRepo,
			postingService, patternService, reasoner, rates, notifier,
			cfg.Engine.AutoPostThreshold, log),
		service.NewLearningCapability(patternService, log),
		service.NewReconciliationCapability(voucherRepo, reviewRepo, auditRepo, notifier, log),
	}

	pool := service.NewWorkerPool(taskRepo, reviewRepo, auditRepo, notifier, capabilities,
		cfg.Engine.WorkersPerCap,
		service.WorkerConfig{
			PollInterval:  cfg.Engine.PollInterval,
			TaskTimeout:   cfg.Engine.TaskTimeout,
			LeaseDuration: cfg.Engine.LeaseDuration,
		},
		cfg.Engine.ReaperInterval, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		orchestrator.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(eventRepo, taskRepo, decisionRepo, voucherRepo, auditRepo, reviewService, postingService, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handler.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	httpHandler.Routes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
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

	// gRPC serves health and reflection for infrastructure probes.
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	grpcServer.GracefulStop()
	wg.Wait()

	log.Info().Msg("Server stopped")
}
