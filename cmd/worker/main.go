// Standalone worker process: runs the orchestrator, the worker pool and the
// lease reaper without the HTTP/gRPC surface. Scale task throughput by
// running more of these.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/client"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/config"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/database"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/natsclient"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/service"
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
		ServiceName: cfg.Service.Name + "-worker",
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("version", cfg.Service.Version).
		Int("workers_per_capability", cfg.Engine.WorkersPerCap).
		Msg("Starting bookkeeping worker")

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
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	var nats *natsclient.Client
	if cfg.Nats.URL != "" {
		nats, err = natsclient.Connect(cfg.Nats.URL, cfg.Service.Name+"-worker")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nats.Close()
	}
	notifier := client.NewNotificationPublisher(nats, log.Logger)

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

	ocr := client.NewOCRClient(cfg.Engine.OCRServiceURL)
	reasoner := client.NewReasoningClient(cfg.Engine.ReasoningServiceURL)
	rates := client.NewCurrencyClient(cfg.Engine.CurrencyServiceURL)

	postingService := service.NewPostingService(voucherRepo, accountRepo, periodRepo, auditRepo, notifier, log)
	patternService := service.NewPatternService(patternRepo, correctionRepo, auditRepo, notifier, log)
	orchestrator := service.NewOrchestrator(eventRepo, taskRepo, auditRepo, log,
		cfg.Engine.PollInterval, cfg.Engine.OrchestratorBatch, cfg.Engine.DefaultMaxRetries)

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker...")
	cancel()
	wg.Wait()
	log.Info().Msg("Worker stopped")
}
