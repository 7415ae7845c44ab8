package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/client"
	"github.com/pesio-ai/be-spend-approvals/internal/config"
	"github.com/pesio-ai/be-spend-approvals/internal/database"
	"github.com/pesio-ai/be-spend-approvals/internal/handler"
	"github.com/pesio-ai/be-spend-approvals/internal/middleware"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/service"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.Service.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Logger()

	log.Info().
		Str("environment", cfg.Service.Environment).
		Msg("Starting Spend Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Repositories
	approvalRepo := repository.NewApprovalRepository(db)
	itemRepo := repository.NewItemRepository(db)
	userRepo := repository.NewUserRepository(db)
	policyRepo := repository.NewPolicyRepository(db)
	eventRepo := repository.NewEventRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// External clients
	ledgerClient := client.NewLedgerClient(cfg.Ledger.BaseURL, cfg.Ledger.Timeout)

	notifier, err := client.NewNotificationPublisher(cfg.NATS.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	defer notifier.Close()
	if cfg.NATS.URL == "" {
		log.Warn().Msg("NATS URL not configured; notifications disabled")
	}

	// Services
	identitySvc := service.NewIdentityService(userRepo, cfg.Approval.LegacyRoleLimit)
	policySvc := service.NewPolicyService(policyRepo, log)
	routingSvc := service.NewRoutingService(userRepo, cfg.Approval, log)
	dispatcher := service.NewOutboxDispatcher(outboxRepo, ledgerClient, cfg.Ledger.CashAccountID, log)
	submissionSvc := service.NewSubmissionService(approvalRepo, policySvc, routingSvc, eventRepo, notifier, log)
	transitionSvc := service.NewTransitionService(approvalRepo, itemRepo, eventRepo, dispatcher, notifier, log)
	delegationSvc := service.NewDelegationService(approvalRepo, itemRepo, userRepo, notifier, log)
	escalationSvc := service.NewEscalationService(approvalRepo, itemRepo, userRepo, dispatcher, notifier, cfg.Escalation, log)
	analyticsSvc := service.NewAnalyticsService(approvalRepo, cfg.Escalation, log)
	policyAdminSvc := service.NewPolicyAdminService(policyRepo, log)

	// HTTP surface
	httpHandler := handler.NewHTTPHandler(
		identitySvc,
		submissionSvc,
		transitionSvc,
		delegationSvc,
		escalationSvc,
		analyticsSvc,
		policyAdminSvc,
		dispatcher,
		log,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	httpHandler.Register(mux)

	var h http.Handler = mux
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)
	h = middleware.Logger(&log)(h)
	h = middleware.Recovery(&log)(h)
	h = middleware.RequestID(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
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

	// Graceful shutdown
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
