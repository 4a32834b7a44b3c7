package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/consumers"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/events"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/handler"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/cache"
	"github.com/pharmaflow/pharmaflow-backend/pkg/config"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/i18n"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("stock-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("stock-service", cfg.Server.Environment)
	log.Info().Msg("starting Stock Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, log); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	publisher, err := events.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Redis is optional; without it each instance caches in memory and
	// duplicate user events are applied again (the operator cache upsert is idempotent).
	var (
		rotationCache cache.VersionedCache = cache.NewInMemoryVersionedCache()
		seen          cache.IdempotencyStore
	)
	if cfg.Redis.Enabled() {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer client.Close()
		rotationCache = cache.NewRedisVersionedCache(client, "stock:rotation:")
		seen = cache.NewRedisIdempotencyStore(client, "")
	}

	// Repositories
	txRunner := repository.NewTxRunner(db)
	lotRepo := repository.NewLotRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	receptionRepo := repository.NewReceptionRepository(db)
	productRepo := repository.NewProductRepository(db)
	salesRepo := repository.NewSalesRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	auditRepo := repository.NewAuditTrailRepository(db)
	operatorRepo := repository.NewOperatorCacheRepository(db)

	// Services
	retry := database.RetryPolicy{
		MaxAttempts:     cfg.Stock.RetryMaxAttempts,
		InitialInterval: cfg.Stock.RetryInitialInterval,
		MaxInterval:     database.DefaultRetryPolicy().MaxInterval,
	}
	analytics := service.AnalyticsConfig{
		FIFOToleranceDays:    cfg.Stock.FIFOToleranceDays,
		VariationCoefficient: cfg.Stock.StockoutVariationCoefficient,
		LookbackDays:         cfg.Stock.VelocityLookbackDays,
		CacheTTL:             cfg.Stock.RotationCacheTTL,
	}
	policy := service.ReceptionPolicy{
		Lots: domain.LotPolicy{
			OneLotPerReception:     cfg.Stock.OneLotPerReception,
			AutoGenerateLotNumbers: cfg.Stock.AutoGenerateLotNumbers,
		},
		BatchSize: cfg.Stock.BatchSize,
		Atomic:    cfg.Stock.AtomicReception,
	}

	auditService := service.NewAuditService(auditRepo, log)
	ledgerService := service.NewLedgerService(txRunner, lotRepo, movementRepo, publisher, rotationCache, retry, log)
	lotService := service.NewLotService(ledgerService, lotRepo, productRepo, auditService, log)
	receptionService := service.NewReceptionService(receptionRepo, productRepo, ledgerService, auditService, publisher, policy, log)
	reconciliationService := service.NewReconciliationService(service.ReconciliationDeps{
		Tx:         txRunner,
		Sessions:   sessionRepo,
		Lots:       lotRepo,
		Movements:  movementRepo,
		Receptions: receptionRepo,
		Products:   productRepo,
		Sales:      salesRepo,
		Operators:  operatorRepo,
		Audit:      auditService,
		Publisher:  publisher,
	}, retry, cfg.Stock.BatchSize, log)
	rotationService := service.NewRotationService(lotRepo, movementRepo, productRepo, rotationCache, analytics, log)
	riskService := service.NewRiskService(lotRepo, movementRepo, analytics, log)
	alertService := service.NewAlertService(alertRepo, log)

	// Start user event consumer
	userConsumer, err := consumers.NewUserEventConsumer(rmq, consumers.NewUserEventHandler(operatorRepo, log), seen, cfg.Redis.IdempotencyTTL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create user event consumer")
	}
	if err := userConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start user event consumer")
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "http://localhost:3000" || origin == "http://localhost:5173" {
				return true
			}
			return strings.HasSuffix(origin, ".pharmaflow.io")
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "Accept-Language", "X-Tenant-ID", "X-Tenant-Slug"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)
	r.Use(httputil.TenantMiddleware)
	r.Use(httputil.OperatorMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "stock-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	r.Route("/api/v1/stock", handler.Routes(handler.Handlers{
		Receptions: handler.NewReceptionHandler(receptionService, log),
		Lots:       handler.NewLotHandler(lotService, riskService, log),
		Sessions:   handler.NewSessionHandler(reconciliationService, log),
		Analytics:  handler.NewAnalyticsHandler(rotationService, log),
		Alerts:     handler.NewAlertHandler(alertService, log),
	}))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
