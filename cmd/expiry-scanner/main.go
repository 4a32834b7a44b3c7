package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/events"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/config"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

// The expiry scanner walks every active tenant on a fixed interval, grades
// lots that expire within the horizon and raises alerts for high and
// critical ones. It never writes to the ledger.
func main() {
	cfg, err := config.LoadWithValidation("expiry-scanner")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("expiry-scanner", cfg.Server.Environment)
	log.Info().
		Dur("interval", cfg.Scanner.Interval).
		Int("horizon_days", cfg.Scanner.HorizonDays).
		Msg("starting Expiry Scanner")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	publisher, err := events.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	analytics := service.AnalyticsConfig{
		FIFOToleranceDays:    cfg.Stock.FIFOToleranceDays,
		VariationCoefficient: cfg.Stock.StockoutVariationCoefficient,
		LookbackDays:         cfg.Stock.VelocityLookbackDays,
	}
	scanner := service.NewAlertScanner(
		repository.NewLotRepository(db),
		repository.NewMovementRepository(db),
		repository.NewAlertRepository(db),
		publisher,
		analytics,
		cfg.Scanner.HorizonDays,
		log,
	)
	scheduler := service.NewAlertScheduler(scanner, repository.NewTenantRepository(db), cfg.Scanner.Interval, log)

	scheduler.Start(context.Background())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down expiry scanner")
	scheduler.Stop()
	log.Info().Msg("expiry scanner stopped")
}
