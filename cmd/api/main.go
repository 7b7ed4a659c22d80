package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/calderahq/backoffice-backend/api/routes"
	"github.com/calderahq/backoffice-backend/internal/batches"
	"github.com/calderahq/backoffice-backend/internal/catalog"
	"github.com/calderahq/backoffice-backend/internal/fulfillment"
	"github.com/calderahq/backoffice-backend/internal/orders"
	"github.com/calderahq/backoffice-backend/internal/pricing"
	"github.com/calderahq/backoffice-backend/internal/stockledger"
	"github.com/calderahq/backoffice-backend/pkg/config"
	"github.com/calderahq/backoffice-backend/pkg/db"
	"github.com/calderahq/backoffice-backend/pkg/logger"
	"github.com/calderahq/backoffice-backend/pkg/metrics"
	"github.com/calderahq/backoffice-backend/pkg/migrate"
	"github.com/calderahq/backoffice-backend/pkg/outbox"
	"github.com/calderahq/backoffice-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	promRegistry := prometheus.NewRegistry()
	fulfillmentMetrics := metrics.NewFulfillmentMetrics(promRegistry)
	eventService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	stockService, err := stockledger.NewService(stockledger.NewRepository(dbClient.DB()), dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock ledger service", err)
		os.Exit(1)
	}

	pricingService, err := pricing.NewService(pricing.NewRepository(dbClient.DB()), dbClient, cfg.Pricing, eventService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create pricing service", err)
		os.Exit(1)
	}

	batchService, err := batches.NewService(batches.NewRepository(dbClient.DB()), stockledger.NewRepository(dbClient.DB()), cfg.Inventory)
	if err != nil {
		logg.Error(context.Background(), "failed to create batch service", err)
		os.Exit(1)
	}

	fulfillmentService, err := fulfillment.NewService(
		fulfillment.NewRepository(dbClient.DB()),
		orders.NewRepository(dbClient.DB()),
		stockService,
		dbClient,
		eventService,
		fulfillmentMetrics,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create fulfillment service", err)
		os.Exit(1)
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			redisClient,
			stockService,
			pricingService,
			batchService,
			fulfillmentService,
			catalogRepo,
			promRegistry,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
