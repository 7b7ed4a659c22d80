package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calderahq/backoffice-backend/api/controllers"
	"github.com/calderahq/backoffice-backend/api/middleware"
	"github.com/calderahq/backoffice-backend/internal/batches"
	"github.com/calderahq/backoffice-backend/internal/catalog"
	"github.com/calderahq/backoffice-backend/internal/fulfillment"
	"github.com/calderahq/backoffice-backend/internal/pricing"
	"github.com/calderahq/backoffice-backend/internal/stockledger"
	"github.com/calderahq/backoffice-backend/pkg/config"
	"github.com/calderahq/backoffice-backend/pkg/db"
	"github.com/calderahq/backoffice-backend/pkg/logger"
	pkgredis "github.com/calderahq/backoffice-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	database db.Pinger,
	cache pkgredis.Pinger,
	idemStore pkgredis.IdempotencyStore,
	stockService stockledger.Service,
	pricingService pricing.Service,
	batchService batches.Service,
	fulfillmentService fulfillment.Service,
	variants *catalog.Repository,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, database, cache, logg))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Route("/inventory/{variantID}", func(r chi.Router) {
			r.Get("/availability", controllers.GetAvailability(stockService, logg))
			r.Put("/locations/{locationID}", controllers.UpsertStock(stockService, logg))
		})

		r.Route("/variants/{variantID}", func(r chi.Router) {
			r.Get("/price", controllers.QuotePrice(pricingService, variants, logg))
			r.Get("/price-tiers", controllers.ListPriceTiers(pricingService, logg))
			r.Post("/price-tiers", controllers.CreatePriceTier(pricingService, logg))
		})
		r.Route("/price-tiers/{tierID}", func(r chi.Router) {
			r.Put("/", controllers.UpdatePriceTier(pricingService, logg))
			r.Delete("/", controllers.DeletePriceTier(pricingService, logg))
		})

		r.Route("/stock-records/{recordID}/batches", func(r chi.Router) {
			r.Get("/", controllers.ListBatches(batchService, logg))
			r.Post("/", controllers.CreateBatch(batchService, logg))
		})
		r.Route("/batches", func(r chi.Router) {
			r.Get("/expiring", controllers.ExpiringBatches(batchService, logg))
			r.Get("/expired", controllers.ExpiredBatches(batchService, logg))
			r.Put("/{batchID}", controllers.UpdateBatch(batchService, logg))
			r.Delete("/{batchID}", controllers.DeleteBatch(batchService, logg))
		})

		r.Route("/orders/{orderID}/shipments", func(r chi.Router) {
			r.Get("/", controllers.ListOrderShipments(fulfillmentService, logg))
			r.Post("/", controllers.CreateShipment(fulfillmentService, logg))
		})
		r.Route("/shipments/{shipmentID}", func(r chi.Router) {
			r.Get("/", controllers.GetShipment(fulfillmentService, logg))
			r.Post("/transition", controllers.TransitionShipment(fulfillmentService, logg))
			r.Delete("/", controllers.DeleteShipment(fulfillmentService, logg))
		})
	})

	return r
}
