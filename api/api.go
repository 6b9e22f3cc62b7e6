// Package api exposes the vault ledger over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oasisprotocol/vaulthub/config"
	"github.com/oasisprotocol/vaulthub/hub"
	"github.com/oasisprotocol/vaulthub/ingestion"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/metrics"
	"github.com/oasisprotocol/vaulthub/oracle"
	"github.com/oasisprotocol/vaulthub/storage"
	"github.com/oasisprotocol/vaulthub/vault"
)

const (
	moduleName = "api"

	// CallerHeader carries the address of the authenticated caller.
	CallerHeader = "X-Caller"
	// RequestIDHeader echoes the id assigned to each request.
	RequestIDHeader = "X-Request-ID"

	defaultRequestTimeout = 30 * time.Second
)

// Services are the components the API serves.
type Services struct {
	Hub      *hub.Hub
	Vaults   *vault.Registry
	Oracle   *oracle.Pool
	Ingester *ingestion.Ingester
	Store    storage.LedgerStorage
}

// Handler serves the v1 API.
type Handler struct {
	Services
	snapshots ingestion.LedgerSnapshotter
	logger    *log.Logger
}

func NewHandler(s Services, logger *log.Logger) *Handler {
	return &Handler{
		Services:  s,
		snapshots: ingestion.LedgerSnapshotter{Hub: s.Hub, Vaults: s.Vaults},
		logger:    logger.WithModule(moduleName),
	}
}

// RegisterRoutes registers the v1 routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/vaults", h.listVaults)
		r.Post("/vaults", h.createVault)
		r.Route("/vaults/{vault}", func(r chi.Router) {
			r.Get("/", h.getVault)
			r.Get("/withdrawable", h.getWithdrawable)
			r.Get("/health", h.getHealth)
			r.Get("/obligations", h.getObligations)
			r.Get("/reports/latest", h.getLatestReport)

			r.Post("/attach", h.attach)
			r.Post("/connect", h.connect)
			r.Post("/update", h.updateConnection)
			r.Post("/fund", h.fund)
			r.Post("/withdraw", h.withdraw)
			r.Post("/deposit", h.depositToBeaconChain)
			r.Post("/trigger_withdrawals", h.triggerValidatorWithdrawals)
			r.Post("/mint", h.mint)
			r.Post("/burn", h.burn)
			r.Post("/rebalance", h.rebalance)
			r.Post("/force_rebalance", h.forceRebalance)
			r.Post("/redemption", h.setRedemption)
			r.Post("/settle", h.settle)
			r.Post("/disconnect", h.disconnect)
			r.Post("/finalize_disconnect", h.finalizeDisconnect)
		})
		r.Post("/reports", h.submitReport)
		r.Get("/events", h.listEvents)
		r.Get("/oracle", h.getOracle)
	})
}

// NewRouter wires the handler with the middleware stack.
func NewRouter(s Services, cfg config.ServerConfig, logger *log.Logger) http.Handler {
	timeout := defaultRequestTimeout
	if cfg.RequestTimeout != nil {
		timeout = *cfg.RequestTimeout
	}
	apiLogger := logger.WithModule(moduleName)

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(metrics.NewDefaultRequestMetrics(moduleName), apiLogger))
	r.Use(CorsMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	NewHandler(s, logger).RegisterRoutes(r)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		HumanReadableJsonErrorHandler(w, r, ErrNotFound)
	})
	return r
}
