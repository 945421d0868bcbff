package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerlink/ledgerlink/internal/aggregator"
	"github.com/ledgerlink/ledgerlink/internal/banksync"
	"github.com/ledgerlink/ledgerlink/internal/ledger"
	"github.com/ledgerlink/ledgerlink/internal/linking"
	"github.com/ledgerlink/ledgerlink/internal/observability"
	"github.com/ledgerlink/ledgerlink/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AggregatorHandler *aggregator.Handler
	LinkingHandler    *linking.Handler
	SyncHandler       *banksync.Handler
	LedgerHandler     *ledger.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with LedgerLink defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		if params.AggregatorHandler != nil {
			params.AggregatorHandler.MountRoutes(api)
		}
		if params.LinkingHandler != nil {
			params.LinkingHandler.MountRoutes(api)
		}
		if params.SyncHandler != nil {
			params.SyncHandler.MountRoutes(api)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(api)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", func(jr chi.Router) {
				params.JobHandler.MountRoutes(jr)
			})
		}
	})

	return r
}
