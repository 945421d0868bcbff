package banksync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerlink/ledgerlink/internal/aggregator"
	"github.com/ledgerlink/ledgerlink/internal/linking"
	"github.com/ledgerlink/ledgerlink/internal/platform/httpx"
)

// Enqueuer hands a full sync run to the background worker.
type Enqueuer interface {
	EnqueueSyncAll(ctx context.Context) error
}

// Handler exposes sync and balance endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer Enqueuer
}

// NewHandler builds the handler. enqueuer may be nil; POST /sync then runs
// inline instead of on the worker.
func NewHandler(logger *slog.Logger, service *Service, enqueuer Enqueuer) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sync", h.syncAll)
	r.Post("/sync/accounts/{id}", h.syncAccount)
	r.Get("/accounts/{id}/balance", h.balance)
}

type syncRequest struct {
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`
}

func (r syncRequest) options() (SyncOptions, error) {
	var opts SyncOptions
	if r.DateFrom != "" {
		from, err := time.Parse(dateLayout, r.DateFrom)
		if err != nil {
			return opts, err
		}
		opts.DateFrom = from
	}
	if r.DateTo != "" {
		to, err := time.Parse(dateLayout, r.DateTo)
		if err != nil {
			return opts, err
		}
		opts.DateTo = to
	}
	return opts, nil
}

func (h *Handler) syncAll(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer != nil {
		if err := h.enqueuer.EnqueueSyncAll(r.Context()); err != nil {
			h.respondError(w, "enqueue sync", err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "enqueued"})
		return
	}

	results, err := h.service.SyncEligible(r.Context(), SyncOptions{})
	if err != nil {
		h.respondError(w, "sync all", err)
		return
	}
	httpx.JSON(w, http.StatusOK, results)
}

func (h *Handler) syncAccount(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
			return
		}
	}
	opts, err := req.options()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "dates must be formatted YYYY-MM-DD")
		return
	}

	result, err := h.service.SyncOne(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		h.respondError(w, "sync account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "account balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	var apiErr *aggregator.APIError
	switch {
	case errors.Is(err, linking.ErrAccountNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, aggregator.ErrCredentialsMissing):
		httpx.Problem(w, http.StatusPreconditionFailed, "Credentials Missing", err.Error())
	case errors.As(err, &apiErr):
		httpx.Problem(w, http.StatusBadGateway, "Aggregator Error", apiErr.Detail)
	default:
		httpx.RespondError(w, err)
	}
}
