package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerlink/ledgerlink/internal/platform/httpx"
)

// ListerPort reads persisted activities.
type ListerPort interface {
	ListActivities(ctx context.Context, accountID string, limit int) ([]ActivityRecord, error)
}

// Handler exposes read access to imported activities.
type Handler struct {
	logger *slog.Logger
	lister ListerPort
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, lister ListerPort) *Handler {
	return &Handler{logger: logger, lister: lister}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/wallets/{id}/activities", h.listActivities)
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	records, err := h.lister.ListActivities(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.logger.Error("list activities", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if records == nil {
		records = []ActivityRecord{}
	}
	httpx.JSON(w, http.StatusOK, records)
}
