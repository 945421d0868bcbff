package aggregator

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ledgerlink/ledgerlink/internal/platform/httpx"
)

// Handler exposes credentials management and institution lookups.
type Handler struct {
	logger   *slog.Logger
	tokens   *TokenManager
	client   *Client
	validate *validator.Validate
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, tokens *TokenManager, client *Client) *Handler {
	return &Handler{
		logger:   logger,
		tokens:   tokens,
		client:   client,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/institutions", h.listInstitutions)
	r.Get("/institutions/{id}", h.getInstitution)
	r.Get("/credentials", h.credentialsStatus)
	r.Put("/credentials", h.putCredentials)
	r.Delete("/credentials", h.deleteCredentials)
}

func (h *Handler) listInstitutions(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	if country == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "country query parameter required")
		return
	}
	institutions, err := h.client.Institutions(r.Context(), country)
	if err != nil {
		h.respondError(w, "list institutions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, institutions)
}

func (h *Handler) getInstitution(w http.ResponseWriter, r *http.Request) {
	institution, err := h.client.Institution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get institution", err)
		return
	}
	httpx.JSON(w, http.StatusOK, institution)
}

func (h *Handler) credentialsStatus(w http.ResponseWriter, r *http.Request) {
	configured, err := h.tokens.CredentialsConfigured(r.Context())
	if err != nil {
		h.respondError(w, "credentials status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"configured": configured})
}

func (h *Handler) putCredentials(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := httpx.DecodeJSON(r, &creds); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(creds); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.tokens.SaveCredentials(r.Context(), creds); err != nil {
		h.respondError(w, "save credentials", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteCredentials(w http.ResponseWriter, r *http.Request) {
	if err := h.tokens.DeleteCredentials(r.Context()); err != nil {
		h.respondError(w, "delete credentials", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrCredentialsMissing):
		httpx.Problem(w, http.StatusPreconditionFailed, "Credentials Missing", err.Error())
	case errors.As(err, &apiErr):
		httpx.Problem(w, http.StatusBadGateway, "Aggregator Error", apiErr.Detail)
	default:
		httpx.RespondError(w, err)
	}
}
