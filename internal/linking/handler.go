package linking

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ledgerlink/ledgerlink/internal/aggregator"
	"github.com/ledgerlink/ledgerlink/internal/platform/httpx"
)

// Handler exposes requisition and linked-account management.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/agreements", h.createAgreement)
	r.Post("/requisitions", h.createRequisition)
	r.Get("/requisitions", h.listRequisitions)
	r.Get("/requisitions/{id}", h.getRequisition)
	r.Delete("/requisitions/{id}", h.deleteRequisition)
	r.Post("/requisitions/{id}/promote", h.promote)
	r.Post("/requisitions/cleanup", h.cleanup)
	r.Get("/accounts", h.listAccounts)
	r.Put("/accounts/{id}/wallet", h.mapWallet)
}

func (h *Handler) createAgreement(w http.ResponseWriter, r *http.Request) {
	var input CreateAgreementInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	agreement, err := h.service.CreateAgreement(r.Context(), input)
	if err != nil {
		h.respondError(w, "create agreement", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, agreement)
}

func (h *Handler) createRequisition(w http.ResponseWriter, r *http.Request) {
	var input CreateRequisitionInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req, err := h.service.CreateRequisition(r.Context(), input)
	if err != nil {
		h.respondError(w, "create requisition", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) listRequisitions(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.service.ListRequisitions(r.Context())
	if err != nil {
		h.respondError(w, "list requisitions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, reqs)
}

func (h *Handler) getRequisition(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.GetRequisition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get requisition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) deleteRequisition(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRequisition(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, "delete requisition", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) promote(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.Promote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "promote requisition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.CleanupStale(r.Context())
	if err != nil {
		h.respondError(w, "cleanup requisitions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.LinkedAccounts(r.Context())
	if err != nil {
		h.respondError(w, "list accounts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) mapWallet(w http.ResponseWriter, r *http.Request) {
	var input struct {
		WalletAccountID string `json:"wallet_account_id"`
	}
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	account, err := h.service.MapWalletAccount(r.Context(), chi.URLParam(r, "id"), input.WalletAccountID)
	if err != nil {
		h.respondError(w, "map wallet account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	var apiErr *aggregator.APIError
	switch {
	case errors.Is(err, ErrNotLinked):
		httpx.Problem(w, http.StatusConflict, "Not Linked", err.Error())
	case errors.Is(err, ErrAccountNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, aggregator.ErrCredentialsMissing):
		httpx.Problem(w, http.StatusPreconditionFailed, "Credentials Missing", err.Error())
	case errors.As(err, &apiErr):
		httpx.Problem(w, http.StatusBadGateway, "Aggregator Error", apiErr.Detail)
	default:
		httpx.RespondError(w, err)
	}
}
