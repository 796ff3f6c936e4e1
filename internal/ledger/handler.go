package ledger

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-bank/meridian-bank/internal/observability"
	"github.com/meridian-bank/meridian-bank/internal/shared"
)

// Handler wires HTTP endpoints for accounts and funding.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	metrics   *observability.Metrics
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		metrics:   metrics,
		validator: validator.New(),
	}
}

// MountRoutes registers account routes on the provided router. Callers must
// wrap the router with session validation.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleOpenAccount)
	r.Get("/", h.handleListAccounts)
	r.Get("/{accountID}", h.handleAccountView)
	r.Get("/{accountID}/transactions", h.handleTransactions)
	r.Post("/{accountID}/fund", h.handleFund)
}

type openAccountRequest struct {
	OpeningBalanceMinor int64  `json:"opening_balance_minor" validate:"gte=0"`
	Currency            string `json:"currency" validate:"omitempty,len=3"`
}

type fundRequest struct {
	AmountMinor int64  `json:"amount_minor" validate:"required,gt=0"`
	Description string `json:"description" validate:"max=255"`
}

func (h *Handler) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req openAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation failed")
		return
	}
	acc, err := h.service.OpenAccount(r.Context(), ownerID, req.OpeningBalanceMinor, req.Currency)
	if err != nil {
		h.writeServiceError(w, err, "open account")
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	accounts, err := h.service.Accounts(r.Context(), ownerID)
	if err != nil {
		h.writeServiceError(w, err, "list accounts")
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) handleAccountView(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	accountID, err := parseAccountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	acc, err := h.service.AccountView(r.Context(), accountID, ownerID)
	if err != nil {
		h.writeServiceError(w, err, "account view")
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *Handler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	accountID, err := parseAccountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	txs, err := h.service.Transactions(r.Context(), accountID, ownerID)
	if err != nil {
		h.writeServiceError(w, err, "transactions view")
		return
	}
	if txs == nil {
		txs = []Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) handleFund(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := shared.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	accountID, err := parseAccountID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req fundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.metrics.RecordFunding("rejected")
		writeError(w, http.StatusUnprocessableEntity, "amount must be a positive integer of minor units")
		return
	}

	result, err := h.service.Fund(r.Context(), accountID, ownerID, req.AmountMinor, req.Description)
	if err != nil {
		var vErr *shared.ValidationError
		switch {
		case errors.As(err, &vErr):
			h.metrics.RecordFunding("rejected")
			writeError(w, http.StatusUnprocessableEntity, vErr.Error())
		case errors.Is(err, shared.ErrConcurrencyConflict):
			h.metrics.RecordFunding("conflict")
			writeError(w, http.StatusConflict, "account busy, retry")
		default:
			// Funding failures surface as a server error with a generic
			// message; no partial or synthetic balance ever leaves here.
			h.metrics.RecordFunding("error")
			h.logger.Error("fund", slog.Int64("account", accountID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "funding failed")
		}
		return
	}

	h.metrics.RecordFunding("ok")
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	var vErr *shared.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusUnprocessableEntity, vErr.Error())
	case errors.Is(err, shared.ErrNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	default:
		h.logger.Error(op, slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

func parseAccountID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
