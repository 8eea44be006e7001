package endpoints

import (
	"errors"
	"net/http"
	"strings"

	"github.com/thenexusengine/adslot/internal/wallet"
	"github.com/thenexusengine/adslot/pkg/logger"
)

// OpenWalletRequest is the body of POST /wallets
type OpenWalletRequest struct {
	AdvertiserID string `json:"advertiserId"`
	Currency     string `json:"currency"`
	wallet.Limits
}

// RejectionResponse is returned when a transaction fails validation
type RejectionResponse struct {
	Error   string          `json:"error"`
	Valid   bool            `json:"isValid"`
	Reasons []wallet.Reason `json:"reasons"`
}

// WalletHandler serves the wallet endpoints
type WalletHandler struct {
	ledger *wallet.Ledger
}

// NewWalletHandler creates a new wallet handler
func NewWalletHandler(ledger *wallet.Ledger) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// Register adds the wallet routes to mux
func (h *WalletHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /wallets", h.Open)
	mux.HandleFunc("GET /wallets/{advertiserId}", h.Get)
	mux.HandleFunc("POST /wallets/{advertiserId}/transactions", h.Apply)
	mux.HandleFunc("POST /wallets/{advertiserId}/transactions/validate", h.Validate)
}

// Open handles POST /wallets
func (h *WalletHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req OpenWalletRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	acc, err := h.ledger.Open(r.Context(), strings.TrimSpace(req.AdvertiserID), req.Currency, req.Limits)
	switch {
	case errors.Is(err, wallet.ErrAccountExists):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, wallet.ErrInvalidAccount):
		writeError(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		logger.Wallet(req.AdvertiserID).Error().Err(err).Msg("Failed to open wallet")
		writeError(w, "Internal server error", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusCreated, acc)
	}
}

// Get handles GET /wallets/{advertiserId}
func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	advertiserID := r.PathValue("advertiserId")

	acc, err := h.ledger.Account(r.Context(), advertiserID)
	if err != nil {
		h.writeLedgerError(w, advertiserID, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// Apply handles POST /wallets/{advertiserId}/transactions
func (h *WalletHandler) Apply(w http.ResponseWriter, r *http.Request) {
	advertiserID := r.PathValue("advertiserId")

	var tx wallet.Transaction
	if err := decodeBody(r, &tx); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	receipt, err := h.ledger.Apply(r.Context(), advertiserID, tx)
	if err != nil {
		h.writeLedgerError(w, advertiserID, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// Validate handles POST /wallets/{advertiserId}/transactions/validate. An
// invalid transaction is still a 200; the body carries the reasons.
func (h *WalletHandler) Validate(w http.ResponseWriter, r *http.Request) {
	advertiserID := r.PathValue("advertiserId")

	var tx wallet.Transaction
	if err := decodeBody(r, &tx); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	v, err := h.ledger.Validate(r.Context(), advertiserID, tx)
	if err != nil {
		h.writeLedgerError(w, advertiserID, err)
		return
	}
	if v.Reasons == nil {
		v.Reasons = []wallet.Reason{}
	}
	writeJSON(w, http.StatusOK, v)
}

// rejectionStatus is 409 when the account state blocks the transaction and
// 422 when the transaction itself is malformed
func rejectionStatus(err error) int {
	if errors.Is(err, wallet.ErrInsufficientBalance) || errors.Is(err, wallet.ErrLimitExceeded) {
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func (h *WalletHandler) writeLedgerError(w http.ResponseWriter, advertiserID string, err error) {
	var rejected *wallet.RejectedError
	switch {
	case errors.As(err, &rejected):
		writeJSON(w, rejectionStatus(err), RejectionResponse{
			Error:   err.Error(),
			Valid:   false,
			Reasons: rejected.Reasons,
		})
	case errors.Is(err, wallet.ErrAccountNotFound):
		writeError(w, "wallet not found", http.StatusNotFound)
	case errors.Is(err, wallet.ErrConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, "wallet is busy, retry", http.StatusServiceUnavailable)
	default:
		logger.Wallet(advertiserID).Error().Err(err).Msg("Wallet operation failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}
