package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/presale-coordinator/internal/types"
)

// submitPurchaseRequest is the request body for submitting a purchase
type submitPurchaseRequest struct {
	WalletAddress string `json:"walletAddress"`
	Network       string `json:"network,omitempty"`
	Currency      string `json:"currency"`
	Amount        string `json:"amount"`
	ReferralCode  string `json:"referralCode,omitempty"`
	SignedPayload string `json:"signedPayload,omitempty"`
}

// walletRequest is the request body for wallet-scoped lifecycle actions
type walletRequest struct {
	WalletAddress string `json:"walletAddress"`
	Network       string `json:"network,omitempty"`
}

// handleSubmitPurchase validates and broadcasts a purchase attempt for the
// wallet's session, returning the resulting lifecycle state.
func (s *Server) handleSubmitPurchase(w http.ResponseWriter, r *http.Request) {
	var req submitPurchaseRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "walletAddress is required", nil)
		return
	}

	coord, err := s.sessions.Session(req.WalletAddress)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// an explicit network in the request is a chain switch
	if req.Network != "" && types.Network(req.Network) != coord.Network() {
		coord.SetNetwork(r.Context(), types.Network(req.Network))
	}

	state, err := coord.Submit(r.Context(), &types.PurchaseIntent{
		WalletAddress: req.WalletAddress,
		Currency:      types.Currency(req.Currency),
		Amount:        req.Amount,
		ReferralCode:  req.ReferralCode,
		SignedPayload: req.SignedPayload,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, state)
}

// handlePurchaseState returns the wallet session's current lifecycle state
func (s *Server) handlePurchaseState(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("walletAddress")
	if wallet == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "walletAddress query parameter is required", nil)
		return
	}

	coord, ok := s.sessions.Lookup(wallet)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No purchase session for wallet", nil)
		return
	}

	respondJSON(w, http.StatusOK, coord.State())
}

// handleDismiss clears the wallet session's current attempt
func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := parseJSONBody(r, &req); err != nil || req.WalletAddress == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "walletAddress is required", nil)
		return
	}

	coord, ok := s.sessions.Lookup(req.WalletAddress)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No purchase session for wallet", nil)
		return
	}

	coord.Dismiss(r.Context())
	respondJSON(w, http.StatusOK, coord.State())
}

// handleSetNetwork switches the wallet session's active network
func (s *Server) handleSetNetwork(w http.ResponseWriter, r *http.Request) {
	var req walletRequest
	if err := parseJSONBody(r, &req); err != nil || req.WalletAddress == "" || req.Network == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "walletAddress and network are required", nil)
		return
	}

	coord, err := s.sessions.Session(req.WalletAddress)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	coord.SetNetwork(r.Context(), types.Network(req.Network))
	respondJSON(w, http.StatusOK, coord.State())
}

// handleGetPurchase returns one persisted purchase by ID
func (s *Server) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	purchase, err := s.purchases.GetByID(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, purchase)
}

// handleListPurchases returns a wallet's persisted purchases
func (s *Server) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	purchases, err := s.purchases.ListByWallet(r.Context(), wallet, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"purchases": purchases,
		"count":     len(purchases),
	})
}

// handleWalletConfirmation returns the wallet's latest confirmed receipt.
// The receipt outlives the attempt state, so the confirmation page can
// still render it after a dismiss.
func (s *Server) handleWalletConfirmation(w http.ResponseWriter, r *http.Request) {
	wallet := mux.Vars(r)["wallet"]

	receipt, ok := s.confirmations.LatestReceipt(wallet)
	if !ok {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No confirmed purchase for wallet", nil)
		return
	}

	respondJSON(w, http.StatusOK, receipt)
}
