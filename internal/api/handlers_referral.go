package api

import (
	"net/http"
)

// validateReferralRequest is the request body for referral validation
type validateReferralRequest struct {
	WalletAddress string `json:"walletAddress"`
	Code          string `json:"code"`
}

// handleValidateReferral resolves a referral code for a wallet. The
// resolved status gates future purchase submissions for that wallet.
func (s *Server) handleValidateReferral(w http.ResponseWriter, r *http.Request) {
	var req validateReferralRequest
	if err := parseJSONBody(r, &req); err != nil || req.WalletAddress == "" || req.Code == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "walletAddress and code are required", nil)
		return
	}

	status := s.referrals.Validate(r.Context(), req.WalletAddress, req.Code)
	respondJSON(w, http.StatusOK, status)
}

// handleReferralStatus returns the wallet's current referral status
func (s *Server) handleReferralStatus(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("walletAddress")
	if wallet == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "walletAddress query parameter is required", nil)
		return
	}

	respondJSON(w, http.StatusOK, s.referrals.Status(wallet))
}
