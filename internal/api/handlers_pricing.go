package api

import (
	"errors"
	"net/http"

	"github.com/presale-coordinator/internal/adapter"
	"github.com/presale-coordinator/internal/pricing"
	"github.com/presale-coordinator/internal/types"
)

// handlePaymentMethods returns the payment currencies available on a network
func (s *Server) handlePaymentMethods(w http.ResponseWriter, r *http.Request) {
	network := types.Network(r.URL.Query().Get("network"))
	if network == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "network query parameter is required", nil)
		return
	}

	methods := pricing.MethodsForNetwork(network)
	if methods == nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "unknown network", map[string]interface{}{
			"network": string(network),
		})
		return
	}

	response := map[string]interface{}{
		"network": network,
		"methods": methods,
	}
	if currency, ok := pricing.DefaultCurrency(network); ok {
		response["defaultCurrency"] = currency
	}

	respondJSON(w, http.StatusOK, response)
}

// handleQuote prices an amount of a payment currency in USD and sale tokens
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	network := types.Network(r.URL.Query().Get("network"))
	currency := types.Currency(r.URL.Query().Get("currency"))
	amount := r.URL.Query().Get("amount")
	if network == "" || currency == "" || amount == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "network, currency and amount query parameters are required", nil)
		return
	}

	quote, err := s.resolver.Quote(r.Context(), network, currency, amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	stage, err := s.resolver.ActiveStage()
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"quote": quote,
		"stage": stage,
	})
}

// handleAllocation reports the active stage and its remaining allocation
func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	stage, err := s.resolver.ActiveStage()
	if err != nil {
		respondServiceError(w, err)
		return
	}

	raised, err := s.allocation.RaisedUSD(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	remaining := stage.CapUSD - raised
	if remaining < 0 {
		remaining = 0
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stage":     stage,
		"raisedUsd": raised,
		"remaining": remaining,
	})
}

// handleMaxPurchase returns the largest amount of a currency the wallet can
// spend: the remaining stage allocation converted to the currency, capped
// by the wallet's balance
func (s *Server) handleMaxPurchase(w http.ResponseWriter, r *http.Request) {
	network := types.Network(r.URL.Query().Get("network"))
	currency := types.Currency(r.URL.Query().Get("currency"))
	wallet := r.URL.Query().Get("walletAddress")
	if network == "" || currency == "" || wallet == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "network, currency and walletAddress query parameters are required", nil)
		return
	}

	balance, err := s.balances.Balance(r.Context(), network, wallet, currency)
	if err != nil {
		if errors.Is(err, adapter.ErrUnsupportedNetwork) {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "unknown network", nil)
			return
		}
		respondServiceError(w, err)
		return
	}

	raised, err := s.allocation.RaisedUSD(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	max, err := s.resolver.MaxPurchase(r.Context(), network, currency, raised, balance)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"network":     network,
		"currency":    currency,
		"maxPurchase": max,
	})
}
