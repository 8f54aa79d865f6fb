// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/presale-coordinator/internal/coordinator"
	"github.com/presale-coordinator/internal/logging"
	"github.com/presale-coordinator/internal/metrics"
	"github.com/presale-coordinator/internal/pricing"
	"github.com/presale-coordinator/internal/referral"
	"github.com/presale-coordinator/internal/types"
)

// Dependency interfaces, narrowed for testing

// SessionProvider hands out per-wallet purchase coordinators
type SessionProvider interface {
	Session(wallet string) (*coordinator.Coordinator, error)
	Lookup(wallet string) (*coordinator.Coordinator, bool)
}

// BalanceReader reads wallet balances per network
type BalanceReader interface {
	Balance(ctx context.Context, network types.Network, wallet string, currency types.Currency) (float64, error)
}

// ConfirmationReader serves the latest confirmed receipt per wallet
type ConfirmationReader interface {
	LatestReceipt(wallet string) (types.PurchaseReceipt, bool)
}

// PurchaseReader reads persisted purchases
type PurchaseReader interface {
	GetByID(ctx context.Context, id string) (*types.Purchase, error)
	ListByWallet(ctx context.Context, walletAddress string, limit int) ([]*types.Purchase, error)
}

// ReferralValidator resolves referral codes per wallet
type ReferralValidator interface {
	Validate(ctx context.Context, walletAddress, code string) referral.Status
	Status(walletAddress string) referral.Status
}

// Server represents the HTTP API server.
type Server struct {
	router        *mux.Router
	httpServer    *http.Server
	balances      BalanceReader
	sessions      SessionProvider
	resolver      *pricing.Resolver
	referrals     ReferralValidator
	purchases     PurchaseReader
	allocation    coordinator.AllocationSource
	confirmations ConfirmationReader
	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	logger        *logging.Logger
	config        *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int
	Burst           int
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	balances BalanceReader,
	sessions SessionProvider,
	resolver *pricing.Resolver,
	referrals ReferralValidator,
	purchases PurchaseReader,
	allocation coordinator.AllocationSource,
	confirmations ConfirmationReader,
	registry *prometheus.Registry,
	m *metrics.Metrics,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		balances:      balances,
		sessions:      sessions,
		resolver:      resolver,
		referrals:     referrals,
		purchases:     purchases,
		allocation:    allocation,
		confirmations: confirmations,
		registry:      registry,
		metrics:       m,
		logger:        logger.WithField("component", "api"),
		config:        config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	// Middleware order matters: recovery outermost, rate limiting after CORS
	s.router.Use(LoggingMiddleware(s.logger, s.metrics))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pricing endpoints
	api.HandleFunc("/payment-methods", s.handlePaymentMethods).Methods("GET")
	api.HandleFunc("/quote", s.handleQuote).Methods("GET")
	api.HandleFunc("/allocation", s.handleAllocation).Methods("GET")
	api.HandleFunc("/max-purchase", s.handleMaxPurchase).Methods("GET")

	// Purchase lifecycle endpoints
	api.HandleFunc("/purchases", s.handleSubmitPurchase).Methods("POST")
	api.HandleFunc("/purchases/state", s.handlePurchaseState).Methods("GET")
	api.HandleFunc("/purchases/dismiss", s.handleDismiss).Methods("POST")
	api.HandleFunc("/purchases/network", s.handleSetNetwork).Methods("POST")
	api.HandleFunc("/purchases/{id}", s.handleGetPurchase).Methods("GET")
	api.HandleFunc("/wallets/{wallet}/purchases", s.handleListPurchases).Methods("GET")
	api.HandleFunc("/wallets/{wallet}/confirmation", s.handleWalletConfirmation).Methods("GET")

	// Referral endpoints
	api.HandleFunc("/referral/validate", s.handleValidateReferral).Methods("POST")
	api.HandleFunc("/referral/status", s.handleReferralStatus).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "presale-coordinator",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the configured handler, used by tests
func (s *Server) Router() http.Handler {
	return s.router
}
