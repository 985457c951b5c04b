// Package api exposes the settlement HTTP surface: intent submission,
// record lookup, merchant settings, and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arcpay-hq/settler/pkg/attestation"
	"github.com/arcpay-hq/settler/pkg/chains"
	"github.com/arcpay-hq/settler/pkg/circuitbreaker"
	"github.com/arcpay-hq/settler/pkg/gateway"
	"github.com/arcpay-hq/settler/pkg/ledger"
	"github.com/arcpay-hq/settler/pkg/logger"
	"github.com/arcpay-hq/settler/pkg/merchant"
	"github.com/arcpay-hq/settler/pkg/models"
	"github.com/arcpay-hq/settler/pkg/settlement"
)

// defaultMerchantID is used by the settings endpoints when no merchant_id
// query parameter is given.
const defaultMerchantID = "default"

// Settler runs payment intents to a terminal settlement record.
type Settler interface {
	Settle(ctx context.Context, intent models.PaymentIntent) (*models.SettlementRecord, error)
	Get(ctx context.Context, burnTxHash string) (*models.SettlementRecord, error)
}

// SettingsStore is the writable merchant settings backend.
type SettingsStore interface {
	merchant.Directory
	SaveSettings(ctx context.Context, merchantID string, s merchant.Settings) error
}

// Server is the settlement HTTP server.
type Server struct {
	port          string
	settler       Settler
	settings      SettingsStore
	registry      *gateway.Registry
	breakers      map[chains.ChainID]*circuitbreaker.CircuitBreaker
	metricsAPIKey string
	logger        logger.Logger

	httpServer *http.Server
}

// NewServer creates the settlement HTTP server
func NewServer(
	port string,
	settler Settler,
	settings SettingsStore,
	registry *gateway.Registry,
	breakers map[chains.ChainID]*circuitbreaker.CircuitBreaker,
	metricsAPIKey string,
	log logger.Logger,
) *Server {
	return &Server{
		port:          port,
		settler:       settler,
		settings:      settings,
		registry:      registry,
		breakers:      breakers,
		metricsAPIKey: metricsAPIKey,
		logger:        log,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/settlements", s.handleCreateSettlement).Methods(http.MethodPost)
	api.HandleFunc("/settlements/{burnTxHash}", s.handleGetSettlement).Methods(http.MethodGet)
	api.HandleFunc("/merchant/settings", s.handleGetMerchantSettings).Methods(http.MethodGet)
	api.HandleFunc("/merchant/settings", s.handleSaveMerchantSettings).Methods(http.MethodPost)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler())).Methods(http.MethodGet)

	return router
}

// Start serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting settlement API server on port %s", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// handleCreateSettlement runs a payment intent to its terminal state and
// returns the settlement record. The settlement runs on the request
// goroutine, so a client disconnect cancels it.
func (s *Server) handleCreateSettlement(w http.ResponseWriter, r *http.Request) {
	var intent models.PaymentIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	record, err := s.settler.Settle(r.Context(), intent)
	if err != nil {
		s.writeSettleError(w, record, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// writeSettleError maps settlement errors onto HTTP statuses. When a record
// exists the terminal record is the response body, so callers always see
// which steps ran.
func (s *Server) writeSettleError(w http.ResponseWriter, record *models.SettlementRecord, err error) {
	var (
		invalid     *settlement.ValidationError
		unsupported *gateway.UnsupportedChainError
		timeout     *attestation.TimeoutError
		submission  *settlement.ChainSubmissionError
		duplicate   *ledger.DuplicateRecordError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &invalid), errors.As(err, &unsupported):
		status = http.StatusBadRequest
	case errors.Is(err, merchant.ErrNotConfigured):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, settlement.ErrConflict), errors.As(err, &duplicate):
		status = http.StatusConflict
	case errors.As(err, &timeout):
		status = http.StatusGatewayTimeout
	case errors.As(err, &submission):
		status = http.StatusBadGateway
	}

	if record != nil {
		writeJSON(w, status, struct {
			Error  string                   `json:"error"`
			Record *models.SettlementRecord `json:"record"`
		}{Error: err.Error(), Record: record})
		return
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	burnTxHash := mux.Vars(r)["burnTxHash"]

	record, err := s.settler.Get(r.Context(), burnTxHash)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no settlement for burn %s", burnTxHash))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetMerchantSettings(w http.ResponseWriter, r *http.Request) {
	merchantID := r.URL.Query().Get("merchant_id")
	if merchantID == "" {
		merchantID = defaultMerchantID
	}

	settings, err := s.settings.Settings(r.Context(), merchantID)
	if err != nil {
		if errors.Is(err, merchant.ErrNotConfigured) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("merchant %s has no settings", merchantID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSaveMerchantSettings(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MerchantID string `json:"merchant_id"`
		merchant.Settings
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if payload.MerchantID == "" {
		payload.MerchantID = defaultMerchantID
	}

	if err := s.settings.SaveSettings(r.Context(), payload.MerchantID, payload.Settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, payload.Settings)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports ready only when every configured chain has a gateway.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if len(s.registry.Chains()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("No chain gateways registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := make(map[string]interface{})

	for _, chain := range s.registry.Chains() {
		circuitStatus := "closed"
		if cb, ok := s.breakers[chain]; ok && cb.IsOpen() {
			circuitStatus = "open"
		}

		chainStatus := map[string]interface{}{
			"evm_chain_id": chain.EVMChainID(),
			"circuit":      circuitStatus,
		}
		if gw, err := s.registry.Lookup(chain); err == nil {
			chainStatus["relayer_address"] = gw.RelayerAddress()
			if bn, ok := gw.(interface {
				LatestBlockNumber(ctx context.Context) (uint64, error)
			}); ok {
				if block, err := bn.LatestBlockNumber(r.Context()); err == nil {
					chainStatus["latest_block"] = block
				}
			}
		}
		status[string(chain)] = chainStatus
	}

	writeJSON(w, http.StatusOK, status)
}

// metricsAuthMiddleware checks a Bearer API key on the metrics endpoint.
// With no key configured, access is open.
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
