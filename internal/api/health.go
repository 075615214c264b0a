package api

import (
	"net/http"
	"time"

	"github.com/kjannette/token-data-aggregator/internal/models"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Timestamp string         `json:"timestamp"`
	Services  healthServices `json:"services"`
}

type healthServices struct {
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if s.db != nil {
		dbStatus = "connected"
		if err := s.db.Ping(r.Context()); err != nil {
			dbStatus = "disconnected"
		}
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Service:   models.JobName,
		Version:   models.JobVersion,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus},
	})
}

func (s *Server) handlePaymentStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gate.Stats(r.Context()))
}

type endpointInfo struct {
	Path        string            `json:"path"`
	Method      string            `json:"method"`
	Description string            `json:"description,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Example     string            `json:"example,omitempty"`
}

type rootResponse struct {
	Service         string                  `json:"service"`
	Version         string                  `json:"version"`
	Description     string                  `json:"description"`
	PaymentRequired bool                    `json:"payment_required"`
	Endpoints       map[string]endpointInfo `json:"endpoints"`
	Sources         []string                `json:"sources"`
	Pricing         any                     `json:"pricing"`
	CacheDuration   string                  `json:"cache_duration"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	stats := s.gate.Stats(r.Context())
	writeJSON(w, http.StatusOK, rootResponse{
		Service:         "Token Data Aggregator",
		Version:         models.JobVersion,
		Description:     "Aggregates token data from CoinGecko, Etherscan, CoinMarketCap, and DefiLlama",
		PaymentRequired: stats.RequirePayment,
		Endpoints: map[string]endpointInfo{
			"main": {
				Path:   "/api/token-data",
				Method: "GET or POST",
				Parameters: map[string]string{
					"token":   "Token symbol, name, or contract address (required)",
					"sources": "Comma-separated list of sources (optional, defaults to all)",
				},
				Example: "/api/token-data?token=ARB&sources=coingecko,etherscan",
			},
			"history": {
				Path:        "/api/token-history",
				Method:      "GET",
				Description: "Recent aggregation snapshots for a token",
				Example:     "/api/token-history?token=ARB&limit=20",
			},
			"payment_stats": {Path: "/api/payment-stats", Method: "GET", Description: "x402 payment gate statistics"},
			"health":        {Path: "/health", Method: "GET", Description: "Health check endpoint"},
			"metrics":       {Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
		},
		Sources:       models.AllSources,
		Pricing:       stats.Pricing,
		CacheDuration: "300 seconds (5 minutes)",
	})
}

var availableEndpoints = []string{"/", "/health", "/api/token-data", "/api/token-history", "/api/payment-stats", "/metrics"}

type notFoundResponse struct {
	Error              string   `json:"error"`
	Path               string   `json:"path"`
	AvailableEndpoints []string `json:"available_endpoints"`
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, notFoundResponse{
		Error:              "Endpoint not found",
		Path:               r.URL.Path,
		AvailableEndpoints: availableEndpoints,
	})
}
