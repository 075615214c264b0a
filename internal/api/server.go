package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjannette/token-data-aggregator/internal/logger"
	"github.com/kjannette/token-data-aggregator/internal/models"
	"github.com/kjannette/token-data-aggregator/internal/observability"
	"github.com/kjannette/token-data-aggregator/internal/payment"
	"github.com/sirupsen/logrus"
)

const maxQueryLimit = 500

// TokenAggregator is satisfied by *aggregator.Aggregator.
type TokenAggregator interface {
	Aggregate(ctx context.Context, identifier string, requested []string) (*models.AggregatedRecord, error)
}

// PaymentGate is satisfied by *payment.Gate.
type PaymentGate interface {
	Check(ctx context.Context, path string, query url.Values, proofHeader string) payment.Decision
	Stats(ctx context.Context) payment.Stats
}

// SnapshotHistory is satisfied by *repository.SnapshotRepo.
type SnapshotHistory interface {
	GetRecent(ctx context.Context, identifier string, limit int) ([]models.Snapshot, error)
}

// PaymentNotifier is satisfied by *notifications.Sender.
type PaymentNotifier interface {
	PaymentAccepted(path string, p *payment.Proof)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Aggregator      TokenAggregator
	Gate            PaymentGate
	History         SnapshotHistory // optional
	DB              Pinger          // optional
	Notifier        PaymentNotifier // optional
	Metrics         *observability.Metrics
	Port            int
	CORSAllowOrigin string
}

type Server struct {
	agg        TokenAggregator
	gate       PaymentGate
	history    SnapshotHistory
	db         Pinger
	notifier   PaymentNotifier
	metrics    *observability.Metrics
	handler    http.Handler
	httpServer *http.Server
	log        *logrus.Entry
}

func NewServer(d Deps) *Server {
	s := &Server{
		agg:      d.Aggregator,
		gate:     d.Gate,
		history:  d.History,
		db:       d.DB,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      logger.Component("api"),
	}

	mux := http.NewServeMux()

	// Token data (payment gated)
	mux.HandleFunc("GET /api/token-data", s.handleTokenData)
	mux.HandleFunc("POST /api/token-data", s.handleTokenData)
	mux.HandleFunc("GET /api/token-history", s.handleTokenHistory)

	// Always exempt
	mux.HandleFunc("GET /api/payment-stats", s.handlePaymentStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("/", s.handleNotFound)

	s.handler = s.loggingMiddleware(corsMiddleware(s.paymentMiddleware(mux), d.CORSAllowOrigin))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", d.Port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("token data aggregator listening")
	s.log.Infof("health check: http://localhost%s/health", s.httpServer.Addr)
	s.log.Infof("api endpoint: http://localhost%s/api/token-data?token=ARB", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

type paymentCtxKey struct{}

// PaymentFromContext returns the proof accepted for this request, if any.
func PaymentFromContext(ctx context.Context) (*payment.Proof, bool) {
	p, ok := ctx.Value(paymentCtxKey{}).(*payment.Proof)
	return p, ok
}

type paymentRequiredResponse struct {
	Error        string               `json:"error"`
	Message      string               `json:"message"`
	Payment      *payment.Quote       `json:"payment"`
	Instructions payment.Instructions `json:"instructions"`
}

type invalidPaymentResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Payment *payment.Quote `json:"payment"`
}

func (s *Server) paymentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proof := r.Header.Get("X-Payment")
		if proof == "" {
			proof = r.Header.Get("X-Payment-Proof")
		}

		d := s.gate.Check(r.Context(), r.URL.Path, r.URL.Query(), proof)
		switch d.Outcome {
		case payment.OutcomePaymentRequired:
			writeJSON(w, http.StatusPaymentRequired, paymentRequiredResponse{
				Error:        "Payment Required",
				Message:      "This endpoint requires payment via x402 protocol",
				Payment:      d.Quote,
				Instructions: payment.DefaultInstructions,
			})
			return
		case payment.OutcomeRejected:
			msg := d.Reason
			if msg == "" {
				msg = "Payment verification failed"
			}
			writeJSON(w, http.StatusPaymentRequired, invalidPaymentResponse{
				Error:   "Invalid Payment",
				Message: msg,
				Payment: d.Quote,
			})
			return
		case payment.OutcomeAccepted:
			if s.notifier != nil {
				s.notifier.PaymentAccepted(r.URL.Path, d.Payment)
			}
			r = r.WithContext(context.WithValue(r.Context(), paymentCtxKey{}, d.Payment))
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, X-Payment, X-Payment-Proof")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request, records metrics and turns a handler
// panic into a 500 JSON body.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithFields(logger.Fields{"path": r.URL.Path, "panic": rec}).Error("handler panicked")
				if !rw.wroteHeader {
					writeJSON(rw, http.StatusInternalServerError, errorResponse{
						Error:   "Internal server error",
						Message: fmt.Sprint(rec),
					})
				}
			}

			elapsed := time.Since(start)
			s.metrics.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), rw.statusCode, elapsed)

			s.log.WithFields(logger.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"query":    r.URL.RawQuery,
				"status":   rw.statusCode,
				"duration": elapsed.String(),
				"remote":   r.RemoteAddr,
			}).Info("http request")
		}()

		next.ServeHTTP(rw, r)
	})
}

var knownRoutes = map[string]bool{
	"/":                  true,
	"/health":            true,
	"/metrics":           true,
	"/api/token-data":    true,
	"/api/token-history": true,
	"/api/payment-stats": true,
}

// routeLabel keeps metric cardinality bounded.
func routeLabel(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}

// --- validation helpers ---

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Usage   string `json:"usage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
