package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/token-data-aggregator/internal/aggregator"
	"github.com/kjannette/token-data-aggregator/internal/models"
	"github.com/kjannette/token-data-aggregator/internal/observability"
	"github.com/kjannette/token-data-aggregator/internal/payment"
)

var referencePattern = regexp.MustCompile(`^\d{13}-[a-z0-9]{9}$`)

type aggregateCall struct {
	identifier string
	requested  []string
}

type fakeAggregator struct {
	mu    sync.Mutex
	calls []aggregateCall
	err   error
	panic any
}

func (f *fakeAggregator) Aggregate(_ context.Context, identifier string, requested []string) (*models.AggregatedRecord, error) {
	f.mu.Lock()
	f.calls = append(f.calls, aggregateCall{identifier, requested})
	f.mu.Unlock()
	if f.panic != nil {
		panic(f.panic)
	}
	if f.err != nil {
		return nil, f.err
	}
	price := 1.25
	return &models.AggregatedRecord{
		Query: models.QueryInfo{
			TokenIdentifier:  identifier,
			SourcesRequested: requested,
			SourcesSucceeded: []string{models.SourceCoinGecko},
		},
		Aggregated: models.MergedFields{PriceUSD: &price},
		Metadata:   models.DefaultJobMetadata(),
	}, nil
}

func (f *fakeAggregator) lastCall(t *testing.T) aggregateCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls, "aggregator was not called")
	return f.calls[len(f.calls)-1]
}

type fakeHistory struct {
	snaps []models.Snapshot
	err   error
	limit int
}

func (f *fakeHistory) GetRecent(_ context.Context, _ string, limit int) ([]models.Snapshot, error) {
	f.limit = limit
	return f.snaps, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fixture struct {
	agg     *fakeAggregator
	store   *payment.MemoryStore
	handler http.Handler
	metrics *observability.Metrics
}

func newFixture(t *testing.T, requirePayment bool, mutate ...func(*Deps)) *fixture {
	t.Helper()
	store := payment.NewMemoryStore(0)
	t.Cleanup(func() { store.Close() })

	gate := payment.NewGate(payment.Config{
		RequirePayment: requirePayment,
		Recipient:      "0x1111111111111111111111111111111111111111",
	}, store)

	f := &fixture{
		agg:     &fakeAggregator{},
		store:   store,
		metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
	}
	d := Deps{Aggregator: f.agg, Gate: gate, Metrics: f.metrics, Port: 0}
	for _, m := range mutate {
		m(&d)
	}
	f.handler = NewServer(d).Handler()
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestTokenData_MissingToken(t *testing.T) {
	f := newFixture(t, false)

	for _, target := range []string{"/api/token-data", "/api/token-data?token=%20%20"} {
		rr := f.do(t, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
		body := decode[errorResponse](t, rr)
		assert.Equal(t, "Missing required parameter: token", body.Error)
		assert.Equal(t, tokenDataUsage, body.Usage)
	}
	assert.Empty(t, f.agg.calls)
}

func TestTokenData_QueryParameters(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB&sources=CoinGecko,%20etherscan", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	call := f.agg.lastCall(t)
	assert.Equal(t, "ARB", call.identifier)
	assert.Equal(t, []string{"coingecko", "etherscan"}, call.requested)

	rec := decode[models.AggregatedRecord](t, rr)
	require.NotNil(t, rec.Aggregated.PriceUSD)
	assert.InDelta(t, 1.25, *rec.Aggregated.PriceUSD, 1e-9)
}

func TestTokenData_NoSourcesMeansAll(t *testing.T) {
	f := newFixture(t, false)

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, f.agg.lastCall(t).requested)
}

func TestTokenData_PostJSONBody(t *testing.T) {
	f := newFixture(t, false)

	cases := []struct {
		name string
		body string
		want []string
	}{
		{"string sources", `{"token":"uniswap","sources":"coingecko,defillama"}`, []string{"coingecko", "defillama"}},
		{"array sources", `{"token":"uniswap","sources":["CoinMarketCap"]}`, []string{"coinmarketcap"}},
		{"no sources", `{"token":"uniswap"}`, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/token-data", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rr := f.do(t, req)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			call := f.agg.lastCall(t)
			assert.Equal(t, "uniswap", call.identifier)
			assert.Equal(t, tc.want, call.requested)
		})
	}
}

func TestTokenData_PostFormBody(t *testing.T) {
	f := newFixture(t, false)

	form := url.Values{"token": {"LINK"}, "sources": {"etherscan"}}
	req := httptest.NewRequest(http.MethodPost, "/api/token-data", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := f.do(t, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	call := f.agg.lastCall(t)
	assert.Equal(t, "LINK", call.identifier)
	assert.Equal(t, []string{"etherscan"}, call.requested)
}

func TestTokenData_QueryWinsOverBody(t *testing.T) {
	f := newFixture(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/token-data?token=ARB", strings.NewReader(`{"token":"OP"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := f.do(t, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ARB", f.agg.lastCall(t).identifier)
}

func TestTokenData_MalformedBody(t *testing.T) {
	f := newFixture(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/token-data", strings.NewReader(`{"token":`))
	req.Header.Set("Content-Type", "application/json")
	rr := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid request body", decode[errorResponse](t, rr).Error)
}

func TestTokenData_AggregatorErrors(t *testing.T) {
	f := newFixture(t, false)

	f.agg.err = fmt.Errorf("aggregate: %w: empty", aggregator.ErrInvalidIdentifier)
	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	f.agg.err = errors.New("boom")
	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode[errorResponse](t, rr)
	assert.Equal(t, "Internal server error", body.Error)
	assert.Equal(t, "boom", body.Message)
}

func TestTokenData_PanicBecomes500(t *testing.T) {
	f := newFixture(t, false)
	f.agg.panic = "kaboom"

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decode[errorResponse](t, rr)
	assert.Equal(t, "Internal server error", body.Error)
	assert.Equal(t, "kaboom", body.Message)
}

func TestPayment_RequiredQuote(t *testing.T) {
	f := newFixture(t, true)

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil))
	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Empty(t, f.agg.calls)

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Payment struct {
			Version   string          `json:"version"`
			Amount    json.Number     `json:"amount"`
			Currency  string          `json:"currency"`
			Network   string          `json:"network"`
			Recipient string          `json:"recipient"`
			Reference string          `json:"reference"`
			Metadata  json.RawMessage `json:"metadata"`
		} `json:"payment"`
		Instructions map[string]string `json:"instructions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))

	assert.Equal(t, "Payment Required", body.Error)
	assert.Equal(t, "This endpoint requires payment via x402 protocol", body.Message)
	assert.Equal(t, "1.0", body.Payment.Version)
	assert.Equal(t, "0.025", body.Payment.Amount.String())
	assert.Equal(t, "USDC", body.Payment.Currency)
	assert.Equal(t, "base", body.Payment.Network)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", body.Payment.Recipient)
	assert.Regexp(t, referencePattern, body.Payment.Reference)
	assert.Contains(t, string(body.Payment.Metadata), `"token":"ARB"`)
	assert.NotEmpty(t, body.Instructions)

	n, err := f.store.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "issuing a quote must not touch the replay store")
}

func TestPayment_AcceptThenReplay(t *testing.T) {
	f := newFixture(t, true)
	proof := `{"reference":"1760616000000-abc123xyz","amount":"0.025"}`

	req := httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil)
	req.Header.Set("X-Payment", proof)
	rr := f.do(t, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// Legacy header name, same reference.
	req = httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil)
	req.Header.Set("X-Payment-Proof", proof)
	rr = f.do(t, req)
	require.Equal(t, http.StatusPaymentRequired, rr.Code)

	body := decode[invalidPaymentResponse](t, rr)
	assert.Equal(t, "Invalid Payment", body.Error)
	assert.Equal(t, "Payment already used", body.Message)
	require.NotNil(t, body.Payment)
	assert.Regexp(t, referencePattern, body.Payment.Reference)
	assert.Len(t, f.agg.calls, 1)
}

func TestPayment_InvalidProof(t *testing.T) {
	f := newFixture(t, true)

	for _, header := range []string{"not json", `{"amount":"0.025"}`, `{"reference":"r-1","amount":"0"}`} {
		req := httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil)
		req.Header.Set("X-Payment", header)
		rr := f.do(t, req)
		assert.Equal(t, http.StatusPaymentRequired, rr.Code, header)
		assert.Equal(t, "Invalid Payment", decode[invalidPaymentResponse](t, rr).Error, header)
	}
	assert.Empty(t, f.agg.calls)
}

func TestPayment_ExemptPathsStayOpen(t *testing.T) {
	f := newFixture(t, true)

	for _, target := range []string{"/", "/health", "/api/payment-stats", "/metrics"} {
		rr := f.do(t, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusOK, rr.Code, target)
	}
}

func TestPaymentStats(t *testing.T) {
	f := newFixture(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil)
	req.Header.Set("X-Payment", `{"reference":"ref-1","amount":0.025}`)
	require.Equal(t, http.StatusOK, f.do(t, req).Code)

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/payment-stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats["totalPayments"])
	assert.Equal(t, true, stats["requirePayment"])
	assert.Equal(t, "base", stats["network"])
	assert.Equal(t, "0x1111111111111111111111111111111111111111", stats["facilitatorAddress"])
	assert.Contains(t, stats["pricing"], "/api/token-data")
}

func TestHealth(t *testing.T) {
	cases := []struct {
		name string
		db   Pinger
		want string
	}{
		{"no database", nil, "disabled"},
		{"database up", fakePinger{}, "connected"},
		{"database down", fakePinger{err: errors.New("refused")}, "disconnected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, true, func(d *Deps) { d.DB = tc.db })

			rr := f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, http.StatusOK, rr.Code)

			body := decode[healthResponse](t, rr)
			assert.Equal(t, "ok", body.Status)
			assert.Equal(t, "token-data-aggregator", body.Service)
			assert.Equal(t, "1.0.0", body.Version)
			assert.Equal(t, tc.want, body.Services.Database)
			_, err := time.Parse(time.RFC3339, body.Timestamp)
			assert.NoError(t, err)
		})
	}
}

func TestRoot(t *testing.T) {
	f := newFixture(t, true)

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := decode[map[string]any](t, rr)
	assert.Equal(t, "Token Data Aggregator", body["service"])
	assert.Equal(t, true, body["payment_required"])
	assert.ElementsMatch(t, []any{"coingecko", "etherscan", "coinmarketcap", "defillama"}, body["sources"])
	assert.Contains(t, body["endpoints"], "main")
}

func TestNotFound(t *testing.T) {
	f := newFixture(t, true)

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	body := decode[notFoundResponse](t, rr)
	assert.Equal(t, "Endpoint not found", body.Error)
	assert.Equal(t, "/api/nope", body.Path)
	assert.Contains(t, body.AvailableEndpoints, "/api/token-data")
}

func TestTokenHistory(t *testing.T) {
	f := newFixture(t, false)
	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-history?token=ARB", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	price := 0.61
	hist := &fakeHistory{snaps: []models.Snapshot{{ID: 7, TokenIdentifier: "ARB", PriceUSD: &price}}}
	f = newFixture(t, false, func(d *Deps) { d.History = hist })

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-history", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, tokenHistoryUsage, decode[errorResponse](t, rr).Usage)

	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-history?token=ARB&limit=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, hist.limit)

	body := decode[historyResponse](t, rr)
	assert.Equal(t, "ARB", body.Token)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, int64(7), body.Snapshots[0].ID)

	hist.err = errors.New("db gone")
	rr = f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-history?token=ARB", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	require.Equal(t, http.StatusOK, f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil)).Code)

	rr := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "test_http_requests_total")
}

type recordingNotifier struct {
	mu    sync.Mutex
	paths []string
	refs  []string
}

func (n *recordingNotifier) PaymentAccepted(path string, p *payment.Proof) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	n.refs = append(n.refs, p.Key())
}

func TestPayment_NotifiesOnlyAcceptedProofs(t *testing.T) {
	n := &recordingNotifier{}
	f := newFixture(t, true, func(d *Deps) { d.Notifier = n })

	f.do(t, httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/token-data?token=ARB", nil)
		req.Header.Set("X-Payment", `{"txHash":"0xfeed","reference":"ref-9","amount":0.03}`)
		f.do(t, req)
	}

	assert.Equal(t, []string{"/api/token-data"}, n.paths)
	assert.Equal(t, []string{"ref-9"}, n.refs)
}
