package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kjannette/token-data-aggregator/internal/httputil"
	"github.com/kjannette/token-data-aggregator/internal/models"
	"golang.org/x/time/rate"
)

// Adapter fetches one provider's view of a token. Fetch never returns an
// error: every failure is reported as an Unavailable result.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, key string) models.SourceResult
}

var (
	ErrNotFound      = errors.New("not found")
	ErrNotConfigured = errors.New("not configured")
	ErrUpstream      = errors.New("upstream failure")
)

// SourceError carries the provider-facing message while unwrapping to one of
// the sentinel kinds above.
type SourceError struct {
	Kind error
	Msg  string
}

func (e *SourceError) Error() string { return e.Msg }
func (e *SourceError) Unwrap() error { return e.Kind }

func notFound(msg string) error      { return &SourceError{Kind: ErrNotFound, Msg: msg} }
func notConfigured(msg string) error { return &SourceError{Kind: ErrNotConfigured, Msg: msg} }

func upstreamf(format string, args ...any) error {
	return &SourceError{Kind: ErrUpstream, Msg: fmt.Sprintf(format, args...)}
}

// Options configures a provider client. Zero values fall back to the
// provider's defaults.
type Options struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	Retry             *httputil.RetryConfig
	RequestsPerMinute int
	HTTPClient        *http.Client
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   httputil.RetryConfig
}

// newClient builds the shared HTTP client. burst is the number of requests
// one Fetch makes, so an idle client never waits inside a single Fetch.
func newClient(opts Options, defaultURL string, defaultRPM, burst int) client {
	c := client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    opts.HTTPClient,
		retry: httputil.RetryConfig{
			MaxAttempts: 2,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
	}
	if c.baseURL == "" {
		c.baseURL = defaultURL
	}
	if c.http == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if opts.Retry != nil {
		c.retry = *opts.Retry
	}
	rpm := opts.RequestsPerMinute
	if rpm == 0 {
		rpm = defaultRPM
	}
	if burst < 1 {
		burst = 1
	}
	if rpm > 0 {
		c.retry.Limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	}
	return c
}

// getJSON performs a GET and decodes a 200 response into out. label names the
// call in error messages, e.g. "CoinGecko search".
func (c client) getJSON(ctx context.Context, label, url string, header http.Header, out any) error {
	resp, err := httputil.Do(ctx, c.http, c.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	})
	if err != nil {
		return upstreamf("%s failed: %v", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return upstreamf("%s failed: %d", label, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return upstreamf("%s decode: %v", label, err)
	}
	return nil
}

// flexString accepts a JSON string or number. Several providers encode
// integers as strings.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// --- pointer helpers ---

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(vals []string) *string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return &v
		}
	}
	return nil
}

// ratio returns num/den formatted with prec decimals, or nil when either
// operand is missing or den is zero.
func ratio(num, den *float64, scale float64, prec int) *string {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	s := strconv.FormatFloat(*num / *den * scale, 'f', prec, 64)
	return &s
}

func truncateRunes(s string, n int) *string {
	if s == "" {
		return nil
	}
	r := []rune(s)
	if len(r) > n {
		s = string(r[:n])
	}
	return &s
}
