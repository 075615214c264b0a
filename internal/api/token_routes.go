package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/kjannette/token-data-aggregator/internal/aggregator"
	"github.com/kjannette/token-data-aggregator/internal/models"
	"github.com/kjannette/token-data-aggregator/internal/repository"
)

const (
	tokenDataUsage    = "GET /api/token-data?token=ARB&sources=coingecko,etherscan"
	tokenHistoryUsage = "GET /api/token-history?token=ARB&limit=20"
	maxBodyBytes      = 64 << 10
)

// csvList accepts either "a,b" or ["a","b"] in a JSON body.
type csvList []string

func (c *csvList) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = splitCSV(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return errors.New("sources must be a string or an array of strings")
	}
	*c = splitCSV(strings.Join(list, ","))
	return nil
}

type tokenRequest struct {
	Token   string  `json:"token"`
	Sources csvList `json:"sources"`
}

// parseTokenRequest reads token and sources from the query string, falling
// back to a JSON or form body on POST. Query parameters win.
func parseTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequest, error) {
	q := r.URL.Query()
	req := tokenRequest{Token: q.Get("token"), Sources: splitCSV(q.Get("sources"))}

	if r.Method != http.MethodPost || r.Body == nil {
		return req, nil
	}

	var body tokenRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return req, err
		}
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		body.Token = r.PostForm.Get("token")
		body.Sources = splitCSV(r.PostForm.Get("sources"))
	}

	if strings.TrimSpace(req.Token) == "" {
		req.Token = body.Token
	}
	if req.Sources == nil {
		req.Sources = body.Sources
	}
	return req, nil
}

// splitCSV lower-cases and trims each entry. An empty input yields nil, which
// means every source.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *Server) handleTokenData(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
			Usage:   tokenDataUsage,
		})
		return
	}

	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "Missing required parameter: token",
			Usage: tokenDataUsage,
		})
		return
	}

	if p, ok := PaymentFromContext(r.Context()); ok {
		s.log.WithField("reference", p.Key()).Debug("serving paid request")
	}

	rec, err := s.agg.Aggregate(r.Context(), token, []string(req.Sources))
	if err != nil {
		if errors.Is(err, aggregator.ErrInvalidIdentifier) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: "Missing required parameter: token",
				Usage: tokenDataUsage,
			})
			return
		}
		s.log.WithError(err).WithField("token", token).Error("aggregation failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:   "Internal server error",
			Message: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

type historyResponse struct {
	Token     string            `json:"token"`
	Count     int               `json:"count"`
	Snapshots []models.Snapshot `json:"snapshots"`
}

func (s *Server) handleTokenHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot history not configured")
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "Missing required parameter: token",
			Usage: tokenHistoryUsage,
		})
		return
	}

	limit := parseLimit(r, repository.DefaultHistoryLimit)
	snaps, err := s.history.GetRecent(r.Context(), token, limit)
	if err != nil {
		s.log.WithError(err).WithField("token", token).Error("error fetching snapshot history")
		writeError(w, http.StatusInternalServerError, "failed to fetch history")
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{Token: token, Count: len(snaps), Snapshots: snaps})
}
