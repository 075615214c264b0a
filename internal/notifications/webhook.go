package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kjannette/token-data-aggregator/internal/httputil"
	"github.com/kjannette/token-data-aggregator/internal/logger"
	"github.com/kjannette/token-data-aggregator/internal/payment"
)

const defaultName = "TokenDataAggregator"

// Sender posts operator messages to a Slack or Discord webhook.
type Sender struct {
	webhookURL string
	name       string
	httpClient *http.Client
	retry      httputil.RetryConfig
	log        *logrus.Entry
	wg         sync.WaitGroup
}

func NewSender(webhookURL, name string) *Sender {
	if name == "" {
		name = defaultName
	}
	return &Sender{
		webhookURL: webhookURL,
		name:       name,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
		log: logger.Component("notify"),
	}
}

func (s *Sender) Enabled() bool {
	return s != nil && s.webhookURL != ""
}

// Send posts msg and returns once the webhook answered or retries ran out.
func (s *Sender) Send(ctx context.Context, msg string) error {
	formatted := fmt.Sprintf("[%s] %s", s.name, msg)
	s.log.Info(formatted)

	if !s.Enabled() {
		return nil
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	resp.Body.Close()
	return nil
}

// PaymentAccepted reports an accepted proof in the background. Wait blocks
// until in-flight reports finish.
func (s *Sender) PaymentAccepted(path string, p *payment.Proof) {
	if !s.Enabled() || p == nil {
		return
	}
	msg := fmt.Sprintf("payment accepted on %s: ref=%s amount=%s %s", path, p.Key(), p.Amount.String(), p.Currency)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Send(ctx, msg); err != nil {
			s.log.WithError(err).Warn("payment notification failed")
		}
	}()
}

func (s *Sender) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.name,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.name,
	}
}
