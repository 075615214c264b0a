package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/kjannette/token-data-aggregator/internal/payment"
)

type capture struct {
	mu       sync.Mutex
	received []map[string]string
}

func (c *capture) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var m map[string]string
		json.Unmarshal(body, &m)
		c.mu.Lock()
		c.received = append(c.received, m)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *capture) last(t *testing.T) map[string]string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.received) == 0 {
		t.Fatal("webhook was not called")
	}
	return c.received[len(c.received)-1]
}

func TestSend_NoWebhook(t *testing.T) {
	s := NewSender("", "TestBot")
	if s.Enabled() {
		t.Fatal("should not be enabled with empty URL")
	}
	if err := s.Send(context.Background(), "hello from test"); err != nil {
		t.Fatalf("expected nil error without webhook, got %v", err)
	}
}

func TestSend_SlackFormat(t *testing.T) {
	var c capture
	s := NewSender(c.server(t).URL, "TestBot")
	if !s.Enabled() {
		t.Fatal("should be enabled")
	}

	if err := s.Send(context.Background(), "replay store switched to redis"); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := c.last(t)
	if got["username"] != "TestBot" {
		t.Fatalf("username: got %s", got["username"])
	}
	if !strings.HasPrefix(got["text"], "`[TestBot]") {
		t.Fatalf("text: got %q", got["text"])
	}
}

func TestSend_DiscordFormat(t *testing.T) {
	var c capture
	s := NewSender(c.server(t).URL+"/discord/webhook", "AggBot")
	if err := s.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := c.last(t)
	if got["content"] == "" {
		t.Fatal("content should not be empty for Discord")
	}
	if _, hasText := got["text"]; hasText {
		t.Fatal("Discord payload should not have 'text' field")
	}
}

func TestSend_WebhookError(t *testing.T) {
	s := NewSender("http://localhost:1/bogus", "TestBot")
	s.retry.MaxAttempts = 1
	if err := s.Send(context.Background(), "this will fail"); err == nil {
		t.Fatal("expected an error for an unreachable webhook")
	}
}

func TestPaymentAccepted(t *testing.T) {
	var c capture
	s := NewSender(c.server(t).URL, "")

	s.PaymentAccepted("/api/token-data", &payment.Proof{
		Reference: "1760616000000-abc123xyz",
		Amount:    decimal.RequireFromString("0.025"),
		Currency:  "USDC",
	})
	s.Wait()

	got := c.last(t)
	if got["username"] != defaultName {
		t.Fatalf("username: got %s", got["username"])
	}
	for _, want := range []string{"/api/token-data", "1760616000000-abc123xyz", "0.025", "USDC"} {
		if !strings.Contains(got["text"], want) {
			t.Fatalf("expected %q in %q", want, got["text"])
		}
	}
}

func TestPaymentAccepted_DisabledIsNoop(t *testing.T) {
	var nilSender *Sender
	nilSender.PaymentAccepted("/api/token-data", &payment.Proof{Reference: "r"})
	nilSender.Wait()

	NewSender("", "").PaymentAccepted("/api/token-data", &payment.Proof{Reference: "r"})
}
