package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "X402_REQUIRE_PAYMENT", "X402_FACILITATOR_ADDRESS", "X402_PAYMENT_NETWORK",
		"X402_PRICING_FILE", "X402_REPLAY_WINDOW", "ADAPTER_TIMEOUT", "DATABASE_URL", "DB_USER", "REDIS_ADDR"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.RequirePayment {
		t.Error("payment should default to disabled")
	}
	if cfg.FacilitatorAddress != "NOT_SET" {
		t.Errorf("FacilitatorAddress = %q", cfg.FacilitatorAddress)
	}
	if cfg.PaymentNetwork != "base" {
		t.Errorf("PaymentNetwork = %q", cfg.PaymentNetwork)
	}
	if cfg.ReplayWindow != 5*time.Minute {
		t.Errorf("ReplayWindow = %s", cfg.ReplayWindow)
	}
	if cfg.AdapterTimeout != 8*time.Second {
		t.Errorf("AdapterTimeout = %s", cfg.AdapterTimeout)
	}
	if cfg.DSN() != "" {
		t.Errorf("DSN should be empty without DATABASE_URL or DB_USER, got %q", cfg.DSN())
	}
	if cfg.Pricing != nil {
		t.Error("Pricing should be nil without a pricing file")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("X402_REQUIRE_PAYMENT", "true")
	t.Setenv("X402_REPLAY_WINDOW", "300000")
	t.Setenv("ADAPTER_TIMEOUT", "2s")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_USER", "agg")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("X402_PRICING_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 || !cfg.RequirePayment {
		t.Errorf("got port=%d require=%v", cfg.Port, cfg.RequirePayment)
	}
	if cfg.ReplayWindow != 5*time.Minute {
		t.Errorf("millisecond window not parsed: %s", cfg.ReplayWindow)
	}
	if cfg.AdapterTimeout != 2*time.Second {
		t.Errorf("AdapterTimeout = %s", cfg.AdapterTimeout)
	}
	if !strings.HasPrefix(cfg.DSN(), "postgres://agg:pw@") {
		t.Errorf("DSN = %q", cfg.DSN())
	}
}

func TestLoadPricing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.toml")
	body := `
[pricing."/api/token-data"]
amount = 0.05
currency = "USDC"
description = "Token data aggregation from 4 sources"

[pricing."/api/token-history"]
amount = "0.001"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	pricing, err := LoadPricing(path)
	if err != nil {
		t.Fatalf("LoadPricing: %v", err)
	}
	if got := pricing["/api/token-data"].Amount.String(); got != "0.05" {
		t.Errorf("token-data amount = %s", got)
	}
	if got := pricing["/api/token-history"].Amount.String(); got != "0.001" {
		t.Errorf("token-history amount = %s", got)
	}
}

func TestLoadPricing_Rejects(t *testing.T) {
	cases := map[string]string{
		"zero amount":   "[pricing.\"/api/token-data\"]\namount = 0\n",
		"relative path": "[pricing.\"api/token-data\"]\namount = 1\n",
		"bad toml":      "[pricing\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "p.toml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadPricing(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	base := Config{Port: 3000, AdapterTimeout: time.Second, ReplayWindow: time.Minute, PaymentNetwork: "base"}

	cfg := base
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled payment should validate without credentials: %v", err)
	}

	cfg = base
	cfg.RequirePayment = true
	cfg.FacilitatorAddress = "NOT_SET"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "X402_FACILITATOR_ADDRESS") {
		t.Errorf("expected facilitator error, got %v", err)
	}

	cfg.FacilitatorAddress = "0xnothex"
	if err := cfg.Validate(); err == nil {
		t.Error("expected invalid address error")
	}

	cfg.FacilitatorAddress = "0x8ba1f109551bd432803012645ac136ddd64dba72"
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid address rejected: %v", err)
	}

	cfg.PaymentNetwork = "solana"
	cfg.FacilitatorAddress = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	if err := cfg.Validate(); err != nil {
		t.Errorf("non-EVM recipient should not be hex-checked: %v", err)
	}

	cfg = base
	cfg.Port = 0
	cfg.ReplayWindow = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "PORT") || !strings.Contains(err.Error(), "X402_REPLAY_WINDOW") {
		t.Errorf("expected collected errors, got %v", err)
	}
}
