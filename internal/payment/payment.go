// Package payment implements the x402 pay-per-call gate: quotes for unpaid
// requests, proof verification and replay protection.
package payment

import (
	"errors"
	"maps"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProtocolVersion     = "1.0"
	DefaultCurrency     = "USDC"
	DefaultNetwork      = "base"
	DefaultRecipient    = "NOT_SET"
	DefaultReplayWindow = 5 * time.Minute
	DocumentationURL    = "https://x402.org/docs"
)

var (
	ErrInvalidProof       = errors.New("invalid payment proof")
	ErrMissingReference   = errors.New("payment proof missing reference")
	ErrAlreadyUsed        = errors.New("payment already used")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrReplayStoreDown    = errors.New("payment verification unavailable")
)

// DefaultExemptPaths are never gated.
var DefaultExemptPaths = []string{"/", "/health", "/api/payment-stats", "/metrics", "/llms.txt", "/favicon.ico"}

// Amount is a decimal that serializes as a bare JSON number and accepts
// either a number or a numeric string.
type Amount struct {
	decimal.Decimal
}

func NewAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{d}, nil
}

func MustAmount(s string) Amount {
	a, err := NewAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// Price is what one endpoint costs.
type Price struct {
	Amount      Amount `json:"amount" toml:"amount"`
	Currency    string `json:"currency" toml:"currency"`
	Network     string `json:"network" toml:"network"`
	Description string `json:"description" toml:"description"`
}

// DefaultPricing returns the built-in price table.
func DefaultPricing() map[string]Price {
	return map[string]Price{
		"/api/token-data": {
			Amount:      MustAmount("0.025"),
			Currency:    DefaultCurrency,
			Description: "Token data aggregation from 4 sources",
		},
	}
}

type Config struct {
	RequirePayment bool
	Recipient      string
	Network        string
	Pricing        map[string]Price
	ReplayWindow   time.Duration
	ExemptPaths    []string
}

// withDefaults fills zero fields and stamps the network and currency on every
// price entry.
func (c Config) withDefaults() Config {
	if c.Recipient == "" {
		c.Recipient = DefaultRecipient
	}
	if c.Network == "" {
		c.Network = DefaultNetwork
	}
	if c.ReplayWindow <= 0 {
		c.ReplayWindow = DefaultReplayWindow
	}
	if c.ExemptPaths == nil {
		c.ExemptPaths = DefaultExemptPaths
	}
	if c.Pricing == nil {
		c.Pricing = DefaultPricing()
	} else {
		c.Pricing = maps.Clone(c.Pricing)
	}
	for path, p := range c.Pricing {
		if p.Currency == "" {
			p.Currency = DefaultCurrency
		}
		if p.Network == "" {
			p.Network = c.Network
		}
		c.Pricing[path] = p
	}
	return c
}
