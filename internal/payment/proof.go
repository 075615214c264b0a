package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Proof is the client-supplied payment evidence from the X-Payment header.
type Proof struct {
	Reference   string          `json:"reference"`
	TxHash      string          `json:"txHash,omitempty"`
	TxHashSnake string          `json:"tx_hash,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency,omitempty"`
	Network     string          `json:"network,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ParseProof decodes a header value. Any JSON or type error is an invalid proof.
func ParseProof(header string) (*Proof, error) {
	header = strings.TrimSpace(header)
	var p Proof
	if err := json.Unmarshal([]byte(header), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	p.Raw = json.RawMessage(header)
	return &p, nil
}

// Key is the replay-cache key: the reference, falling back to the
// transaction hash.
func (p *Proof) Key() string {
	return firstNonEmpty(p.Reference, p.TxHash, p.TxHashSnake)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Verifier decides whether a proof represents a real payment. It is called
// with the replay key already claimed, so while Verify runs any other proof
// with the same key is refused as already used. A slow verifier widens that
// window; a rejection releases the key afterwards.
type Verifier interface {
	Verify(ctx context.Context, p *Proof) error
}

// StructuralVerifier accepts any proof that carries a reference and a
// positive amount. It performs no settlement check.
type StructuralVerifier struct{}

func (StructuralVerifier) Verify(_ context.Context, p *Proof) error {
	if strings.TrimSpace(p.Reference) == "" {
		return fmt.Errorf("%w: missing reference", ErrVerificationFailed)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrVerificationFailed)
	}
	return nil
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, p *Proof) error

func (f VerifierFunc) Verify(ctx context.Context, p *Proof) error { return f(ctx, p) }
