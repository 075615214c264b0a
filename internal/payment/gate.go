package payment

import (
	"context"
	"maps"
	"net/url"
	"slices"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/kjannette/token-data-aggregator/internal/logger"
	"github.com/kjannette/token-data-aggregator/internal/observability"
	"github.com/sirupsen/logrus"
)

type Outcome string

const (
	OutcomeExempt          Outcome = "exempt"
	OutcomeDisabled        Outcome = "disabled"
	OutcomeUnpriced        Outcome = "unpriced"
	OutcomePaymentRequired Outcome = "payment_required"
	OutcomeRejected        Outcome = "rejected"
	OutcomeAccepted        Outcome = "accepted"
)

// Decision is the gate's verdict for one request.
type Decision struct {
	Outcome Outcome
	Quote   *Quote // PaymentRequired and Rejected
	Reason  string // Rejected, sentence-cased for the response body
	Err     error  // Rejected
	Payment *Proof // Accepted
}

// Admit reports whether the request may proceed to the handler.
func (d Decision) Admit() bool {
	switch d.Outcome {
	case OutcomeExempt, OutcomeDisabled, OutcomeUnpriced, OutcomeAccepted:
		return true
	}
	return false
}

type Gate struct {
	cfg      Config
	store    ReplayStore
	verifier Verifier
	metrics  *observability.Metrics
	log      *logrus.Entry
	now      func() time.Time
}

type GateOption func(*Gate)

func WithVerifier(v Verifier) GateOption {
	return func(g *Gate) {
		if v != nil {
			g.verifier = v
		}
	}
}

func WithMetrics(m *observability.Metrics) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate builds a gate over store. The caller owns store and closes it.
func NewGate(cfg Config, store ReplayStore, opts ...GateOption) *Gate {
	g := &Gate{
		cfg:      cfg.withDefaults(),
		store:    store,
		verifier: StructuralVerifier{},
		log:      logger.Component("payment"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Config() Config { return g.cfg }

// Check decides whether a request to path may proceed. proofHeader is the raw
// X-Payment (or X-Payment-Proof) header value.
func (g *Gate) Check(ctx context.Context, path string, query url.Values, proofHeader string) Decision {
	d := g.check(ctx, path, query, proofHeader)
	g.metrics.RecordGateDecision(string(d.Outcome))
	return d
}

func (g *Gate) check(ctx context.Context, path string, query url.Values, proofHeader string) Decision {
	if slices.Contains(g.cfg.ExemptPaths, path) {
		return Decision{Outcome: OutcomeExempt}
	}
	if !g.cfg.RequirePayment {
		g.log.WithField("path", path).Debug("payment verification disabled")
		return Decision{Outcome: OutcomeDisabled}
	}
	quote, priced := g.Quote(path, query)
	if !priced {
		return Decision{Outcome: OutcomeUnpriced}
	}
	if proofHeader == "" {
		return Decision{Outcome: OutcomePaymentRequired, Quote: quote}
	}

	proof, err := g.verify(ctx, proofHeader)
	if err != nil {
		g.log.WithField("path", path).WithError(err).Info("payment rejected")
		return Decision{Outcome: OutcomeRejected, Reason: reasonText(err), Err: err, Quote: quote}
	}

	g.log.WithFields(logger.Fields{"path": path, "reference": proof.Key()}).Info("payment verified")
	return Decision{Outcome: OutcomeAccepted, Payment: proof}
}

// verify claims the proof's key in the replay store, then runs the verifier.
// A proof the verifier rejects gives the key back.
func (g *Gate) verify(ctx context.Context, header string) (*Proof, error) {
	proof, err := ParseProof(header)
	if err != nil {
		return nil, err
	}
	key := proof.Key()
	if key == "" {
		return nil, ErrMissingReference
	}

	rec := Record{Reference: key, ArrivedAt: g.now().UTC(), Proof: proof.Raw}
	fresh, err := g.store.CheckAndMark(ctx, key, rec, g.cfg.ReplayWindow)
	if err != nil {
		g.log.WithError(err).Error("replay store unavailable")
		return nil, ErrReplayStoreDown
	}
	if !fresh {
		return nil, ErrAlreadyUsed
	}

	if err := g.verifier.Verify(ctx, proof); err != nil {
		if rerr := g.store.Release(context.WithoutCancel(ctx), key); rerr != nil {
			g.log.WithError(rerr).WithField("reference", key).Warn("failed to release rejected reference")
		}
		return nil, err
	}
	return proof, nil
}

// reasonText renders an error as the client-facing message, e.g.
// "payment already used" becomes "Payment already used".
func reasonText(err error) string {
	msg := err.Error()
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

// Stats is the read-only view served at /api/payment-stats.
type Stats struct {
	TotalPayments      int              `json:"totalPayments"`
	RequirePayment     bool             `json:"requirePayment"`
	Network            string           `json:"network"`
	FacilitatorAddress string           `json:"facilitatorAddress"`
	Pricing            map[string]Price `json:"pricing"`
}

func (g *Gate) Stats(ctx context.Context) Stats {
	n, err := g.store.Len(ctx)
	if err != nil {
		g.log.WithError(err).Warn("replay store size unavailable")
	}
	return Stats{
		TotalPayments:      n,
		RequirePayment:     g.cfg.RequirePayment,
		Network:            g.cfg.Network,
		FacilitatorAddress: g.cfg.Recipient,
		Pricing:            maps.Clone(g.cfg.Pricing),
	}
}
