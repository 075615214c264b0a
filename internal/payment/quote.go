package payment

import (
	"encoding/binary"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const referenceSuffixLen = 9

// 36^9, so the suffix is always exactly nine base-36 digits.
const referenceSuffixSpace = 101559956668416

type Instructions struct {
	Step1         string `json:"step1"`
	Step2         string `json:"step2"`
	Step3         string `json:"step3"`
	Documentation string `json:"documentation"`
}

var DefaultInstructions = Instructions{
	Step1:         "Complete payment using the details above",
	Step2:         "Include payment proof in X-Payment header",
	Step3:         "Retry the request",
	Documentation: DocumentationURL,
}

type QuoteMetadata struct {
	Endpoint  string            `json:"endpoint"`
	Query     map[string]string `json:"query"`
	Timestamp time.Time         `json:"timestamp"`
}

// Quote is the payment request returned with a 402. Quotes are never stored.
type Quote struct {
	Version      string        `json:"version"`
	Amount       Amount        `json:"amount"`
	Currency     string        `json:"currency"`
	Network      string        `json:"network"`
	Recipient    string        `json:"recipient"`
	Reference    string        `json:"reference"`
	Description  string        `json:"description"`
	Metadata     QuoteMetadata `json:"metadata"`
	Instructions Instructions  `json:"instructions"`
}

// NewReference returns "<unix-ms>-<9 lowercase base36 chars>".
func NewReference(now time.Time) string {
	u := uuid.New()
	n := binary.BigEndian.Uint64(u[8:]) % referenceSuffixSpace
	suffix := strconv.FormatUint(n, 36)
	if pad := referenceSuffixLen - len(suffix); pad > 0 {
		suffix = strings.Repeat("0", pad) + suffix
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + suffix
}

// Quote builds a payment request for path. ok is false when the path has no
// configured price.
func (g *Gate) Quote(path string, query url.Values) (q *Quote, ok bool) {
	price, ok := g.cfg.Pricing[path]
	if !ok {
		return nil, false
	}
	now := g.now()

	flat := make(map[string]string, len(query))
	for k, vs := range query {
		if len(vs) > 0 {
			flat[k] = vs[0]
		}
	}

	return &Quote{
		Version:     ProtocolVersion,
		Amount:      price.Amount,
		Currency:    price.Currency,
		Network:     price.Network,
		Recipient:   g.cfg.Recipient,
		Reference:   NewReference(now),
		Description: price.Description,
		Metadata: QuoteMetadata{
			Endpoint:  path,
			Query:     flat,
			Timestamp: now.UTC(),
		},
		Instructions: DefaultInstructions,
	}, true
}
