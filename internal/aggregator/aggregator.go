package aggregator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kjannette/token-data-aggregator/internal/external"
	"github.com/kjannette/token-data-aggregator/internal/logger"
	"github.com/kjannette/token-data-aggregator/internal/models"
	"github.com/kjannette/token-data-aggregator/internal/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultAdapterTimeout = 8 * time.Second

var ErrInvalidIdentifier = errors.New("invalid token identifier")

// SnapshotRecorder receives every completed record. Failures are logged and
// never affect the response.
type SnapshotRecorder interface {
	Record(ctx context.Context, rec *models.AggregatedRecord) error
}

// Aggregator resolves a token with the primary adapter, fans the dependent
// adapters out concurrently and merges the results.
type Aggregator struct {
	primary    external.Adapter
	dependents map[string]external.Adapter
	timeout    time.Duration
	recorder   SnapshotRecorder
	metrics    *observability.Metrics
	log        *logrus.Entry
	now        func() time.Time
}

type Option func(*Aggregator)

func WithAdapterTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithRecorder(r SnapshotRecorder) Option {
	return func(a *Aggregator) { a.recorder = r }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

// New builds an Aggregator. primary resolves identity; dependents are keyed by
// Name() and only the known dependent sources are ever invoked.
func New(primary external.Adapter, dependents []external.Adapter, opts ...Option) *Aggregator {
	a := &Aggregator{
		primary:    primary,
		dependents: make(map[string]external.Adapter, len(dependents)),
		timeout:    DefaultAdapterTimeout,
		log:        logger.Component("aggregator"),
		now:        time.Now,
	}
	for _, d := range dependents {
		if d != nil {
			a.dependents[d.Name()] = d
		}
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// identity is what the primary adapter contributes to the dependent calls.
type identity struct {
	name, symbol, contract *string
}

func identityOf(res models.SourceResult) identity {
	d, ok := res.Data.(*models.CoinGeckoData)
	if !res.Available || !ok || d == nil {
		return identity{}
	}
	id := identity{contract: d.ContractAddress}
	if d.Name != "" {
		id.name = &d.Name
	}
	if d.Symbol != "" {
		id.symbol = &d.Symbol
	}
	return id
}

type task struct {
	adapter external.Adapter
	key     string
}

// plan returns the dependent calls to make, in invocation order. Sources whose
// precondition is unmet are left out entirely.
func (a *Aggregator) plan(identifier string, requested []string, id identity) []task {
	var tasks []task
	for _, name := range models.AllSources[1:] {
		ad, ok := a.dependents[name]
		if !ok || !slices.Contains(requested, name) {
			continue
		}
		switch name {
		case models.SourceEtherscan, models.SourceDefiLlama:
			if id.contract == nil || *id.contract == "" {
				continue
			}
			tasks = append(tasks, task{ad, *id.contract})
		case models.SourceCoinMarketCap:
			key := identifier
			if id.symbol != nil {
				key = *id.symbol
			}
			tasks = append(tasks, task{ad, key})
		}
	}
	return tasks
}

// Aggregate never fails because a source failed. It returns an error only for
// an empty identifier or an unexpected panic during orchestration.
func (a *Aggregator) Aggregate(ctx context.Context, identifier string, requested []string) (rec *models.AggregatedRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.WithField("panic", r).Error("aggregation panicked")
			rec, err = nil, fmt.Errorf("aggregate %q: unexpected failure: %v", identifier, r)
		}
	}()

	start := a.now()
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("aggregate: %w: empty", ErrInvalidIdentifier)
	}
	if requested == nil {
		requested = slices.Clone(models.AllSources)
	}

	primaryRes := a.fetch(ctx, a.primary, identifier)
	id := identityOf(primaryRes)

	tasks := a.plan(identifier, requested, id)
	results := make([]models.SourceResult, len(tasks))

	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = a.fetch(ctx, t.adapter, t.key)
			return nil
		})
	}
	_ = g.Wait()

	rec = &models.AggregatedRecord{
		Query: models.QueryInfo{
			TokenIdentifier:  identifier,
			SourcesRequested: requested,
			SourcesSucceeded: []string{},
		},
		TokenInfo: models.TokenInfo{
			Name:            id.name,
			Symbol:          id.symbol,
			ContractAddress: id.contract,
			Blockchain:      models.Blockchain,
		},
		Metadata: models.DefaultJobMetadata(),
	}
	for _, name := range models.AllSources {
		*rec.Sources.Get(name) = models.NotAttempted(name)
	}

	invoked := append([]models.SourceResult{primaryRes}, results...)
	for _, res := range invoked {
		if slot := rec.Sources.Get(res.Source); slot != nil {
			*slot = res
		}
		if res.Available {
			rec.Query.SourcesSucceeded = append(rec.Query.SourcesSucceeded, res.Source)
		}
	}

	rec.Aggregated = Merge(&rec.Sources)

	end := a.now()
	rec.Query.Timestamp = end.UTC()
	rec.Query.ResponseTimeMs = end.Sub(start).Milliseconds()
	a.metrics.RecordAggregation(len(rec.Query.SourcesSucceeded), end.Sub(start))

	a.log.WithFields(logger.Fields{
		"token":     identifier,
		"succeeded": rec.Query.SourcesSucceeded,
		"elapsed":   rec.Query.ResponseTimeMs,
	}).Info("aggregation complete")

	if a.recorder != nil {
		if rerr := a.recorder.Record(ctx, rec); rerr != nil {
			a.log.WithError(rerr).WithField("token", identifier).Warn("snapshot not recorded")
		}
	}
	return rec, nil
}

// fetch runs one adapter under the per-adapter timeout. A timeout or panic
// becomes an Unavailable result; the adapter goroutine is left to finish on
// its own against the cancelled context.
func (a *Aggregator) fetch(ctx context.Context, ad external.Adapter, key string) models.SourceResult {
	name := ad.Name()
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan models.SourceResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.log.WithFields(logger.Fields{"source": name, "panic": r}).Error("adapter panicked")
				done <- models.Unavailable(name, fmt.Sprintf("internal adapter error: %v", r))
			}
		}()
		done <- ad.Fetch(ctx, key)
	}()

	var res models.SourceResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = models.Unavailable(name, fmt.Sprintf("%s request timed out after %s", name, a.timeout))
	}
	if res.Source == "" {
		res.Source = name
	}
	a.metrics.RecordSourceFetch(name, res.Available, time.Since(start))

	if !res.Available {
		a.log.WithFields(logger.Fields{"source": name, "reason": res.Error}).Debug("source unavailable")
	}
	return res
}
