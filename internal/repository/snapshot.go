package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/token-data-aggregator/internal/models"
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 500
)

type SnapshotRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

func tokenKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Record stores a summary of rec. It satisfies aggregator.SnapshotRecorder.
func (r *SnapshotRepo) Record(ctx context.Context, rec *models.AggregatedRecord) error {
	_, err := r.Insert(ctx, &models.Snapshot{
		TokenIdentifier:  rec.Query.TokenIdentifier,
		Symbol:           rec.TokenInfo.Symbol,
		ContractAddress:  rec.TokenInfo.ContractAddress,
		PriceUSD:         rec.Aggregated.PriceUSD,
		MarketCapUSD:     rec.Aggregated.MarketCapUSD,
		SourcesSucceeded: rec.Query.SourcesSucceeded,
		RecordedAt:       rec.Query.Timestamp,
	})
	return err
}

func (r *SnapshotRepo) Insert(ctx context.Context, s *models.Snapshot) (*models.Snapshot, error) {
	sources := s.SourcesSucceeded
	if sources == nil {
		sources = []string{}
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO token_snapshots
		   (token_key, token_identifier, symbol, contract_address, price_usd, market_cap_usd, sources_succeeded, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))
		 RETURNING `+snapshotColumns,
		tokenKey(s.TokenIdentifier), s.TokenIdentifier, s.Symbol, s.ContractAddress,
		s.PriceUSD, s.MarketCapUSD, sources, nullTime(s),
	)
	return scanSnapshot(row)
}

// GetRecent returns the newest snapshots for identifier (case-insensitive),
// newest first. limit is clamped to [1, MaxHistoryLimit].
func (r *SnapshotRepo) GetRecent(ctx context.Context, identifier string, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	rows, err := r.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM token_snapshots
		 WHERE token_key = $1
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT $2`,
		tokenKey(identifier), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// --- scan helpers ---

const snapshotColumns = `id, token_identifier, symbol, contract_address, price_usd, market_cap_usd, sources_succeeded, recorded_at`

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSnapshot(row scannable) (*models.Snapshot, error) {
	var s models.Snapshot
	err := row.Scan(&s.ID, &s.TokenIdentifier, &s.Symbol, &s.ContractAddress,
		&s.PriceUSD, &s.MarketCapUSD, &s.SourcesSucceeded, &s.RecordedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func collectSnapshots(rows rowsIter) ([]models.Snapshot, error) {
	out := []models.Snapshot{}
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func nullTime(s *models.Snapshot) any {
	if s.RecordedAt.IsZero() {
		return nil
	}
	return s.RecordedAt
}
