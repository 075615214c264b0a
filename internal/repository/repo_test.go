package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/token-data-aggregator/internal/models"
	"github.com/kjannette/token-data-aggregator/internal/repository"
	"github.com/kjannette/token-data-aggregator/internal/testutil"
)

// ---------- SnapshotRepo ----------

func TestSnapshotRepo(t *testing.T) {
	pool := testutil.SetupPool(t)
	repo := repository.NewSnapshotRepo(pool)
	ctx := context.Background()

	token := "TEST-" + uuid.NewString()[:8]
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM token_snapshots WHERE token_identifier = $1`, token)
	})

	price := 1.25
	symbol := "TST"
	first, err := repo.Insert(ctx, &models.Snapshot{
		TokenIdentifier:  token,
		Symbol:           &symbol,
		PriceUSD:         &price,
		SourcesSucceeded: []string{"coingecko", "defillama"},
		RecordedAt:       time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("expected non-zero ID")
	}
	if first.MarketCapUSD != nil {
		t.Fatalf("expected nil market cap, got %v", *first.MarketCapUSD)
	}

	// Record from an aggregated record
	mcap := 4000.0
	rec := &models.AggregatedRecord{
		Query: models.QueryInfo{
			TokenIdentifier:  token,
			Timestamp:        time.Now(),
			SourcesSucceeded: []string{"coingecko"},
		},
		Aggregated: models.MergedFields{PriceUSD: &price, MarketCapUSD: &mcap},
	}
	if err := repo.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// GetRecent is case-insensitive and newest first
	got, err := repo.GetRecent(ctx, " "+token+" ", 10)
	if err != nil {
		t.Fatalf("GetRecent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(got))
	}
	if got[0].MarketCapUSD == nil || *got[0].MarketCapUSD != 4000 {
		t.Fatalf("newest snapshot should come first: %+v", got[0])
	}
	if len(got[1].SourcesSucceeded) != 2 {
		t.Fatalf("sources not round-tripped: %v", got[1].SourcesSucceeded)
	}
	t.Logf("GetRecent(%s): %d rows", token, len(got))

	limited, err := repo.GetRecent(ctx, token, 1)
	if err != nil {
		t.Fatalf("GetRecent limit: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit not applied: %d rows", len(limited))
	}

	none, err := repo.GetRecent(ctx, "no-such-token-"+token, 0)
	if err != nil {
		t.Fatalf("GetRecent empty: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", none)
	}
}
