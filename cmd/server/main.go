package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kjannette/token-data-aggregator/internal/aggregator"
	"github.com/kjannette/token-data-aggregator/internal/api"
	"github.com/kjannette/token-data-aggregator/internal/config"
	"github.com/kjannette/token-data-aggregator/internal/db"
	"github.com/kjannette/token-data-aggregator/internal/external"
	"github.com/kjannette/token-data-aggregator/internal/logger"
	"github.com/kjannette/token-data-aggregator/internal/notifications"
	"github.com/kjannette/token-data-aggregator/internal/observability"
	"github.com/kjannette/token-data-aggregator/internal/payment"
	"github.com/kjannette/token-data-aggregator/internal/repository"
)

const banner = `
╔══════════════════════════════════════╗
║     Token Data Aggregator v1.0.0     ║
║     x402 pay-per-query endpoint      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	if err := logger.Get().Configure(cfg.LogLevel, cfg.LogFormat, cfg.LogFile, cfg.LogMaxAgeDays); err != nil {
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("", reg)

	// Database (optional)
	var pool *pgxpool.Pool
	if dsn := cfg.DSN(); dsn != "" {
		pool, err = db.Connect(ctx, dsn)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[DB] Connection failed: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			pool.Close()
			fmt.Println("[DB] Connection pool closed")
		}()
		if err := db.TestConnection(ctx, pool); err != nil {
			fmt.Fprintf(os.Stderr, "[DB] Test query failed: %v\n", err)
			os.Exit(1)
		}
		if err := db.Migrate(ctx, pool); err != nil {
			fmt.Fprintf(os.Stderr, "[DB] Migration failed: %v\n", err)
			os.Exit(1)
		}
	}

	// Source adapters
	opts := func(baseURL, key string) external.Options {
		return external.Options{BaseURL: baseURL, APIKey: key, Timeout: cfg.AdapterTimeout}
	}
	primary := external.NewCoinGeckoClient(opts(cfg.CoinGeckoBaseURL, ""))
	dependents := []external.Adapter{
		external.NewEtherscanClient(opts(cfg.EtherscanBaseURL, cfg.EtherscanAPIKey)),
		external.NewCoinMarketCapClient(opts(cfg.CoinMarketCapBaseURL, cfg.CMCAPIKey)),
		external.NewDefiLlamaClient(opts(cfg.DefiLlamaBaseURL, "")),
	}

	aggOpts := []aggregator.Option{
		aggregator.WithAdapterTimeout(cfg.AdapterTimeout),
		aggregator.WithMetrics(metrics),
	}
	var history api.SnapshotHistory
	var pinger api.Pinger
	if pool != nil {
		snaps := repository.NewSnapshotRepo(pool)
		aggOpts = append(aggOpts, aggregator.WithRecorder(snaps))
		history = snaps
		pinger = pool
	}
	agg := aggregator.New(primary, dependents, aggOpts...)

	// Replay store
	var store payment.ReplayStore
	if cfg.RedisAddr != "" {
		rdb, err := payment.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[REDIS] Connection failed: %v\n", err)
			os.Exit(1)
		}
		store = payment.NewRedisStore(rdb, "")
		fmt.Printf("[REDIS] Replay store at %s\n", cfg.RedisAddr)
	} else {
		store = payment.NewMemoryStore(cfg.ReplayWindow)
		fmt.Println("[REDIS] Not configured - using in-memory replay store")
	}
	defer store.Close()

	metrics.TrackReplayStore(func() int {
		n, _ := store.Len(context.Background())
		return n
	})

	notify := notifications.NewSender(cfg.WebhookURL, cfg.NotifyName)

	gate := payment.NewGate(cfg.PaymentConfig(), store, payment.WithMetrics(metrics))

	srv := api.NewServer(api.Deps{
		Aggregator:      agg,
		Gate:            gate,
		History:         history,
		DB:              pinger,
		Notifier:        notify,
		Metrics:         metrics,
		Port:            cfg.Port,
		CORSAllowOrigin: cfg.CORSAllowOrigin,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("api server failed")
			stop()
		}
	}()

	fmt.Println("\nAll services started successfully")
	if err := notify.Send(ctx, fmt.Sprintf("started on :%d (payment required: %t)", cfg.Port, cfg.RequirePayment)); err != nil {
		log.WithError(err).Warn("startup notification failed")
	}

	<-ctx.Done()
	fmt.Println("\nShutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[API] Shutdown error: %v\n", err)
	}
	fmt.Println("[API] Server closed")
	notify.Wait()
	fmt.Println("Shutdown complete")
}
