// Command tokendata runs one aggregation and prints the record as JSON.
//
//	tokendata [-sources coingecko,etherscan] [-timeout 8s] [TOKEN]
//
// TOKEN defaults to ARB. Provider keys come from the same .env as the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/kjannette/token-data-aggregator/internal/aggregator"
	"github.com/kjannette/token-data-aggregator/internal/config"
	"github.com/kjannette/token-data-aggregator/internal/external"
	"github.com/kjannette/token-data-aggregator/internal/logger"
)

func main() {
	sources := flag.String("sources", "", "comma-separated source list (default all)")
	timeout := flag.Duration("timeout", 0, "per-source timeout (default ADAPTER_TIMEOUT)")
	flag.Parse()

	token := "ARB"
	if flag.NArg() > 0 {
		token = flag.Arg(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	// Logs go to stderr so stdout stays pipeable JSON.
	if err := logger.Get().Configure("warn", cfg.LogFormat, "stderr", 0); err != nil {
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}
	if *timeout > 0 {
		cfg.AdapterTimeout = *timeout
	}

	opts := func(baseURL, key string) external.Options {
		return external.Options{BaseURL: baseURL, APIKey: key, Timeout: cfg.AdapterTimeout}
	}
	agg := aggregator.New(
		external.NewCoinGeckoClient(opts(cfg.CoinGeckoBaseURL, "")),
		[]external.Adapter{
			external.NewEtherscanClient(opts(cfg.EtherscanBaseURL, cfg.EtherscanAPIKey)),
			external.NewCoinMarketCapClient(opts(cfg.CoinMarketCapBaseURL, cfg.CMCAPIKey)),
			external.NewDefiLlamaClient(opts(cfg.DefiLlamaBaseURL, "")),
		},
		aggregator.WithAdapterTimeout(cfg.AdapterTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 4*cfg.AdapterTimeout+5*time.Second)
	defer cancel()

	var requested []string
	for _, s := range strings.Split(*sources, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			requested = append(requested, s)
		}
	}

	rec, err := agg.Aggregate(ctx, token, requested)
	if err != nil {
		fmt.Fprintf(os.Stderr, "aggregate %s: %v\n", token, err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
