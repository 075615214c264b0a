package models

import "time"

const (
	JobName                 = "token-data-aggregator"
	JobVersion              = "1.0.0"
	CacheRecommendedSeconds = 300
	Blockchain              = "ethereum"
)

var NextJobSuggestions = []string{
	"token-unlock-analyzer",
	"whale-wallet-monitor",
	"technical-analysis",
	"sentiment-analyzer",
}

// AggregatedRecord is the merged answer for one token query.
type AggregatedRecord struct {
	Query      QueryInfo    `json:"query"`
	TokenInfo  TokenInfo    `json:"token_info"`
	Sources    Sources      `json:"sources"`
	Aggregated MergedFields `json:"aggregated"`
	Metadata   JobMetadata  `json:"metadata"`
}

type QueryInfo struct {
	TokenIdentifier  string    `json:"token_identifier"`
	Timestamp        time.Time `json:"timestamp"`
	ResponseTimeMs   int64     `json:"response_time_ms"`
	SourcesRequested []string  `json:"sources_requested"`
	SourcesSucceeded []string  `json:"sources_succeeded"`
}

type TokenInfo struct {
	Name            *string `json:"name"`
	Symbol          *string `json:"symbol"`
	ContractAddress *string `json:"contract_address"`
	Blockchain      string  `json:"blockchain"`
}

// Sources holds one raw result per provider.
type Sources struct {
	CoinGecko     SourceResult `json:"coingecko"`
	Etherscan     SourceResult `json:"etherscan"`
	CoinMarketCap SourceResult `json:"coinmarketcap"`
	DefiLlama     SourceResult `json:"defillama"`
}

// Get returns the result slot for a source name, or nil for unknown names.
func (s *Sources) Get(name string) *SourceResult {
	switch name {
	case SourceCoinGecko:
		return &s.CoinGecko
	case SourceEtherscan:
		return &s.Etherscan
	case SourceCoinMarketCap:
		return &s.CoinMarketCap
	case SourceDefiLlama:
		return &s.DefiLlama
	}
	return nil
}

// MergedFields is the best-value view. nil means no available source had it.
type MergedFields struct {
	PriceUSD                 *float64 `json:"price_usd"`
	MarketCapUSD             *float64 `json:"market_cap_usd"`
	FullyDilutedValuationUSD *float64 `json:"fully_diluted_valuation_usd"`
	TradingVolume24hUSD      *float64 `json:"trading_volume_24h_usd"`
	CirculatingSupply        *float64 `json:"circulating_supply"`
	TotalSupply              *float64 `json:"total_supply"`
	MaxSupply                *float64 `json:"max_supply"`
}

type JobMetadata struct {
	JobName                 string   `json:"job_name"`
	JobVersion              string   `json:"job_version"`
	X402Compatible          bool     `json:"x402_compatible"`
	CacheRecommendedSeconds int      `json:"cache_recommended_seconds"`
	NextJobSuggestions      []string `json:"next_job_suggestions"`
}

func DefaultJobMetadata() JobMetadata {
	return JobMetadata{
		JobName:                 JobName,
		JobVersion:              JobVersion,
		X402Compatible:          true,
		CacheRecommendedSeconds: CacheRecommendedSeconds,
		NextJobSuggestions:      append([]string(nil), NextJobSuggestions...),
	}
}
