package models

// Provider names as they appear in query parameters and JSON keys.
const (
	SourceCoinGecko     = "coingecko"
	SourceEtherscan     = "etherscan"
	SourceCoinMarketCap = "coinmarketcap"
	SourceDefiLlama     = "defillama"
)

// AllSources is the default source list, in invocation order.
var AllSources = []string{SourceCoinGecko, SourceEtherscan, SourceCoinMarketCap, SourceDefiLlama}

// SourceData is implemented by the per-provider field schemas.
type SourceData interface {
	SourceName() string
}

// SourceResult is either Available (Data set) or Unavailable (Error set).
// A result for an adapter that was never invoked carries neither.
type SourceResult struct {
	Source    string     `json:"source,omitempty"`
	Available bool       `json:"available"`
	Data      SourceData `json:"data,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func Available(data SourceData) SourceResult {
	return SourceResult{Source: data.SourceName(), Available: true, Data: data}
}

func Unavailable(source, reason string) SourceResult {
	return SourceResult{Source: source, Available: false, Error: reason}
}

// NotAttempted marks a source that was skipped by the aggregator.
func NotAttempted(source string) SourceResult {
	return SourceResult{Source: source}
}

// CoinGeckoData is the normalized CoinGecko detail record.
type CoinGeckoData struct {
	ID              string  `json:"id"`
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	ContractAddress *string `json:"contract_address"`

	CurrentPriceUSD          *float64 `json:"current_price_usd"`
	PriceChange24hPercentage *float64 `json:"price_change_24h_percentage"`
	PriceChange7dPercentage  *float64 `json:"price_change_7d_percentage"`
	PriceChange30dPercentage *float64 `json:"price_change_30d_percentage"`

	MarketCapUSD             *float64 `json:"market_cap_usd"`
	MarketCapRank            *int     `json:"market_cap_rank"`
	FullyDilutedValuationUSD *float64 `json:"fully_diluted_valuation_usd"`
	FDVToMarketCapRatio      *string  `json:"fdv_to_market_cap_ratio"`

	TotalSupply                 *float64 `json:"total_supply"`
	MaxSupply                   *float64 `json:"max_supply"`
	CirculatingSupply           *float64 `json:"circulating_supply"`
	CirculatingSupplyPercentage *string  `json:"circulating_supply_percentage"`

	TradingVolume24hUSD    *float64 `json:"trading_volume_24h_usd"`
	VolumeToMarketCapRatio *string  `json:"volume_to_market_cap_ratio"`

	AllTimeHighUSD      *float64 `json:"all_time_high_usd"`
	AllTimeHighDate     *string  `json:"all_time_high_date"`
	ATHChangePercentage *float64 `json:"ath_change_percentage"`
	AllTimeLowUSD       *float64 `json:"all_time_low_usd"`
	AllTimeLowDate      *string  `json:"all_time_low_date"`

	Categories      []string `json:"categories"`
	Description     *string  `json:"description"`
	Homepage        *string  `json:"homepage"`
	BlockchainSite  *string  `json:"blockchain_site"`
	TwitterHandle   *string  `json:"twitter_handle"`
	TelegramChannel *string  `json:"telegram_channel"`
	LastUpdated     *string  `json:"last_updated"`
}

func (*CoinGeckoData) SourceName() string { return SourceCoinGecko }

type EtherscanData struct {
	ContractAddress  string   `json:"contract_address"`
	TokenName        *string  `json:"token_name"`
	TokenSymbol      *string  `json:"token_symbol"`
	Decimals         *int     `json:"decimals"`
	TotalSupplyRaw   *string  `json:"total_supply_raw"`
	// TotalSupply is whole tokens as a float64, inexact above 2^53.
	// TotalSupplyRaw keeps the exact base-unit integer.
	TotalSupply      *float64 `json:"total_supply"`
	ContractVerified bool     `json:"contract_verified"`
	EtherscanURL     string   `json:"etherscan_url"`
}

func (*EtherscanData) SourceName() string { return SourceEtherscan }

type CoinMarketCapData struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Slug   string `json:"slug"`

	CMCRank *int `json:"cmc_rank"`

	CirculatingSupply *float64 `json:"circulating_supply"`
	TotalSupply       *float64 `json:"total_supply"`
	MaxSupply         *float64 `json:"max_supply"`

	PriceUSD              *float64 `json:"price_usd"`
	Volume24hUSD          *float64 `json:"volume_24h_usd"`
	VolumeChange24h       *float64 `json:"volume_change_24h"`
	PercentChange1h       *float64 `json:"percent_change_1h"`
	PercentChange24h      *float64 `json:"percent_change_24h"`
	PercentChange7d       *float64 `json:"percent_change_7d"`
	PercentChange30d      *float64 `json:"percent_change_30d"`
	MarketCapUSD          *float64 `json:"market_cap_usd"`
	MarketCapDominance    *float64 `json:"market_cap_dominance"`
	FullyDilutedMarketCap *float64 `json:"fully_diluted_market_cap"`

	LastUpdated      *string `json:"last_updated"`
	DateAdded        *string `json:"date_added"`
	CoinMarketCapURL string  `json:"coinmarketcap_url"`
}

func (*CoinMarketCapData) SourceName() string { return SourceCoinMarketCap }

type DefiLlamaData struct {
	PriceUSD     *float64 `json:"price_usd"`
	Symbol       *string  `json:"symbol"`
	Timestamp    *int64   `json:"timestamp"`
	Confidence   *float64 `json:"confidence"`
	DefiLlamaURL string   `json:"defillama_url"`
}

func (*DefiLlamaData) SourceName() string { return SourceDefiLlama }
