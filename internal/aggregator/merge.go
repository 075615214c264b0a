package aggregator

import "github.com/kjannette/token-data-aggregator/internal/models"

// Candidate reads one optional numeric field from one source's data.
type Candidate struct {
	Source string
	Field  string
	value  func(models.SourceData) *float64
}

// FieldPriority is the ordered list of candidates for one merged field. The
// first available, non-nil value wins; zero is a value.
type FieldPriority struct {
	Field      string
	Candidates []Candidate
	target     func(*models.MergedFields) **float64
}

func from[T models.SourceData](source, field string, get func(T) *float64) Candidate {
	return Candidate{
		Source: source,
		Field:  field,
		value: func(d models.SourceData) *float64 {
			t, ok := d.(T)
			if !ok {
				return nil
			}
			return get(t)
		},
	}
}

var (
	cgPrice  = from(models.SourceCoinGecko, "current_price_usd", func(d *models.CoinGeckoData) *float64 { return d.CurrentPriceUSD })
	cgMcap   = from(models.SourceCoinGecko, "market_cap_usd", func(d *models.CoinGeckoData) *float64 { return d.MarketCapUSD })
	cgFDV    = from(models.SourceCoinGecko, "fully_diluted_valuation_usd", func(d *models.CoinGeckoData) *float64 { return d.FullyDilutedValuationUSD })
	cgVolume = from(models.SourceCoinGecko, "trading_volume_24h_usd", func(d *models.CoinGeckoData) *float64 { return d.TradingVolume24hUSD })
	cgCirc   = from(models.SourceCoinGecko, "circulating_supply", func(d *models.CoinGeckoData) *float64 { return d.CirculatingSupply })
	cgTotal  = from(models.SourceCoinGecko, "total_supply", func(d *models.CoinGeckoData) *float64 { return d.TotalSupply })
	cgMax    = from(models.SourceCoinGecko, "max_supply", func(d *models.CoinGeckoData) *float64 { return d.MaxSupply })

	esTotal = from(models.SourceEtherscan, "total_supply", func(d *models.EtherscanData) *float64 { return d.TotalSupply })

	cmcPrice  = from(models.SourceCoinMarketCap, "price_usd", func(d *models.CoinMarketCapData) *float64 { return d.PriceUSD })
	cmcMcap   = from(models.SourceCoinMarketCap, "market_cap_usd", func(d *models.CoinMarketCapData) *float64 { return d.MarketCapUSD })
	cmcFDV    = from(models.SourceCoinMarketCap, "fully_diluted_market_cap", func(d *models.CoinMarketCapData) *float64 { return d.FullyDilutedMarketCap })
	cmcVolume = from(models.SourceCoinMarketCap, "volume_24h_usd", func(d *models.CoinMarketCapData) *float64 { return d.Volume24hUSD })
	cmcCirc   = from(models.SourceCoinMarketCap, "circulating_supply", func(d *models.CoinMarketCapData) *float64 { return d.CirculatingSupply })
	cmcTotal  = from(models.SourceCoinMarketCap, "total_supply", func(d *models.CoinMarketCapData) *float64 { return d.TotalSupply })
	cmcMax    = from(models.SourceCoinMarketCap, "max_supply", func(d *models.CoinMarketCapData) *float64 { return d.MaxSupply })

	llamaPrice = from(models.SourceDefiLlama, "price_usd", func(d *models.DefiLlamaData) *float64 { return d.PriceUSD })
)

// PriorityTable is the fixed merge policy, one entry per merged field.
var PriorityTable = []FieldPriority{
	{
		Field:      "price_usd",
		Candidates: []Candidate{cgPrice, cmcPrice, llamaPrice},
		target:     func(m *models.MergedFields) **float64 { return &m.PriceUSD },
	},
	{
		Field:      "market_cap_usd",
		Candidates: []Candidate{cgMcap, cmcMcap},
		target:     func(m *models.MergedFields) **float64 { return &m.MarketCapUSD },
	},
	{
		Field:      "fully_diluted_valuation_usd",
		Candidates: []Candidate{cgFDV, cmcFDV},
		target:     func(m *models.MergedFields) **float64 { return &m.FullyDilutedValuationUSD },
	},
	{
		Field:      "trading_volume_24h_usd",
		Candidates: []Candidate{cgVolume, cmcVolume},
		target:     func(m *models.MergedFields) **float64 { return &m.TradingVolume24hUSD },
	},
	{
		Field:      "circulating_supply",
		Candidates: []Candidate{cgCirc, cmcCirc},
		target:     func(m *models.MergedFields) **float64 { return &m.CirculatingSupply },
	},
	{
		Field:      "total_supply",
		Candidates: []Candidate{cgTotal, esTotal, cmcTotal},
		target:     func(m *models.MergedFields) **float64 { return &m.TotalSupply },
	},
	{
		Field:      "max_supply",
		Candidates: []Candidate{cgMax, cmcMax},
		target:     func(m *models.MergedFields) **float64 { return &m.MaxSupply },
	},
}

// Resolve walks the candidates in order and returns the winning value and the
// source it came from. Unavailable results are never consulted.
func (p FieldPriority) Resolve(sources *models.Sources) (*float64, string) {
	for _, c := range p.Candidates {
		res := sources.Get(c.Source)
		if res == nil || !res.Available || res.Data == nil {
			continue
		}
		if v := c.value(res.Data); v != nil {
			out := *v
			return &out, c.Source
		}
	}
	return nil, ""
}

// Merge applies PriorityTable to a full set of source results.
func Merge(sources *models.Sources) models.MergedFields {
	var out models.MergedFields
	for _, p := range PriorityTable {
		v, _ := p.Resolve(sources)
		*p.target(&out) = v
	}
	return out
}
