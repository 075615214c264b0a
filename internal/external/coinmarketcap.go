package external

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/kjannette/token-data-aggregator/internal/models"
)

const (
	coinmarketcapURL = "https://pro-api.coinmarketcap.com/v1"
	coinmarketcapRPM = 30
)

// CoinMarketCapClient looks tokens up by symbol.
type CoinMarketCapClient struct {
	client
}

func NewCoinMarketCapClient(opts Options) *CoinMarketCapClient {
	return &CoinMarketCapClient{client: newClient(opts, coinmarketcapURL, coinmarketcapRPM, 1)}
}

func (c *CoinMarketCapClient) Name() string { return models.SourceCoinMarketCap }

func (c *CoinMarketCapClient) Configured() bool { return c.apiKey != "" }

func (c *CoinMarketCapClient) Fetch(ctx context.Context, symbol string) models.SourceResult {
	data, err := c.fetch(ctx, symbol)
	if err != nil {
		return models.Unavailable(models.SourceCoinMarketCap, err.Error())
	}
	return models.Available(data)
}

type cmcResponse struct {
	Status *struct {
		ErrorCode    int     `json:"error_code"`
		ErrorMessage *string `json:"error_message"`
	} `json:"status"`
	Data map[string]*cmcCoin `json:"data"`
}

type cmcCoin struct {
	ID                int64    `json:"id"`
	Name              string   `json:"name"`
	Symbol            string   `json:"symbol"`
	Slug              string   `json:"slug"`
	CMCRank           *int     `json:"cmc_rank"`
	CirculatingSupply *float64 `json:"circulating_supply"`
	TotalSupply       *float64 `json:"total_supply"`
	MaxSupply         *float64 `json:"max_supply"`
	DateAdded         *string  `json:"date_added"`
	Quote             struct {
		USD *struct {
			Price                 *float64 `json:"price"`
			Volume24h             *float64 `json:"volume_24h"`
			VolumeChange24h       *float64 `json:"volume_change_24h"`
			PercentChange1h       *float64 `json:"percent_change_1h"`
			PercentChange24h      *float64 `json:"percent_change_24h"`
			PercentChange7d       *float64 `json:"percent_change_7d"`
			PercentChange30d      *float64 `json:"percent_change_30d"`
			MarketCap             *float64 `json:"market_cap"`
			MarketCapDominance    *float64 `json:"market_cap_dominance"`
			FullyDilutedMarketCap *float64 `json:"fully_diluted_market_cap"`
			LastUpdated           *string  `json:"last_updated"`
		} `json:"USD"`
	} `json:"quote"`
}

func (c *CoinMarketCapClient) fetch(ctx context.Context, symbol string) (*models.CoinMarketCapData, error) {
	if !c.Configured() {
		return nil, notConfigured("CoinMarketCap API key not configured")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	endpoint := c.baseURL + "/cryptocurrency/quotes/latest?symbol=" + url.QueryEscape(symbol)
	header := http.Header{"X-CMC_PRO_API_KEY": []string{c.apiKey}}

	var resp cmcResponse
	if err := c.getJSON(ctx, "CoinMarketCap fetch", endpoint, header, &resp); err != nil {
		return nil, err
	}
	if resp.Status == nil || resp.Status.ErrorCode != 0 {
		msg := "Unknown error"
		if resp.Status != nil && resp.Status.ErrorMessage != nil && *resp.Status.ErrorMessage != "" {
			msg = *resp.Status.ErrorMessage
		}
		return nil, upstreamf("%s", msg)
	}

	coin := resp.Data[symbol]
	if coin == nil {
		return nil, notFound("Token not found")
	}

	out := &models.CoinMarketCapData{
		ID:                coin.ID,
		Name:              coin.Name,
		Symbol:            coin.Symbol,
		Slug:              coin.Slug,
		CMCRank:           coin.CMCRank,
		CirculatingSupply: coin.CirculatingSupply,
		TotalSupply:       coin.TotalSupply,
		MaxSupply:         coin.MaxSupply,
		DateAdded:         coin.DateAdded,
		CoinMarketCapURL:  "https://coinmarketcap.com/currencies/" + coin.Slug + "/",
	}
	if q := coin.Quote.USD; q != nil {
		out.PriceUSD = q.Price
		out.Volume24hUSD = q.Volume24h
		out.VolumeChange24h = q.VolumeChange24h
		out.PercentChange1h = q.PercentChange1h
		out.PercentChange24h = q.PercentChange24h
		out.PercentChange7d = q.PercentChange7d
		out.PercentChange30d = q.PercentChange30d
		out.MarketCapUSD = q.MarketCap
		out.MarketCapDominance = q.MarketCapDominance
		out.FullyDilutedMarketCap = q.FullyDilutedMarketCap
		out.LastUpdated = q.LastUpdated
	}
	return out, nil
}
