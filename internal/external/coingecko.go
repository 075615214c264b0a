package external

import (
	"context"
	"net/url"
	"strings"

	"github.com/kjannette/token-data-aggregator/internal/ethereum"
	"github.com/kjannette/token-data-aggregator/internal/models"
)

const (
	coingeckoURL = "https://api.coingecko.com/api/v3"

	// Free tier allows roughly 30 calls per minute; each Fetch makes two.
	coingeckoRPM = 30

	descriptionLimit = 500
)

// CoinGeckoClient is the identity-resolving adapter: it turns a raw symbol,
// name or address into a CoinGecko coin and its Ethereum contract address.
type CoinGeckoClient struct {
	client
}

func NewCoinGeckoClient(opts Options) *CoinGeckoClient {
	return &CoinGeckoClient{client: newClient(opts, coingeckoURL, coingeckoRPM, 2)}
}

func (c *CoinGeckoClient) Name() string { return models.SourceCoinGecko }

func (c *CoinGeckoClient) Fetch(ctx context.Context, identifier string) models.SourceResult {
	data, err := c.fetch(ctx, identifier)
	if err != nil {
		return models.Unavailable(models.SourceCoinGecko, err.Error())
	}
	return models.Available(data)
}

type cgSearchResponse struct {
	Coins []struct {
		ID     string `json:"id"`
		Symbol string `json:"symbol"`
		Name   string `json:"name"`
	} `json:"coins"`
}

type cgUSD struct {
	USD *float64 `json:"usd"`
}

type cgUSDDate struct {
	USD *string `json:"usd"`
}

type cgDetailResponse struct {
	ID            string            `json:"id"`
	Symbol        string            `json:"symbol"`
	Name          string            `json:"name"`
	Platforms     map[string]string `json:"platforms"`
	MarketCapRank *int              `json:"market_cap_rank"`
	Categories    []string          `json:"categories"`
	Description   struct {
		En string `json:"en"`
	} `json:"description"`
	Links struct {
		Homepage                  []string `json:"homepage"`
		BlockchainSite            []string `json:"blockchain_site"`
		TwitterScreenName         string   `json:"twitter_screen_name"`
		TelegramChannelIdentifier string   `json:"telegram_channel_identifier"`
	} `json:"links"`
	MarketData struct {
		CurrentPrice             cgUSD     `json:"current_price"`
		PriceChangePercentage24h *float64  `json:"price_change_percentage_24h"`
		PriceChangePercentage7d  *float64  `json:"price_change_percentage_7d"`
		PriceChangePercentage30d *float64  `json:"price_change_percentage_30d"`
		MarketCap                cgUSD     `json:"market_cap"`
		FullyDilutedValuation    cgUSD     `json:"fully_diluted_valuation"`
		TotalSupply              *float64  `json:"total_supply"`
		MaxSupply                *float64  `json:"max_supply"`
		CirculatingSupply        *float64  `json:"circulating_supply"`
		TotalVolume              cgUSD     `json:"total_volume"`
		ATH                      cgUSD     `json:"ath"`
		ATHDate                  cgUSDDate `json:"ath_date"`
		ATHChangePercentage      cgUSD     `json:"ath_change_percentage"`
		ATL                      cgUSD     `json:"atl"`
		ATLDate                  cgUSDDate `json:"atl_date"`
	} `json:"market_data"`
	LastUpdated *string `json:"last_updated"`
}

func (c *CoinGeckoClient) fetch(ctx context.Context, identifier string) (*models.CoinGeckoData, error) {
	coinID, err := c.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}

	detailURL := c.baseURL + "/coins/" + url.PathEscape(coinID) +
		"?localization=false&tickers=false&community_data=false&developer_data=false"
	var d cgDetailResponse
	if err := c.getJSON(ctx, "CoinGecko detail fetch", detailURL, nil, &d); err != nil {
		return nil, err
	}
	return normalizeCoinGecko(&d), nil
}

// resolve searches by identifier and prefers an exact (case-insensitive)
// symbol match over the provider's first hit.
func (c *CoinGeckoClient) resolve(ctx context.Context, identifier string) (string, error) {
	searchURL := c.baseURL + "/search?query=" + url.QueryEscape(identifier)
	var sr cgSearchResponse
	if err := c.getJSON(ctx, "CoinGecko search", searchURL, nil, &sr); err != nil {
		return "", err
	}
	if len(sr.Coins) == 0 {
		return "", notFound("Token not found on CoinGecko")
	}
	for _, coin := range sr.Coins {
		if strings.EqualFold(coin.Symbol, identifier) {
			return coin.ID, nil
		}
	}
	return sr.Coins[0].ID, nil
}

func normalizeCoinGecko(d *cgDetailResponse) *models.CoinGeckoData {
	md := d.MarketData
	out := &models.CoinGeckoData{
		ID:     d.ID,
		Symbol: strings.ToUpper(d.Symbol),
		Name:   d.Name,

		CurrentPriceUSD:          md.CurrentPrice.USD,
		PriceChange24hPercentage: md.PriceChangePercentage24h,
		PriceChange7dPercentage:  md.PriceChangePercentage7d,
		PriceChange30dPercentage: md.PriceChangePercentage30d,

		MarketCapUSD:             md.MarketCap.USD,
		MarketCapRank:            d.MarketCapRank,
		FullyDilutedValuationUSD: md.FullyDilutedValuation.USD,
		FDVToMarketCapRatio:      ratio(md.FullyDilutedValuation.USD, md.MarketCap.USD, 1, 2),

		TotalSupply:                 md.TotalSupply,
		MaxSupply:                   md.MaxSupply,
		CirculatingSupply:           md.CirculatingSupply,
		CirculatingSupplyPercentage: ratio(md.CirculatingSupply, md.TotalSupply, 100, 2),

		TradingVolume24hUSD:    md.TotalVolume.USD,
		VolumeToMarketCapRatio: ratio(md.TotalVolume.USD, md.MarketCap.USD, 1, 4),

		AllTimeHighUSD:      md.ATH.USD,
		AllTimeHighDate:     md.ATHDate.USD,
		ATHChangePercentage: md.ATHChangePercentage.USD,
		AllTimeLowUSD:       md.ATL.USD,
		AllTimeLowDate:      md.ATLDate.USD,

		Categories:      nonNilStrings(d.Categories),
		Description:     truncateRunes(d.Description.En, descriptionLimit),
		Homepage:        firstNonEmpty(d.Links.Homepage[:min(1, len(d.Links.Homepage))]),
		BlockchainSite:  firstNonEmpty(d.Links.BlockchainSite),
		TwitterHandle:   strPtr(d.Links.TwitterScreenName),
		TelegramChannel: strPtr(d.Links.TelegramChannelIdentifier),
		LastUpdated:     d.LastUpdated,
	}
	if addr, ok := ethereum.NormalizeAddress(d.Platforms[models.Blockchain]); ok {
		out.ContractAddress = &addr
	}
	return out
}

func nonNilStrings(s []string) []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
