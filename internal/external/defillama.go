package external

import (
	"context"
	"strings"

	"github.com/kjannette/token-data-aggregator/internal/models"
)

const defillamaURL = "https://coins.llama.fi"

// DefiLlamaClient reads the current-price snapshot for an Ethereum contract.
type DefiLlamaClient struct {
	client
}

func NewDefiLlamaClient(opts Options) *DefiLlamaClient {
	return &DefiLlamaClient{client: newClient(opts, defillamaURL, 0, 1)}
}

func (c *DefiLlamaClient) Name() string { return models.SourceDefiLlama }

func (c *DefiLlamaClient) Fetch(ctx context.Context, contract string) models.SourceResult {
	data, err := c.fetch(ctx, contract)
	if err != nil {
		return models.Unavailable(models.SourceDefiLlama, err.Error())
	}
	return models.Available(data)
}

type llamaResponse struct {
	Coins map[string]struct {
		Price      *float64 `json:"price"`
		Symbol     *string  `json:"symbol"`
		Timestamp  *int64   `json:"timestamp"`
		Confidence *float64 `json:"confidence"`
	} `json:"coins"`
}

func (c *DefiLlamaClient) fetch(ctx context.Context, contract string) (*models.DefiLlamaData, error) {
	if contract == "" {
		return nil, notFound("No contract address provided")
	}

	coinKey := models.Blockchain + ":" + contract
	var resp llamaResponse
	if err := c.getJSON(ctx, "DefiLlama fetch", c.baseURL+"/prices/current/"+coinKey, nil, &resp); err != nil {
		return nil, err
	}

	coin, ok := resp.Coins[models.Blockchain+":"+strings.ToLower(contract)]
	if !ok {
		return nil, notFound("Token not found on DefiLlama")
	}
	return &models.DefiLlamaData{
		PriceUSD:     coin.Price,
		Symbol:       coin.Symbol,
		Timestamp:    coin.Timestamp,
		Confidence:   coin.Confidence,
		DefiLlamaURL: "https://defillama.com/token/" + coinKey,
	}, nil
}
