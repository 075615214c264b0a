package external

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/kjannette/token-data-aggregator/internal/ethereum"
	"github.com/kjannette/token-data-aggregator/internal/models"
)

const (
	etherscanURL = "https://api.etherscan.io/api"
	etherscanRPM = 300 // 5 calls/sec on the free plan
)

// EtherscanClient reads ERC-20 metadata and total supply for a contract.
type EtherscanClient struct {
	client
}

func NewEtherscanClient(opts Options) *EtherscanClient {
	return &EtherscanClient{client: newClient(opts, etherscanURL, etherscanRPM, 2)}
}

func (c *EtherscanClient) Name() string { return models.SourceEtherscan }

// Configured reports whether an API key is present.
func (c *EtherscanClient) Configured() bool { return c.apiKey != "" }

func (c *EtherscanClient) Fetch(ctx context.Context, contract string) models.SourceResult {
	data, err := c.fetch(ctx, contract)
	if err != nil {
		return models.Unavailable(models.SourceEtherscan, err.Error())
	}
	return models.Available(data)
}

type esEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type esTokenInfo struct {
	ContractAddress string     `json:"contractAddress"`
	Name            string     `json:"name"`
	TokenName       string     `json:"tokenName"`
	Symbol          string     `json:"symbol"`
	Decimals        flexString `json:"decimals"`
	Divisor         flexString `json:"divisor"`
}

func (c *EtherscanClient) fetch(ctx context.Context, contract string) (*models.EtherscanData, error) {
	if contract == "" {
		return nil, notFound("No contract address provided")
	}
	if !c.Configured() {
		return nil, notConfigured("Etherscan API key not configured")
	}

	var info esEnvelope
	if err := c.getJSON(ctx, "Etherscan fetch", c.query("token", "tokeninfo", contract), nil, &info); err != nil {
		return nil, err
	}
	if info.Status != "1" {
		msg := info.Message
		if msg == "" {
			msg = "Token info not available"
		}
		return nil, notFound(msg)
	}
	ti, err := decodeTokenInfo(info.Result)
	if err != nil {
		return nil, upstreamf("Etherscan decode: %v", err)
	}

	var supply esEnvelope
	if err := c.getJSON(ctx, "Etherscan supply fetch", c.query("stats", "tokensupply", contract), nil, &supply); err != nil {
		return nil, err
	}

	out := &models.EtherscanData{
		ContractAddress:  contract,
		TokenName:        strPtr(firstString(ti.Name, ti.TokenName)),
		TokenSymbol:      strPtr(ti.Symbol),
		ContractVerified: ti.ContractAddress != "",
		EtherscanURL:     ethereum.ExplorerTokenURL(contract),
	}

	decimals := firstString(string(ti.Decimals), string(ti.Divisor))
	if n, err := strconv.Atoi(decimals); err == nil {
		out.Decimals = &n
	}

	if supply.Status == "1" {
		var raw flexString
		if err := json.Unmarshal(supply.Result, &raw); err == nil && raw != "" {
			s := string(raw)
			out.TotalSupplyRaw = &s
			if out.Decimals != nil {
				if whole, err := ethereum.ScaleDown(s, *out.Decimals); err == nil {
					f := ethereum.BigToFloat(whole)
					out.TotalSupply = &f
				}
			}
		}
	}
	return out, nil
}

func (c *EtherscanClient) query(module, action, contract string) string {
	q := url.Values{}
	q.Set("module", module)
	q.Set("action", action)
	q.Set("contractaddress", contract)
	q.Set("apikey", c.apiKey)
	return c.baseURL + "?" + q.Encode()
}

// decodeTokenInfo accepts the result either as a one-element array or as a
// bare object.
func decodeTokenInfo(raw json.RawMessage) (*esTokenInfo, error) {
	var list []esTokenInfo
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return &esTokenInfo{}, nil
		}
		return &list[0], nil
	}
	var one esTokenInfo
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, err
	}
	return &one, nil
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
