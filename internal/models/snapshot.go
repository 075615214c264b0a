package models

import "time"

// Snapshot is a persisted summary of one aggregation.
type Snapshot struct {
	ID               int64     `json:"id"`
	TokenIdentifier  string    `json:"tokenIdentifier"`
	Symbol           *string   `json:"symbol"`
	ContractAddress  *string   `json:"contractAddress"`
	PriceUSD         *float64  `json:"priceUsd"`
	MarketCapUSD     *float64  `json:"marketCapUsd"`
	SourcesSucceeded []string  `json:"sourcesSucceeded"`
	RecordedAt       time.Time `json:"recordedAt"`
}
