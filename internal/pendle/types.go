package pendle

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChainNames maps supported chain IDs to their display names.
var ChainNames = map[int]string{
	1:     "Ethereum",
	10:    "Optimism",
	56:    "BNB Smart Chain",
	146:   "Sonic",
	999:   "Hyper EVM",
	5000:  "Mantle",
	8453:  "Base",
	9745:  "Plasma",
	42161: "Arbitrum One",
	80094: "Berachain",
}

// ChainName returns the display name for a chain ID.
func ChainName(chainID int) string {
	if name, ok := ChainNames[chainID]; ok {
		return name
	}
	return fmt.Sprintf("Chain %d", chainID)
}

// Market is a single active Pendle market. Immutable; identified by Address
// within a chain.
type Market struct {
	Name            string    `json:"name"`
	Address         string    `json:"address"`
	Expiry          time.Time `json:"expiry"`
	PT              string    `json:"pt"`
	YT              string    `json:"yt"`
	SY              string    `json:"sy"`
	UnderlyingAsset string    `json:"underlyingAsset"`
}

// TradeURL returns the deep link to this market's YT swap page.
func (m *Market) TradeURL() string {
	return fmt.Sprintf("https://app.pendle.finance/trade/markets/%s/swap?view=yt", m.Address)
}

// Transaction is a single swap recorded against a market. ID is globally
// unique and serves as the deduplication key.
type Transaction struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ImpliedAPY   *float64  `json:"impliedApy"`
	ValuationUSD *float64  `json:"valuationUsd"`
	Market       string    `json:"market"`
	Action       string    `json:"action"`
	Origin       string    `json:"origin"`
	Value        *float64  `json:"value"`
}

// wireTransaction is the upstream shape. Valuation arrives either nested as
// {"valuation":{"usd":...}} or flat as "valuation_usd" depending on endpoint
// version.
type wireTransaction struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ImpliedAPY *float64  `json:"impliedApy"`
	Valuation  *struct {
		USD *float64 `json:"usd"`
	} `json:"valuation"`
	ValuationUSD *float64 `json:"valuation_usd"`
	Market       string   `json:"market"`
	Action       string   `json:"action"`
	Origin       string   `json:"origin"`
	Value        *float64 `json:"value"`
}

// UnmarshalJSON decodes a transaction from either upstream valuation shape.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Transaction{
		ID:         w.ID,
		Timestamp:  w.Timestamp,
		ImpliedAPY: w.ImpliedAPY,
		Market:     w.Market,
		Action:     w.Action,
		Origin:     w.Origin,
		Value:      w.Value,
	}
	if w.Valuation != nil && w.Valuation.USD != nil {
		t.ValuationUSD = w.Valuation.USD
	} else {
		t.ValuationUSD = w.ValuationUSD
	}
	return nil
}

// TransactionsPage is one page of the v4 transactions endpoint.
type TransactionsPage struct {
	Results     []Transaction `json:"results"`
	ResumeToken string        `json:"resumeToken"`
}

// APIError is a non-2xx or malformed upstream response, surfaced after
// retries are exhausted.
type APIError struct {
	Status   int
	Code     string
	Endpoint string
	Body     string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("pendle api %s: status %d (%s)", e.Endpoint, e.Status, e.Code)
	}
	return fmt.Sprintf("pendle api %s: status %d", e.Endpoint, e.Status)
}

// RateLimitError signals backoff or request-budget exhaustion. Callers should
// degrade to best-effort partial data rather than abort the run.
type RateLimitError struct {
	Endpoint string
	Retries  int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("pendle api %s: rate limited after %d retries", e.Endpoint, e.Retries)
}
