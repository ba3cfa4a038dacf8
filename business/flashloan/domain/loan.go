// Package domain holds the flash-loan model.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// feeDenominator converts basis points to a fraction.
var feeDenominator = decimal.NewFromInt(10000)

// Provider is one flash-loan pool the orchestrator can borrow from.
type Provider struct {
	Name          string
	Chain         string
	PoolAddress   common.Address
	FeeBps        int64
	MaxLoanAmount decimal.Decimal
	// Assets maps supported asset symbols to their token addresses.
	Assets map[string]common.Address
}

// Supports reports whether the provider lends the asset.
func (p Provider) Supports(asset string) bool {
	_, ok := p.Assets[asset]
	return ok
}

// Fee computes the flat loan fee: amount * feeBps / 10000.
func (p Provider) Fee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(p.FeeBps)).Div(feeDenominator)
}

// ProviderQuote describes one provider's terms for a prospective loan.
// Recomputed per request, never persisted.
type ProviderQuote struct {
	Provider      string          `json:"provider"`
	Asset         string          `json:"asset"`
	FeeBps        int64           `json:"feeBasisPoints"`
	MaxLoanAmount decimal.Decimal `json:"maxLoanAmount"`
	Fee           decimal.Decimal `json:"fee"`
	Available     bool            `json:"available"`
}

// Quote is a pre-flight profitability assessment. No network traffic is
// involved in producing one.
type Quote struct {
	Provider       string          `json:"provider"`
	Asset          string          `json:"asset"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	ExpectedProfit decimal.Decimal `json:"expectedProfit"`
	NetProfit      decimal.Decimal `json:"netProfit"`
	Profitable     bool            `json:"profitable"`
}

// ExecutionState tracks a loan through its lifecycle.
type ExecutionState string

const (
	StatePending   ExecutionState = "PENDING"
	StateExecuting ExecutionState = "EXECUTING"
	StateSuccess   ExecutionState = "SUCCESS"
	StateFailed    ExecutionState = "FAILED"
)

// ExecutionResult is the outcome of one loan attempt.
type ExecutionResult struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	Asset          string          `json:"asset"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	ExpectedProfit decimal.Decimal `json:"expectedProfit"`
	State          ExecutionState  `json:"state"`
	TxHash         string          `json:"txHash,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	StartedAt      time.Time       `json:"startedAt"`
	FinishedAt     time.Time       `json:"finishedAt,omitzero"`
}
