// Package domain holds the withdrawal model.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel grades a withdrawal by its share of the available balance.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskFor derives the level from the withdrawal's fraction of the balance:
// above half is HIGH, above a quarter MEDIUM, else LOW.
func RiskFor(amount, balance decimal.Decimal) RiskLevel {
	if !balance.IsPositive() {
		return RiskHigh
	}
	fraction := amount.Div(balance)
	switch {
	case fraction.GreaterThan(decimal.NewFromFloat(0.5)):
		return RiskHigh
	case fraction.GreaterThan(decimal.NewFromFloat(0.25)):
		return RiskMedium
	default:
		return RiskLow
	}
}

// Status tracks a withdrawal record. COMPLETED and FAILED are terminal;
// a record never changes after reaching one.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Request is a withdrawal the guard is asked to perform.
type Request struct {
	Chain       string
	Destination string
	Amount      decimal.Decimal
}

// Validation is the guard's verdict on a request.
type Validation struct {
	Valid  bool      `json:"valid"`
	Reason string    `json:"reason,omitempty"`
	Risk   RiskLevel `json:"riskLevel"`
}

// Record is one entry in the append-only withdrawal history.
type Record struct {
	ID          string          `json:"id"`
	Chain       string          `json:"chain"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Risk        RiskLevel       `json:"riskLevel"`
	Status      Status          `json:"status"`
	TxHash      string          `json:"txHash,omitempty"`
	GasUsed     uint64          `json:"gasUsed,omitempty"`
	GasPriceWei string          `json:"gasPriceWei,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}
