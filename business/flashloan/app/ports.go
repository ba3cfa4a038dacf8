// Package app contains the flash-loan orchestrator and its ports.
package app

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fd1az/chainguard/business/flashloan/domain"
)

// LoanExecutor submits the loan transaction to the chain and waits for its
// receipt. A reverted transaction is an error; the orchestrator classifies
// the failure from it.
type LoanExecutor interface {
	ExecuteLoan(ctx context.Context, provider domain.Provider, asset string, amount decimal.Decimal, payload []byte) (txHash string, err error)
}
