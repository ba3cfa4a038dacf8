// Package app contains the withdrawal guard and its ports.
package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/chainguard/business/withdrawal/domain"
	"github.com/fd1az/chainguard/internal/apperror"
)

// SendReceipt carries the chain-level outcome of a sent withdrawal.
type SendReceipt struct {
	TxHash      string
	GasUsed     uint64
	GasPriceWei string
}

// Sender moves funds on chain and reports the balance they come from.
type Sender interface {
	// Balance returns the spendable balance of the treasury account.
	Balance(ctx context.Context, chain string) (decimal.Decimal, error)

	// Send transfers amount to destination and waits for the receipt.
	Send(ctx context.Context, chain, destination string, amount decimal.Decimal) (*SendReceipt, error)
}

// SenderPool routes sender calls to the sender dialed for the request's
// chain. A chain with no sender is rejected, never silently redirected.
type SenderPool map[string]Sender

func (p SenderPool) Balance(ctx context.Context, chain string) (decimal.Decimal, error) {
	s, ok := p[chain]
	if !ok {
		return decimal.Zero, apperror.New(apperror.CodeUnsupportedChain,
			apperror.WithContext(chain))
	}
	return s.Balance(ctx, chain)
}

func (p SenderPool) Send(ctx context.Context, chain, destination string, amount decimal.Decimal) (*SendReceipt, error) {
	s, ok := p[chain]
	if !ok {
		return nil, apperror.New(apperror.CodeUnsupportedChain,
			apperror.WithContext(chain))
	}
	return s.Send(ctx, chain, destination, amount)
}

// HistoryStore is the append-only withdrawal log.
type HistoryStore interface {
	AppendWithdrawal(ctx context.Context, rec domain.Record) error
	RecentWithdrawals(ctx context.Context, limit int) ([]domain.Record, error)

	// WithdrawnSince sums completed withdrawal amounts after t.
	WithdrawnSince(ctx context.Context, t time.Time) (decimal.Decimal, error)

	// LastWithdrawalAt returns the time of the most recent completed
	// withdrawal, or the zero time when there is none.
	LastWithdrawalAt(ctx context.Context) (time.Time, error)
}
