// Package app contains application services and port definitions for the
// verification context.
package app

import (
	"context"

	"github.com/fd1az/chainguard/business/verification/domain"
)

// ExplorerSource is one independent explorer API. Lookups return nil without
// error when the item does not exist, mirroring the null result of the
// underlying JSON-RPC methods; errors are reserved for transport failures.
type ExplorerSource interface {
	// Name identifies the source in consensus reports.
	Name() string

	// TransactionByHash fetches the transaction, or nil if unknown.
	TransactionByHash(ctx context.Context, chain, txHash string) (*domain.Transaction, error)

	// TransactionReceipt fetches the receipt, or nil if not yet available.
	TransactionReceipt(ctx context.Context, chain, txHash string) (*domain.Receipt, error)

	// LatestBlockNumber fetches the current chain head number.
	LatestBlockNumber(ctx context.Context, chain string) (uint64, error)

	// TxLink builds the deterministic explorer web URL for a transaction.
	TxLink(chain, txHash string) string
}

// HistoryStore persists verification results for audit export.
type HistoryStore interface {
	AppendVerification(ctx context.Context, res domain.Result) error
	RecentVerifications(ctx context.Context, limit int) ([]domain.Result, error)
}
