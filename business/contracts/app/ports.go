// Package app contains the contract gateway service and its ports.
package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainClient is the minimal node surface the gateway needs. One client per
// chain; the adapters live in infra/ethereum.
type ChainClient interface {
	// BlockNumber returns the current head, used as the liveness probe.
	BlockNumber(ctx context.Context) (uint64, error)

	// CodeAt returns the bytecode at addr, empty for plain accounts.
	CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error)

	// CallContract executes a read-only call against the latest state.
	CallContract(ctx context.Context, from, to common.Address, data []byte) ([]byte, error)
}
