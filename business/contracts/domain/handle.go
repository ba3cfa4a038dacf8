// Package domain holds the contract-access model.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Handle is a validated, probe-tested reference to a deployed contract.
// Holding one means the address parsed, the ABI parsed, and the node
// confirmed bytecode at the address when the handle was created.
type Handle struct {
	Chain   string
	Address common.Address
	ABI     abi.ABI
	// Caller is the account the handle was resolved for. Handles are cached
	// per caller so permissioned views do not leak across accounts.
	Caller string
	// ProbedBlock is the chain head observed during the liveness probe.
	ProbedBlock uint64
	CreatedAt   time.Time
}

// CallResult carries the decoded outputs of a read-only contract call.
type CallResult struct {
	Method  string
	Outputs []any
}
