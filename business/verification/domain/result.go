// Package domain contains the verification bounded context's core types.
package domain

import (
	"math/big"
	"regexp"
	"time"
)

// Status is the judgment produced for a transaction lookup.
type Status string

const (
	// StatusVerified means the transaction exists, its receipt reports
	// success, and it has enough confirmations.
	StatusVerified Status = "VERIFIED"
	// StatusPending means the transaction exists but is unmined or lacks
	// confirmations.
	StatusPending Status = "PENDING"
	// StatusUnverified means the sources could not agree; the result must
	// not be trusted.
	StatusUnverified Status = "UNVERIFIED"
	// StatusFailed means the transaction reverted or could not be found.
	StatusFailed Status = "FAILED"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ValidTxHash reports whether s is a well-formed transaction hash.
func ValidTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// Result is the immutable outcome of one verification lookup.
type Result struct {
	TxHash        string    `json:"txHash"`
	Chain         string    `json:"chain"`
	Status        Status    `json:"status"`
	BlockNumber   uint64    `json:"blockNumber"`
	Confirmations uint64    `json:"confirmations"`
	GasUsed       uint64    `json:"gasUsed"`
	ExplorerLink  string    `json:"explorerLink"`
	Source        string    `json:"source"`
	Reason        string    `json:"reason,omitempty"`
	VerifiedAt    time.Time `json:"verifiedAt"`
}

// Discrepancy records one field on which the sources disagreed, mapping
// source name to the value it reported.
type Discrepancy struct {
	Field  string            `json:"field"`
	Values map[string]string `json:"values"`
}

// ConsensusResult is the outcome of a cross-source verification.
// Consensus is true only when every source reported identical hash, block
// number and status. A non-consensus result must never be treated as
// confirmed.
type ConsensusResult struct {
	Consensus     bool          `json:"consensus"`
	Result        *Result       `json:"result,omitempty"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
	Sources       []string      `json:"sources"`
}

// Transaction is the raw transaction as reported by an explorer.
// BlockNumber is zero while the transaction sits in the mempool.
type Transaction struct {
	Hash        string
	From        string
	To          string
	BlockNumber uint64
	ValueWei    *big.Int
	GasPriceWei *big.Int
}

// Receipt is the raw transaction receipt. Status is true for success,
// false for revert.
type Receipt struct {
	TxHash      string
	Status      bool
	BlockNumber uint64
	GasUsed     uint64
}
