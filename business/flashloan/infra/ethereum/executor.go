// Package ethereum submits flash-loan transactions through a node the
// operator controls. The sending account is managed by the node, so the
// adapter signs nothing itself.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	eth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/fd1az/chainguard/business/flashloan/domain"
	"github.com/fd1az/chainguard/internal/apperror"
)

// tokenDecimals is the shift applied to human-unit amounts. Supported
// assets all use 18 decimals.
const tokenDecimals = 18

const defaultPollInterval = 3 * time.Second

const flashLoanABIJSON = `[{"type":"function","name":"flashLoan","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"params","type":"bytes"}],"outputs":[]}]`

var flashLoanABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(flashLoanABIJSON))
	if err != nil {
		panic(fmt.Sprintf("parse flash loan ABI: %v", err))
	}
	return parsed
}()

// Executor implements the LoanExecutor port over JSON-RPC. It is bound to
// one chain's node and refuses providers from any other chain.
type Executor struct {
	chain        string
	rpc          *rpc.Client
	ec           *ethclient.Client
	from         common.Address
	pollInterval time.Duration
}

// NewExecutor connects to the chain's node and binds the sending account.
func NewExecutor(ctx context.Context, chain, rpcURL string, from common.Address) (*Executor, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeNetworkError, "dial rpc endpoint",
			apperror.WithResource("flashloan:"+chain))
	}
	return &Executor{
		chain:        chain,
		rpc:          rc,
		ec:           ethclient.NewClient(rc),
		from:         from,
		pollInterval: defaultPollInterval,
	}, nil
}

// ExecuteLoan implements the LoanExecutor port: pack the flashLoan call,
// submit it, and block until the receipt lands or ctx expires. A reverted
// transaction is reported as an error carrying the mined hash.
func (e *Executor) ExecuteLoan(ctx context.Context, provider domain.Provider, asset string, amount decimal.Decimal, payload []byte) (string, error) {
	// A pool address only means something on the chain this executor is
	// dialed against; submitting it elsewhere would burn gas at best.
	if provider.Chain != e.chain {
		return "", apperror.New(apperror.CodeUnsupportedChain,
			apperror.WithContext(provider.Chain),
			apperror.WithResource("flashloan:"+provider.Name))
	}
	token, ok := provider.Assets[asset]
	if !ok {
		return "", apperror.New(apperror.CodeUnsupportedAsset, apperror.WithContext(asset))
	}
	if payload == nil {
		payload = []byte{}
	}

	amountWei := amount.Shift(tokenDecimals).BigInt()
	data, err := flashLoanABI.Pack("flashLoan", token, amountWei, payload)
	if err != nil {
		return "", apperror.Wrap(err, apperror.CodeValidationError, "pack flashLoan call")
	}

	args := map[string]any{
		"from": e.from,
		"to":   provider.PoolAddress,
		"data": hexutil.Bytes(data),
	}
	var txHash common.Hash
	if err := e.rpc.CallContext(ctx, &txHash, "eth_sendTransaction", args); err != nil {
		return "", apperror.Wrap(err, apperror.CodeRPCError, "eth_sendTransaction",
			apperror.WithResource("flashloan:"+provider.Name))
	}

	receipt, err := e.waitReceipt(ctx, txHash)
	if err != nil {
		return txHash.Hex(), err
	}
	if receipt.Status == 0 {
		return txHash.Hex(), apperror.New(apperror.CodeContractCallFailed,
			apperror.WithMessage("flash loan transaction reverted"),
			apperror.WithContext(txHash.Hex()),
			apperror.WithResource("flashloan:"+provider.Name))
	}
	return txHash.Hex(), nil
}

func (e *Executor) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := e.ec.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, eth.NotFound) {
			return nil, apperror.Wrap(err, apperror.CodeRPCError, "eth_getTransactionReceipt")
		}

		select {
		case <-ctx.Done():
			return nil, apperror.Wrap(ctx.Err(), apperror.CodeServiceTimeout,
				"waiting for flash loan receipt")
		case <-ticker.C:
		}
	}
}

// Close releases the underlying connection.
func (e *Executor) Close() {
	e.ec.Close()
}
