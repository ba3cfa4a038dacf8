// Package ethereum implements the withdrawal sender over a node-managed
// treasury account.
package ethereum

import (
	"context"
	"errors"
	"time"

	eth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/fd1az/chainguard/business/withdrawal/app"
	"github.com/fd1az/chainguard/internal/apperror"
)

// weiDecimals converts between wei and ether units.
const weiDecimals = 18

const defaultPollInterval = 3 * time.Second

// Sender implements the withdrawal Sender port for one chain's treasury.
type Sender struct {
	chain        string
	treasury     common.Address
	rpc          *rpc.Client
	ec           *ethclient.Client
	pollInterval time.Duration
}

// Dial connects to the chain and binds the treasury account.
func Dial(ctx context.Context, chain, rpcURL string, treasury common.Address) (*Sender, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeNetworkError, "dial rpc endpoint",
			apperror.WithResource("withdrawal:"+chain))
	}
	return &Sender{
		chain:        chain,
		treasury:     treasury,
		rpc:          rc,
		ec:           ethclient.NewClient(rc),
		pollInterval: defaultPollInterval,
	}, nil
}

// Balance implements the Sender port, reporting the treasury balance in
// ether units.
func (s *Sender) Balance(ctx context.Context, chain string) (decimal.Decimal, error) {
	if chain != s.chain {
		return decimal.Zero, apperror.New(apperror.CodeUnsupportedChain, apperror.WithContext(chain))
	}
	wei, err := s.ec.BalanceAt(ctx, s.treasury, nil)
	if err != nil {
		return decimal.Zero, apperror.Wrap(err, apperror.CodeRPCError, "eth_getBalance",
			apperror.WithResource("rpc:"+chain))
	}
	return decimal.NewFromBigInt(wei, -weiDecimals), nil
}

// Send implements the Sender port: a plain value transfer from the treasury,
// blocking until the receipt lands or ctx expires.
func (s *Sender) Send(ctx context.Context, chain, destination string, amount decimal.Decimal) (*app.SendReceipt, error) {
	if chain != s.chain {
		return nil, apperror.New(apperror.CodeUnsupportedChain, apperror.WithContext(chain))
	}

	args := map[string]any{
		"from":  s.treasury,
		"to":    common.HexToAddress(destination),
		"value": hexutil.EncodeBig(amount.Shift(weiDecimals).BigInt()),
	}
	var txHash common.Hash
	if err := s.rpc.CallContext(ctx, &txHash, "eth_sendTransaction", args); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeRPCError, "eth_sendTransaction",
			apperror.WithResource("withdrawal:"+chain))
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.ec.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == 0 {
				return nil, apperror.New(apperror.CodeContractCallFailed,
					apperror.WithMessage("withdrawal transaction reverted"),
					apperror.WithContext(txHash.Hex()),
					apperror.WithResource("withdrawal:"+chain))
			}
			out := &app.SendReceipt{TxHash: txHash.Hex(), GasUsed: receipt.GasUsed}
			if receipt.EffectiveGasPrice != nil {
				out.GasPriceWei = receipt.EffectiveGasPrice.String()
			}
			return out, nil
		}
		if !errors.Is(err, eth.NotFound) {
			return nil, apperror.Wrap(err, apperror.CodeRPCError, "eth_getTransactionReceipt",
				apperror.WithResource("withdrawal:"+chain))
		}

		select {
		case <-ctx.Done():
			return nil, apperror.Wrap(ctx.Err(), apperror.CodeServiceTimeout,
				"waiting for withdrawal receipt")
		case <-ticker.C:
		}
	}
}

// Close releases the underlying connection.
func (s *Sender) Close() {
	s.ec.Close()
}
