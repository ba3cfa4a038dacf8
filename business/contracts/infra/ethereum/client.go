// Package ethereum adapts go-ethereum's client to the contract gateway
// ports.
package ethereum

import (
	"context"
	"math/big"

	eth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/fd1az/chainguard/internal/apperror"
)

// Client wraps ethclient.Client behind the ChainClient port, translating
// transport failures into retryable application errors.
type Client struct {
	chain string
	ec    *ethclient.Client
}

// Dial connects to the chain's RPC endpoint.
func Dial(ctx context.Context, chain, rpcURL string) (*Client, error) {
	rc, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeNetworkError, "dial rpc endpoint",
			apperror.WithResource("rpc:"+chain))
	}
	return &Client{chain: chain, ec: ethclient.NewClient(rc)}, nil
}

// NewClient wraps an existing ethclient connection. Used by tests.
func NewClient(chain string, ec *ethclient.Client) *Client {
	return &Client{chain: chain, ec: ec}
}

// BlockNumber implements the ChainClient port.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.ec.BlockNumber(ctx)
	if err != nil {
		return 0, c.wrap(err, "eth_blockNumber")
	}
	return n, nil
}

// CodeAt implements the ChainClient port.
func (c *Client) CodeAt(ctx context.Context, addr common.Address, block *big.Int) ([]byte, error) {
	code, err := c.ec.CodeAt(ctx, addr, block)
	if err != nil {
		return nil, c.wrap(err, "eth_getCode")
	}
	return code, nil
}

// CallContract implements the ChainClient port.
func (c *Client) CallContract(ctx context.Context, from, to common.Address, data []byte) ([]byte, error) {
	msg := eth.CallMsg{From: from, To: &to, Data: data}
	out, err := c.ec.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, c.wrap(err, "eth_call")
	}
	return out, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.ec.Close()
}

func (c *Client) wrap(err error, op string) error {
	return apperror.Wrap(err, apperror.CodeRPCError, op,
		apperror.WithResource("rpc:"+c.chain))
}
