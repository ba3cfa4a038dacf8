// Package explorer adapts etherscan-compatible block explorer APIs to the
// verification ports. All chain data goes through the proxy module, which
// mirrors the JSON-RPC methods behind a REST endpoint.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/fd1az/chainguard/business/verification/domain"
	"github.com/fd1az/chainguard/internal/apperror"
	"github.com/fd1az/chainguard/internal/httpclient"
	"github.com/fd1az/chainguard/internal/ratelimit"
)

// Endpoint is one chain's API access for a source.
type Endpoint struct {
	Client httpclient.Client
	APIKey string
	WebURL string
}

// Source is an etherscan-style explorer serving one or more chains. It
// implements the verification ExplorerSource port.
type Source struct {
	name      string
	endpoints map[string]Endpoint
	limiter   *ratelimit.Limiter
}

// NewSource creates a source named name with per-chain endpoints. The
// limiter spaces out requests to stay inside the provider's rate limit and
// is shared across chains because explorer API keys are account-scoped.
func NewSource(name string, endpoints map[string]Endpoint, limiter *ratelimit.Limiter) (*Source, error) {
	if name == "" {
		return nil, fmt.Errorf("source name is required")
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one chain endpoint is required")
	}
	return &Source{name: name, endpoints: endpoints, limiter: limiter}, nil
}

// Name implements the ExplorerSource port.
func (s *Source) Name() string { return s.name }

// TxLink implements the ExplorerSource port. Unknown chains yield an empty
// link rather than an error; the link is informational.
func (s *Source) TxLink(chain, txHash string) string {
	ep, ok := s.endpoints[chain]
	if !ok || ep.WebURL == "" {
		return ""
	}
	return strings.TrimSuffix(ep.WebURL, "/") + "/tx/" + txHash
}

// rpcEnvelope is the proxy-module response shape. Result is null when the
// requested item does not exist; Status/Message carry etherscan-level errors
// such as rate limiting.
type rpcEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type rpcTransaction struct {
	Hash        string  `json:"hash"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	BlockNumber *string `json:"blockNumber"`
	Value       string  `json:"value"`
	GasPrice    string  `json:"gasPrice"`
}

type rpcReceipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
	BlockNumber     string `json:"blockNumber"`
	GasUsed         string `json:"gasUsed"`
}

// TransactionByHash implements the ExplorerSource port.
func (s *Source) TransactionByHash(ctx context.Context, chain, txHash string) (*domain.Transaction, error) {
	raw, err := s.proxy(ctx, chain, "eth_getTransactionByHash", map[string]string{"txhash": txHash})
	if err != nil || raw == nil {
		return nil, err
	}

	var tx rpcTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeExplorerAPIError, "decode transaction",
			apperror.WithResource(s.name))
	}

	out := &domain.Transaction{
		Hash: tx.Hash,
		From: tx.From,
		To:   tx.To,
	}
	// blockNumber is null while the transaction sits in the mempool.
	if tx.BlockNumber != nil {
		n, err := hexutil.DecodeUint64(*tx.BlockNumber)
		if err != nil {
			return nil, apperror.Wrap(err, apperror.CodeExplorerAPIError, "decode block number",
				apperror.WithResource(s.name))
		}
		out.BlockNumber = n
	}
	if tx.Value != "" {
		out.ValueWei = parseBig(tx.Value)
	}
	if tx.GasPrice != "" {
		out.GasPriceWei = parseBig(tx.GasPrice)
	}
	return out, nil
}

// TransactionReceipt implements the ExplorerSource port.
func (s *Source) TransactionReceipt(ctx context.Context, chain, txHash string) (*domain.Receipt, error) {
	raw, err := s.proxy(ctx, chain, "eth_getTransactionReceipt", map[string]string{"txhash": txHash})
	if err != nil || raw == nil {
		return nil, err
	}

	var rc rpcReceipt
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeExplorerAPIError, "decode receipt",
			apperror.WithResource(s.name))
	}

	block, err := hexutil.DecodeUint64(rc.BlockNumber)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeExplorerAPIError, "decode receipt block number",
			apperror.WithResource(s.name))
	}
	gas, err := hexutil.DecodeUint64(rc.GasUsed)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeExplorerAPIError, "decode gas used",
			apperror.WithResource(s.name))
	}

	return &domain.Receipt{
		TxHash:      rc.TransactionHash,
		Status:      rc.Status == "0x1",
		BlockNumber: block,
		GasUsed:     gas,
	}, nil
}

// LatestBlockNumber implements the ExplorerSource port.
func (s *Source) LatestBlockNumber(ctx context.Context, chain string) (uint64, error) {
	raw, err := s.proxy(ctx, chain, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, apperror.New(apperror.CodeExplorerAPIError,
			apperror.WithMessage("empty block number response"),
			apperror.WithResource(s.name))
	}

	var hex string
	if err := json.Unmarshal(raw, &hex); err != nil {
		return 0, apperror.Wrap(err, apperror.CodeExplorerAPIError, "decode block number",
			apperror.WithResource(s.name))
	}
	n, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, apperror.Wrap(err, apperror.CodeExplorerAPIError, "decode block number",
			apperror.WithResource(s.name))
	}
	return n, nil
}

// proxy issues one proxy-module request and returns the raw result, which
// is nil when the upstream JSON-RPC answered null.
func (s *Source) proxy(ctx context.Context, chain, action string, params map[string]string) (json.RawMessage, error) {
	ep, ok := s.endpoints[chain]
	if !ok {
		return nil, apperror.New(apperror.CodeUnsupportedChain, apperror.WithContext(chain))
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var envelope rpcEnvelope
	req := ep.Client.NewRequest().
		SetQueryParam("module", "proxy").
		SetQueryParam("action", action).
		SetResult(&envelope)
	for k, v := range params {
		req.SetQueryParam(k, v)
	}
	if ep.APIKey != "" {
		req.SetQueryParam("apikey", ep.APIKey)
	}

	resp, err := req.Get(ctx, "/api")
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeNetworkError, action,
			apperror.WithResource(s.name))
	}
	if resp.IsError() {
		code := apperror.CodeExplorerAPIError
		if resp.StatusCode == http.StatusTooManyRequests {
			code = apperror.CodeRateLimitExceeded
		}
		return nil, apperror.New(code,
			apperror.WithMessage(fmt.Sprintf("%s returned HTTP %d", action, resp.StatusCode)),
			apperror.WithResource(s.name))
	}

	if envelope.Error != nil {
		return nil, apperror.New(apperror.CodeRPCError,
			apperror.WithMessage(envelope.Error.Message),
			apperror.WithResource(s.name))
	}
	// Etherscan signals account-level errors through status/message even on
	// HTTP 200, e.g. "Max rate limit reached".
	if envelope.Status == "0" && envelope.Message != "" && envelope.Message != "No transactions found" {
		code := apperror.CodeExplorerAPIError
		if strings.Contains(strings.ToLower(envelope.Message), "rate limit") {
			code = apperror.CodeRateLimitExceeded
		}
		return nil, apperror.New(code,
			apperror.WithMessage(envelope.Message),
			apperror.WithResource(s.name))
	}

	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil, nil
	}
	return envelope.Result, nil
}

func parseBig(hex string) *big.Int {
	n, err := hexutil.DecodeBig(hex)
	if err != nil {
		return nil
	}
	return n
}
