package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/chainguard/business/contracts/domain"
	"github.com/fd1az/chainguard/internal/apperror"
	"github.com/fd1az/chainguard/internal/gateway"
	"github.com/fd1az/chainguard/internal/logger"
)

const probeTimeout = 5 * time.Second

// Config holds contract gateway settings.
type Config struct {
	// HandleTTL bounds handle reuse. Contract deployments are effectively
	// immutable, so handles live long: 30 minutes default.
	HandleTTL time.Duration
}

// ContractGateway resolves contract handles and executes read-only calls,
// both through the resilient call path. Everything locally checkable
// (address format, ABI syntax) is rejected before any network traffic.
type ContractGateway struct {
	cfg     Config
	clients map[string]ChainClient
	handles *gateway.Gateway[*domain.Handle]
	calls   *gateway.Gateway[[]byte]
	logger  logger.LoggerInterface
	now     func() time.Time
}

// NewContractGateway creates the gateway over per-chain node clients.
func NewContractGateway(cfg Config, clients map[string]ChainClient, handles *gateway.Gateway[*domain.Handle], calls *gateway.Gateway[[]byte], log logger.LoggerInterface) (*ContractGateway, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("at least one chain client is required")
	}
	if cfg.HandleTTL <= 0 {
		cfg.HandleTTL = 30 * time.Minute
	}
	return &ContractGateway{
		cfg:     cfg,
		clients: clients,
		handles: handles,
		calls:   calls,
		logger:  log,
		now:     time.Now,
	}, nil
}

// Resolve validates the address and ABI, probes the node, confirms bytecode
// exists at the address, and returns a cached handle. Repeated resolutions
// of the same contract for the same caller reuse the cached handle until the
// TTL lapses, skipping the probe entirely.
func (g *ContractGateway) Resolve(ctx context.Context, chain, address, abiJSON, caller string) (*domain.Handle, error) {
	if !common.IsHexAddress(address) {
		return nil, apperror.New(apperror.CodeInvalidAddress, apperror.WithContext(address))
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInvalidABI, "parse contract ABI")
	}
	client, ok := g.clients[chain]
	if !ok {
		return nil, apperror.New(apperror.CodeUnsupportedChain, apperror.WithContext(chain))
	}

	addr := common.HexToAddress(address)
	req := gateway.Request{
		Resource: "rpc:" + chain,
		CacheKey: fmt.Sprintf("handle:%s:%s:%s", chain, strings.ToLower(addr.Hex()), strings.ToLower(caller)),
		TTL:      g.cfg.HandleTTL,
		Timeout:  probeTimeout,
	}

	return g.handles.Call(ctx, req, func(ctx context.Context) (*domain.Handle, error) {
		head, err := client.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		code, err := client.CodeAt(ctx, addr, nil)
		if err != nil {
			return nil, err
		}
		if len(code) == 0 {
			return nil, apperror.New(apperror.CodeNotAContract, apperror.WithContext(address))
		}

		return &domain.Handle{
			Chain:       chain,
			Address:     addr,
			ABI:         parsed,
			Caller:      caller,
			ProbedBlock: head,
			CreatedAt:   g.now(),
		}, nil
	})
}

// Call executes a read-only method on a resolved handle. Arguments are
// packed against the handle's ABI before any network traffic, so a bad
// argument set never reaches the node.
func (g *ContractGateway) Call(ctx context.Context, h *domain.Handle, method string, args ...any) (*domain.CallResult, error) {
	if h == nil {
		return nil, apperror.New(apperror.CodeValidationError, apperror.WithMessage("nil contract handle"))
	}
	client, ok := g.clients[h.Chain]
	if !ok {
		return nil, apperror.New(apperror.CodeUnsupportedChain, apperror.WithContext(h.Chain))
	}

	data, err := h.ABI.Pack(method, args...)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeValidationError,
			fmt.Sprintf("pack %s call", method))
	}

	var from common.Address
	if h.Caller != "" && common.IsHexAddress(h.Caller) {
		from = common.HexToAddress(h.Caller)
	}

	req := gateway.Request{Resource: "rpc:" + h.Chain}
	raw, err := g.calls.Call(ctx, req, func(ctx context.Context) ([]byte, error) {
		return client.CallContract(ctx, from, h.Address, data)
	})
	if err != nil {
		return nil, err
	}

	outputs, err := h.ABI.Unpack(method, raw)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeContractCallFailed,
			fmt.Sprintf("unpack %s result", method))
	}

	return &domain.CallResult{Method: method, Outputs: outputs}, nil
}

// Invalidate drops a cached handle, forcing the next Resolve to re-probe.
func (g *ContractGateway) Invalidate(chain, address, caller string) {
	key := fmt.Sprintf("handle:%s:%s:%s", chain, strings.ToLower(common.HexToAddress(address).Hex()), strings.ToLower(caller))
	g.handles.Invalidate(key)
}
