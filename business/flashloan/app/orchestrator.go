package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/chainguard/business/flashloan/domain"
	"github.com/fd1az/chainguard/internal/apperror"
	"github.com/fd1az/chainguard/internal/gateway"
	"github.com/fd1az/chainguard/internal/logger"
)

const tracerName = "github.com/fd1az/chainguard/business/flashloan"

// executeTimeout bounds one loan submission including the receipt wait.
const executeTimeout = 2 * time.Minute

// Orchestrator quotes and executes flash loans. Every check that can be
// done locally runs before the first network call; an unprofitable or
// oversized loan never touches the chain.
type Orchestrator struct {
	providers map[string]domain.Provider
	executors map[string]LoanExecutor
	gw        *gateway.Gateway[string]
	logger    logger.LoggerInterface
	tracer    trace.Tracer
	now       func() time.Time
}

// NewOrchestrator creates the orchestrator over the configured providers.
// executors is keyed by chain; a loan is always submitted through the
// executor dialed against its provider's chain.
func NewOrchestrator(providers map[string]domain.Provider, executors map[string]LoanExecutor, gw *gateway.Gateway[string], log logger.LoggerInterface) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		executors: executors,
		gw:        gw,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
}

// Quote assesses a loan without touching the network: fee, net profit and a
// profitability verdict. Profit must strictly exceed the fee; breaking even
// is not worth the execution risk.
func (o *Orchestrator) Quote(providerName, asset string, amount, expectedProfit decimal.Decimal) (*domain.Quote, error) {
	provider, err := o.admit(providerName, asset, amount)
	if err != nil {
		return nil, err
	}

	fee := provider.Fee(amount)
	net := expectedProfit.Sub(fee)
	return &domain.Quote{
		Provider:       provider.Name,
		Asset:          asset,
		Amount:         amount,
		Fee:            fee,
		ExpectedProfit: expectedProfit,
		NetProfit:      net,
		Profitable:     net.IsPositive(),
	}, nil
}

// QuoteAll surveys every provider on the chain for the asset and amount,
// marking which could serve the loan. Purely local computation.
func (o *Orchestrator) QuoteAll(chain, asset string, amount decimal.Decimal) []domain.ProviderQuote {
	out := make([]domain.ProviderQuote, 0, len(o.providers))
	for _, p := range o.providers {
		if p.Chain != chain {
			continue
		}
		q := domain.ProviderQuote{
			Provider:      p.Name,
			Asset:         asset,
			FeeBps:        p.FeeBps,
			MaxLoanAmount: p.MaxLoanAmount,
		}
		if p.Supports(asset) && amount.IsPositive() && amount.LessThanOrEqual(p.MaxLoanAmount) {
			q.Fee = p.Fee(amount)
			q.Available = true
		}
		out = append(out, q)
	}
	return out
}

// Execute runs a flash loan end to end. The quote gate runs first; only a
// profitable loan is submitted, through the protected call path keyed by
// provider. The returned result is populated in both the success and
// failure cases; the error carries the classification.
func (o *Orchestrator) Execute(ctx context.Context, providerName, asset string, amount, expectedProfit decimal.Decimal, payload []byte) (*domain.ExecutionResult, error) {
	ctx, span := o.tracer.Start(ctx, "flashloan.execute",
		trace.WithAttributes(
			attribute.String("provider", providerName),
			attribute.String("asset", asset),
			attribute.String("amount", amount.String()),
		),
	)
	defer span.End()

	res := &domain.ExecutionResult{
		ID:             uuid.NewString(),
		Provider:       providerName,
		Asset:          asset,
		Amount:         amount,
		ExpectedProfit: expectedProfit,
		State:          domain.StatePending,
		StartedAt:      o.now(),
	}

	quote, err := o.Quote(providerName, asset, amount, expectedProfit)
	if err != nil {
		return o.fail(span, res, err)
	}
	res.Fee = quote.Fee
	if !quote.Profitable {
		return o.fail(span, res, apperror.New(apperror.CodeUnprofitableLoan,
			apperror.WithContext(fmt.Sprintf("fee %s >= expected profit %s",
				quote.Fee, expectedProfit))))
	}

	provider := o.providers[providerName]
	executor, ok := o.executors[provider.Chain]
	if !ok {
		return o.fail(span, res, apperror.New(apperror.CodeUnsupportedChain,
			apperror.WithContext(provider.Chain),
			apperror.WithResource("flashloan:"+providerName)))
	}
	res.State = domain.StateExecuting
	o.logger.Info(ctx, "executing flash loan",
		"id", res.ID, "provider", providerName, "asset", asset,
		"amount", amount.String(), "fee", quote.Fee.String())

	req := gateway.Request{
		Resource: "flashloan:" + providerName,
		Timeout:  executeTimeout,
	}
	txHash, err := o.gw.Call(ctx, req, func(ctx context.Context) (string, error) {
		return executor.ExecuteLoan(ctx, provider, asset, amount, payload)
	})
	res.FinishedAt = o.now()
	if err != nil {
		return o.fail(span, res, classify(err))
	}

	res.State = domain.StateSuccess
	res.TxHash = txHash
	span.SetAttributes(attribute.String("tx_hash", txHash))
	o.logger.Info(ctx, "flash loan executed", "id", res.ID, "tx_hash", txHash)
	return res, nil
}

// Providers lists configured provider names, for CLI listings.
func (o *Orchestrator) Providers() []string {
	out := make([]string, 0, len(o.providers))
	for name := range o.providers {
		out = append(out, name)
	}
	return out
}

// admit runs the pre-flight checks shared by Quote and Execute.
func (o *Orchestrator) admit(providerName, asset string, amount decimal.Decimal) (domain.Provider, error) {
	provider, ok := o.providers[providerName]
	if !ok {
		return domain.Provider{}, apperror.New(apperror.CodeProviderUnavailable,
			apperror.WithContext(providerName))
	}
	if !provider.Supports(asset) {
		return domain.Provider{}, apperror.New(apperror.CodeUnsupportedAsset,
			apperror.WithContext(asset), apperror.WithResource(providerName))
	}
	if !amount.IsPositive() {
		return domain.Provider{}, apperror.New(apperror.CodeInvalidAmount,
			apperror.WithContext(amount.String()))
	}
	if amount.GreaterThan(provider.MaxLoanAmount) {
		return domain.Provider{}, apperror.New(apperror.CodeLoanTooLarge,
			apperror.WithContext(fmt.Sprintf("%s exceeds provider maximum %s",
				amount, provider.MaxLoanAmount)),
			apperror.WithResource(providerName))
	}
	return provider, nil
}

func (o *Orchestrator) fail(span trace.Span, res *domain.ExecutionResult, err error) (*domain.ExecutionResult, error) {
	res.State = domain.StateFailed
	res.Reason = err.Error()
	if res.FinishedAt.IsZero() {
		res.FinishedAt = o.now()
	}
	span.RecordError(err)
	return res, err
}

// classify maps node-level revert messages onto the failure taxonomy so
// callers can tell a liquidity problem from a slippage one.
func classify(err error) error {
	if code := apperror.CodeOf(err); code != apperror.CodeUnknownError &&
		code != apperror.CodeRPCError && code != apperror.CodeContractCallFailed {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient balance") || strings.Contains(msg, "insufficient funds"):
		return apperror.New(apperror.CodeInsufficientBalance, apperror.WithCause(err))
	case strings.Contains(msg, "allowance"):
		return apperror.New(apperror.CodeInsufficientAllowance, apperror.WithCause(err))
	case strings.Contains(msg, "slippage"):
		return apperror.New(apperror.CodeSlippageExceeded, apperror.WithCause(err))
	}
	return err
}
