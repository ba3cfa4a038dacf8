package app

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/chainguard/business/withdrawal/domain"
	"github.com/fd1az/chainguard/internal/apperror"
	"github.com/fd1az/chainguard/internal/gateway"
	"github.com/fd1az/chainguard/internal/logger"
)

const tracerName = "github.com/fd1az/chainguard/business/withdrawal"

// minScheduleDelay is the hard floor on the randomized execution delay.
// Predictable withdrawal timing makes the treasury easy to watch, so
// scheduling always waits at least this long.
const minScheduleDelay = 5 * time.Minute

// Config holds withdrawal guard settings.
type Config struct {
	// DailyLimit caps the sum withdrawn over any rolling 24 hours.
	DailyLimit decimal.Decimal
	// MinInterval is the minimum spacing between withdrawals.
	MinInterval time.Duration
	// MinDelay and MaxDelay bound the randomized execution delay.
	MinDelay time.Duration
	MaxDelay time.Duration
	// Blacklist lists destination addresses that are never paid.
	Blacklist []string
}

// Guard validates withdrawal requests and executes the approved ones
// through the protected call path, appending every outcome to the history.
type Guard struct {
	cfg       Config
	blacklist map[string]struct{}
	sender    Sender
	history   HistoryStore
	balances  *gateway.Gateway[decimal.Decimal]
	sends     *gateway.Gateway[*SendReceipt]
	logger    logger.LoggerInterface
	tracer    trace.Tracer
	now       func() time.Time
	randF     func() float64
}

// NewGuard creates the guard. Blacklist entries are normalized so lookups
// are case-insensitive.
func NewGuard(cfg Config, sender Sender, history HistoryStore, balances *gateway.Gateway[decimal.Decimal], sends *gateway.Gateway[*SendReceipt], log logger.LoggerInterface) (*Guard, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if history == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if cfg.MinDelay < minScheduleDelay {
		cfg.MinDelay = minScheduleDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}

	blacklist := make(map[string]struct{}, len(cfg.Blacklist))
	for _, addr := range cfg.Blacklist {
		blacklist[strings.ToLower(addr)] = struct{}{}
	}

	return &Guard{
		cfg:       cfg,
		blacklist: blacklist,
		sender:    sender,
		history:   history,
		balances:  balances,
		sends:     sends,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		randF:     rand.Float64,
	}, nil
}

// Validate runs the admission checks in a fixed order and reports the first
// failure. The risk level is graded off the balance fraction either way. An
// error is returned only when the history store cannot answer.
func (g *Guard) Validate(ctx context.Context, req domain.Request, balance decimal.Decimal) (*domain.Validation, error) {
	v := &domain.Validation{Risk: domain.RiskFor(req.Amount, balance)}

	if !common.IsHexAddress(req.Destination) {
		v.Reason = fmt.Sprintf("invalid destination address %q", req.Destination)
		return v, nil
	}
	if _, banned := g.blacklist[strings.ToLower(req.Destination)]; banned {
		v.Reason = fmt.Sprintf("destination %s is blacklisted", req.Destination)
		return v, nil
	}
	if !req.Amount.IsPositive() {
		v.Reason = fmt.Sprintf("amount must be positive, got %s", req.Amount)
		return v, nil
	}
	if req.Amount.GreaterThan(balance) {
		v.Reason = fmt.Sprintf("amount %s exceeds available balance %s", req.Amount, balance)
		return v, nil
	}

	withdrawn, err := g.history.WithdrawnSince(ctx, g.now().Add(-24*time.Hour))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeStorageError, "sum recent withdrawals")
	}
	if withdrawn.Add(req.Amount).GreaterThan(g.cfg.DailyLimit) {
		v.Reason = fmt.Sprintf("daily limit %s exceeded: %s already withdrawn", g.cfg.DailyLimit, withdrawn)
		return v, nil
	}

	last, err := g.history.LastWithdrawalAt(ctx)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeStorageError, "load last withdrawal time")
	}
	if !last.IsZero() && g.now().Sub(last) < g.cfg.MinInterval {
		v.Reason = fmt.Sprintf("minimum interval of %s since last withdrawal not elapsed", g.cfg.MinInterval)
		return v, nil
	}

	v.Valid = true
	return v, nil
}

// Execute validates against the live balance and, if approved, sends the
// withdrawal through the protected call path. Every attempt that passes
// validation lands in the history, terminal status included.
func (g *Guard) Execute(ctx context.Context, req domain.Request) (*domain.Record, error) {
	ctx, span := g.tracer.Start(ctx, "withdrawal.execute",
		trace.WithAttributes(
			attribute.String("chain", req.Chain),
			attribute.String("destination", req.Destination),
			attribute.String("amount", req.Amount.String()),
		),
	)
	defer span.End()

	balance, err := g.balances.Call(ctx, gateway.Request{Resource: "rpc:" + req.Chain},
		func(ctx context.Context) (decimal.Decimal, error) {
			return g.sender.Balance(ctx, req.Chain)
		})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	verdict, err := g.Validate(ctx, req, balance)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !verdict.Valid {
		err := validationError(verdict)
		span.RecordError(err)
		return nil, err
	}

	rec := &domain.Record{
		ID:          uuid.NewString(),
		Chain:       req.Chain,
		Destination: req.Destination,
		Amount:      req.Amount,
		Risk:        verdict.Risk,
		Status:      domain.StatusPending,
		Timestamp:   g.now(),
	}
	g.logger.Info(ctx, "executing withdrawal",
		"id", rec.ID, "chain", req.Chain, "destination", req.Destination,
		"amount", req.Amount.String(), "risk", string(rec.Risk))

	receipt, err := g.sends.Call(ctx, gateway.Request{Resource: "withdrawal:" + req.Chain},
		func(ctx context.Context) (*SendReceipt, error) {
			return g.sender.Send(ctx, req.Chain, req.Destination, req.Amount)
		})
	if err != nil {
		rec.Status = domain.StatusFailed
		rec.Reason = err.Error()
		g.append(ctx, *rec)
		span.RecordError(err)
		return rec, err
	}

	rec.Status = domain.StatusCompleted
	rec.TxHash = receipt.TxHash
	rec.GasUsed = receipt.GasUsed
	rec.GasPriceWei = receipt.GasPriceWei
	g.append(ctx, *rec)

	span.SetAttributes(attribute.String("tx_hash", rec.TxHash))
	g.logger.Info(ctx, "withdrawal completed", "id", rec.ID, "tx_hash", rec.TxHash)
	return rec, nil
}

// ScheduleDelay draws a randomized execution delay in [MinDelay, MaxDelay].
// Randomizing the timing keeps treasury movements from forming a pattern.
func (g *Guard) ScheduleDelay() time.Duration {
	window := g.cfg.MaxDelay - g.cfg.MinDelay
	if window <= 0 {
		return g.cfg.MinDelay
	}
	return g.cfg.MinDelay + time.Duration(g.randF()*float64(window))
}

// History returns the most recent withdrawal records, newest first.
func (g *Guard) History(ctx context.Context, limit int) ([]domain.Record, error) {
	return g.history.RecentWithdrawals(ctx, limit)
}

func (g *Guard) append(ctx context.Context, rec domain.Record) {
	if err := g.history.AppendWithdrawal(ctx, rec); err != nil {
		g.logger.Error(ctx, "failed to persist withdrawal record", "id", rec.ID, "error", err)
	}
}

// validationError maps a rejection reason onto the error taxonomy.
func validationError(v *domain.Validation) error {
	code := apperror.CodeValidationError
	switch {
	case strings.Contains(v.Reason, "invalid destination"):
		code = apperror.CodeInvalidAddress
	case strings.Contains(v.Reason, "blacklisted"):
		code = apperror.CodeBlacklistedAddress
	case strings.Contains(v.Reason, "must be positive"):
		code = apperror.CodeInvalidAmount
	case strings.Contains(v.Reason, "exceeds available balance"):
		code = apperror.CodeInsufficientBalance
	case strings.Contains(v.Reason, "daily limit"):
		code = apperror.CodeDailyLimitExceeded
	case strings.Contains(v.Reason, "minimum interval"):
		code = apperror.CodeWithdrawalTooSoon
	}
	return apperror.New(code, apperror.WithMessage(v.Reason))
}
