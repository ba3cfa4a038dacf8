package app

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/chainguard/business/verification/domain"
	"github.com/fd1az/chainguard/internal/apperror"
	"github.com/fd1az/chainguard/internal/gateway"
	"github.com/fd1az/chainguard/internal/logger"
)

const tracerName = "github.com/fd1az/chainguard/business/verification"

// Config holds verifier settings.
type Config struct {
	// MinConfirmations is the confirmation depth required for VERIFIED.
	MinConfirmations uint64
	// CacheTTL bounds how long a verification result may be served from
	// cache. Verification data is moderately volatile: 5 minutes default.
	CacheTTL time.Duration
	// AuthenticityThreshold is the verified-ratio a recent sample must meet
	// to be considered live. Policy constant, not a hard law.
	AuthenticityThreshold float64
}

// DefaultConfig returns the default verifier settings.
func DefaultConfig() Config {
	return Config{
		MinConfirmations:      1,
		CacheTTL:              5 * time.Minute,
		AuthenticityThreshold: 0.80,
	}
}

// Verifier fetches transactions from explorer sources through the resilient
// gateway and produces verification judgments, optionally cross-checked
// across sources for consensus.
type Verifier struct {
	cfg     Config
	sources []ExplorerSource
	gw      *gateway.Gateway[*domain.Result]
	history HistoryStore
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	now     func() time.Time
}

// NewVerifier creates a Verifier. At least one explorer source is required;
// history may be nil to disable audit persistence.
func NewVerifier(cfg Config, sources []ExplorerSource, gw *gateway.Gateway[*domain.Result], history HistoryStore, log logger.LoggerInterface) (*Verifier, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one explorer source is required")
	}
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = 1
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.AuthenticityThreshold <= 0 {
		cfg.AuthenticityThreshold = 0.80
	}

	return &Verifier{
		cfg:     cfg,
		sources: sources,
		gw:      gw,
		history: history,
		logger:  log,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}, nil
}

// Verify looks a transaction up on the primary source and judges it.
// The hash is validated before any network call.
func (v *Verifier) Verify(ctx context.Context, chain, txHash string) (*domain.Result, error) {
	ctx, span := v.tracer.Start(ctx, "verification.verify",
		trace.WithAttributes(
			attribute.String("chain", chain),
			attribute.String("tx_hash", txHash),
		),
	)
	defer span.End()

	if !domain.ValidTxHash(txHash) {
		return nil, apperror.New(apperror.CodeInvalidTxHash,
			apperror.WithContext(txHash))
	}

	res, err := v.verifyVia(ctx, v.sources[0], chain, txHash)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	v.record(ctx, *res)
	span.SetAttributes(attribute.String("status", string(res.Status)))
	return res, nil
}

// verifyVia runs the three explorer lookups as one protected operation, so
// the whole fetch contributes a single breaker outcome and caches as a unit.
func (v *Verifier) verifyVia(ctx context.Context, source ExplorerSource, chain, txHash string) (*domain.Result, error) {
	req := gateway.Request{
		Resource: fmt.Sprintf("explorer:%s:%s", source.Name(), chain),
		CacheKey: fmt.Sprintf("verify:%s:%s:%s", source.Name(), chain, txHash),
		TTL:      v.cfg.CacheTTL,
	}

	return v.gw.Call(ctx, req, func(ctx context.Context) (*domain.Result, error) {
		res := &domain.Result{
			TxHash:       txHash,
			Chain:        chain,
			Source:       source.Name(),
			ExplorerLink: source.TxLink(chain, txHash),
			VerifiedAt:   v.now(),
		}

		tx, err := source.TransactionByHash(ctx, chain, txHash)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			res.Status = domain.StatusFailed
			res.Reason = "transaction not found"
			return res, nil
		}
		if tx.BlockNumber == 0 {
			res.Status = domain.StatusPending
			res.Reason = "transaction not yet mined"
			return res, nil
		}
		res.BlockNumber = tx.BlockNumber

		receipt, err := source.TransactionReceipt(ctx, chain, txHash)
		if err != nil {
			return nil, err
		}
		if receipt == nil {
			res.Status = domain.StatusPending
			res.Reason = "receipt not yet available"
			return res, nil
		}
		res.GasUsed = receipt.GasUsed
		if !receipt.Status {
			res.Status = domain.StatusFailed
			res.Reason = "transaction reverted"
			return res, nil
		}

		latest, err := source.LatestBlockNumber(ctx, chain)
		if err != nil {
			return nil, err
		}
		if latest > receipt.BlockNumber {
			res.Confirmations = latest - receipt.BlockNumber
		}

		if res.Confirmations >= v.cfg.MinConfirmations {
			res.Status = domain.StatusVerified
		} else {
			res.Status = domain.StatusPending
			res.Reason = fmt.Sprintf("%d of %d confirmations", res.Confirmations, v.cfg.MinConfirmations)
		}
		return res, nil
	})
}

// VerifyWithConsensus verifies the transaction on every configured source
// and requires identical hash, block number and status across all of them.
// Any mismatch yields consensus=false with the disagreement recorded; the
// carried result is downgraded to UNVERIFIED so it cannot be mistaken for a
// confirmation.
func (v *Verifier) VerifyWithConsensus(ctx context.Context, chain, txHash string) (*domain.ConsensusResult, error) {
	ctx, span := v.tracer.Start(ctx, "verification.consensus",
		trace.WithAttributes(
			attribute.String("chain", chain),
			attribute.String("tx_hash", txHash),
		),
	)
	defer span.End()

	if !domain.ValidTxHash(txHash) {
		return nil, apperror.New(apperror.CodeInvalidTxHash,
			apperror.WithContext(txHash))
	}

	out := &domain.ConsensusResult{}
	results := make([]*domain.Result, 0, len(v.sources))
	var firstErr error

	// Sequential on purpose: one upstream at a time keeps us inside
	// provider rate limits.
	for _, source := range v.sources {
		out.Sources = append(out.Sources, source.Name())

		res, err := v.verifyVia(ctx, source, chain, txHash)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			out.Discrepancies = append(out.Discrepancies, domain.Discrepancy{
				Field:  "availability",
				Values: map[string]string{source.Name(): err.Error()},
			})
			continue
		}
		results = append(results, res)
	}

	if len(results) == 0 {
		span.RecordError(firstErr)
		return nil, apperror.Wrap(firstErr, apperror.CodeExplorerAPIError, "all verification sources failed")
	}

	out.Discrepancies = append(out.Discrepancies, diff(results)...)
	out.Consensus = len(out.Discrepancies) == 0 && len(results) == len(v.sources)

	primary := *results[0]
	if !out.Consensus {
		primary.Status = domain.StatusUnverified
		primary.Reason = "verification sources disagree"
	}
	out.Result = &primary

	v.record(ctx, primary)
	span.SetAttributes(attribute.Bool("consensus", out.Consensus))
	return out, nil
}

// diff compares results field-by-field and reports every disagreement.
func diff(results []*domain.Result) []domain.Discrepancy {
	if len(results) < 2 {
		return nil
	}

	var out []domain.Discrepancy
	fields := []struct {
		name  string
		value func(*domain.Result) string
	}{
		{"txHash", func(r *domain.Result) string { return r.TxHash }},
		{"blockNumber", func(r *domain.Result) string { return fmt.Sprintf("%d", r.BlockNumber) }},
		{"status", func(r *domain.Result) string { return string(r.Status) }},
	}

	for _, f := range fields {
		want := f.value(results[0])
		mismatch := false
		values := make(map[string]string, len(results))
		for _, r := range results {
			got := f.value(r)
			values[r.Source] = got
			if got != want {
				mismatch = true
			}
		}
		if mismatch {
			out = append(out, domain.Discrepancy{Field: f.name, Values: values})
		}
	}
	return out
}

// BatchVerify verifies hashes one at a time, deliberately sequential to
// respect upstream rate limits, and returns a result per hash. A hash that
// cannot be verified maps to a FAILED result carrying the reason.
func (v *Verifier) BatchVerify(ctx context.Context, chain string, txHashes []string) (map[string]*domain.Result, error) {
	out := make(map[string]*domain.Result, len(txHashes))

	for _, hash := range txHashes {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		res, err := v.Verify(ctx, chain, hash)
		if err != nil {
			v.logger.Warn(ctx, "batch verification entry failed",
				"chain", chain, "tx_hash", hash, "error", err)
			res = &domain.Result{
				TxHash:     hash,
				Chain:      chain,
				Status:     domain.StatusFailed,
				Reason:     err.Error(),
				VerifiedAt: v.now(),
			}
		}
		out[hash] = res
	}

	return out, nil
}

// Authenticity reports the verified ratio of a sample and whether it meets
// the live-mode threshold. An empty sample never qualifies.
func (v *Verifier) Authenticity(results []domain.Result) (float64, bool) {
	if len(results) == 0 {
		return 0, false
	}

	verified := 0
	for _, r := range results {
		if r.Status == domain.StatusVerified {
			verified++
		}
	}

	ratio := float64(verified) / float64(len(results))
	return ratio, ratio >= v.cfg.AuthenticityThreshold
}

// RecentAuthenticity samples the verification history.
func (v *Verifier) RecentAuthenticity(ctx context.Context, sample int) (float64, bool, error) {
	if v.history == nil {
		return 0, false, fmt.Errorf("no history store configured")
	}
	recent, err := v.history.RecentVerifications(ctx, sample)
	if err != nil {
		return 0, false, apperror.Wrap(err, apperror.CodeStorageError, "load recent verifications")
	}
	ratio, ok := v.Authenticity(recent)
	return ratio, ok, nil
}

// Metrics exposes the per-source call counters for audit reports.
func (v *Verifier) Metrics() []gateway.CallMetrics {
	return v.gw.AllMetrics()
}

// record appends the result to the audit history. Persistence failures are
// logged, not surfaced: the verification judgment itself is still valid.
func (v *Verifier) record(ctx context.Context, res domain.Result) {
	if v.history == nil {
		return
	}
	if err := v.history.AppendVerification(ctx, res); err != nil {
		v.logger.Warn(ctx, "failed to persist verification", "tx_hash", res.TxHash, "error", err)
	}
}
