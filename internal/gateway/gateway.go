// Package gateway implements the protected-call primitive every
// network-facing service goes through. A call is gated by a per-resource
// circuit breaker, answered from a TTL cache when possible, executed under
// the retry policy with a per-call timeout otherwise, and accounted in
// per-resource metrics either way.
//
// The retry loop runs inside the breaker execution, so one gateway call
// contributes exactly one breaker outcome no matter how many attempts the
// policy spends.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/chainguard/internal/apperror"
	"github.com/fd1az/chainguard/internal/cache"
	"github.com/fd1az/chainguard/internal/circuitbreaker"
	"github.com/fd1az/chainguard/internal/logger"
	"github.com/fd1az/chainguard/internal/retry"
)

const meterName = "github.com/fd1az/chainguard/internal/gateway"

// DefaultTimeout bounds a single protected operation when the request does
// not specify one.
const DefaultTimeout = 30 * time.Second

// Config holds gateway construction parameters.
type Config struct {
	// Name labels this gateway in metrics and traces (e.g. "explorer").
	Name string
	// Breaker settings applied to every resource key.
	Breaker circuitbreaker.Config
	// Retry policy for transient failures. Nil means retry.New() defaults.
	Retry *retry.Policy
	// CacheCapacity bounds the result cache. Zero disables caching.
	CacheCapacity int
	// Timeout is the default per-call deadline. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Request describes one protected call.
type Request struct {
	// Resource keys the circuit breaker and metrics (e.g. "explorer:etherscan:ethereum").
	Resource string
	// CacheKey addresses the result cache. Empty disables caching for this call.
	CacheKey string
	// TTL is the freshness window applied when the result is cached.
	TTL time.Duration
	// Timeout overrides the gateway default for this call.
	Timeout time.Duration
}

// gwMetrics holds OTEL metric instruments.
type gwMetrics struct {
	calls       metric.Int64Counter
	failures    metric.Int64Counter
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
	latency     metric.Float64Histogram
}

// Gateway composes circuit breaker, cache, retry and metrics into a single
// protected call path for results of type T.
type Gateway[T any] struct {
	name    string
	logger  logger.LoggerInterface
	breaker *circuitbreaker.Registry[T]
	cache   *cache.Cache[T]
	policy  *retry.Policy
	timeout time.Duration
	stats   *statsRegistry

	tracer  trace.Tracer
	metrics *gwMetrics
}

// New creates a Gateway for results of type T.
func New[T any](cfg Config, log logger.LoggerInterface) (*Gateway[T], error) {
	if cfg.Name == "" {
		cfg.Name = "gateway"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Breaker.Logger == nil {
		cfg.Breaker.Logger = log
	}

	policy := cfg.Retry
	if policy == nil {
		policy = retry.New()
	}

	g := &Gateway[T]{
		name:    cfg.Name,
		logger:  log,
		breaker: circuitbreaker.NewRegistry[T](cfg.Breaker),
		policy:  policy,
		timeout: cfg.Timeout,
		stats:   newStatsRegistry(),
		tracer:  otel.Tracer(meterName),
	}

	if cfg.CacheCapacity > 0 {
		c, err := cache.New[T](cfg.CacheCapacity)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		g.cache = c
	}

	if err := g.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	return g, nil
}

// initMetrics initializes OTEL metric instruments.
func (g *Gateway[T]) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	g.metrics = &gwMetrics{}

	g.metrics.calls, err = meter.Int64Counter(
		"gateway_calls_total",
		metric.WithDescription("Total protected calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	g.metrics.failures, err = meter.Int64Counter(
		"gateway_failures_total",
		metric.WithDescription("Protected calls that failed after retries"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	g.metrics.cacheHits, err = meter.Int64Counter(
		"gateway_cache_hits_total",
		metric.WithDescription("Protected calls answered from cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return err
	}

	g.metrics.cacheMisses, err = meter.Int64Counter(
		"gateway_cache_misses_total",
		metric.WithDescription("Protected calls that missed the cache"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return err
	}

	g.metrics.latency, err = meter.Float64Histogram(
		"gateway_call_latency_ms",
		metric.WithDescription("Latency of network-bound protected calls"),
		metric.WithUnit("ms"),
	)
	return err
}

// Call executes op behind the full protection stack: breaker gate, cache
// probe, retry with timeout, then cache fill and accounting.
func (g *Gateway[T]) Call(ctx context.Context, req Request, op func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := g.tracer.Start(ctx, g.name+".call",
		trace.WithAttributes(
			attribute.String("resource", req.Resource),
			attribute.String("cache_key", req.CacheKey),
		),
	)
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("gateway", g.name),
		attribute.String("resource", req.Resource),
	)
	g.metrics.calls.Add(ctx, 1, attrs)

	// Fail fast while the resource is disabled; no cache probe either, a
	// stale-but-fresh entry would have been returned before the breaker
	// opened and expired entries must not trigger network calls.
	if !g.breaker.Allow(req.Resource) {
		var zero T
		err := g.breaker.OpenError(req.Resource)
		span.AddEvent("circuit_open")
		g.stats.recordRejection(req.Resource)
		return zero, err
	}

	if g.cache != nil && req.CacheKey != "" {
		if v, ok := g.cache.Get(req.CacheKey); ok {
			g.metrics.cacheHits.Add(ctx, 1, attrs)
			g.stats.recordHit(req.Resource)
			span.AddEvent("cache_hit")
			return v, nil
		}
		g.metrics.cacheMisses.Add(ctx, 1, attrs)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}

	start := time.Now()
	out, err := g.breaker.Execute(req.Resource, func() (T, error) {
		var result T
		retryErr := g.policy.Execute(ctx, func() error {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			var opErr error
			result, opErr = op(callCtx)
			return classifyTimeout(opErr, callCtx, ctx)
		})
		return result, retryErr
	})
	latency := time.Since(start)

	if err != nil {
		span.RecordError(err)
		g.metrics.failures.Add(ctx, 1, attrs)
		g.stats.recordOutcome(req.Resource, false, latency)
		g.logger.Warn(ctx, "protected call failed",
			"gateway", g.name,
			"resource", req.Resource,
			"latency_ms", latency.Milliseconds(),
			"error", err)
		var zero T
		return zero, err
	}

	g.metrics.latency.Record(ctx, float64(latency.Milliseconds()), attrs)
	g.stats.recordOutcome(req.Resource, true, latency)

	if g.cache != nil && req.CacheKey != "" && req.TTL > 0 {
		g.cache.Set(req.CacheKey, out, req.TTL)
	}

	return out, nil
}

// Invalidate drops a cached result, forcing the next call to the network.
func (g *Gateway[T]) Invalidate(cacheKey string) {
	if g.cache != nil {
		g.cache.Remove(cacheKey)
	}
}

// Metrics returns the counters for one resource key.
func (g *Gateway[T]) Metrics(resource string) CallMetrics {
	return g.stats.snapshot(resource)
}

// AllMetrics returns counters for every resource this gateway has seen.
func (g *Gateway[T]) AllMetrics() []CallMetrics {
	return g.stats.all()
}

// BreakerStates reports breaker state per resource, for health checks.
func (g *Gateway[T]) BreakerStates() map[string]string {
	return g.breaker.States()
}

// BreakerStateSource is anything that reports breaker states per resource.
type BreakerStateSource interface {
	BreakerStates() map[string]string
}

// CombineBreakerStates merges breaker states from several gateways into one
// map, so a single health check sees every resource in the process. Resource
// keys are namespaced per gateway and do not collide.
func CombineBreakerStates(sources ...BreakerStateSource) map[string]string {
	out := make(map[string]string)
	for _, src := range sources {
		for resource, state := range src.BreakerStates() {
			out[resource] = state
		}
	}
	return out
}

// classifyTimeout maps a deadline hit on the per-call context to
// SERVICE_TIMEOUT so the retry policy and breaker treat it as transient.
// Cancellation of the caller's context is passed through untouched.
func classifyTimeout(err error, callCtx, parent context.Context) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && callCtx.Err() != nil {
		return apperror.New(apperror.CodeServiceTimeout, apperror.WithCause(err))
	}
	return err
}
