// Package httpclient provides an instrumented HTTP client with OTEL tracing
// and metrics, shared by the explorer adapters.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptrace"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/httptrace/otelhttptrace"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultDialKeepAlive    = 10 * time.Second
	defaultRequestTimeout   = 10 * time.Second
	defaultMaxConnsPerHost  = 5
	defaultIdleConnTimeout  = 2 * time.Minute

	metricRequestCounter = "http_client_requests_total"
)

// Client builds and executes instrumented requests against one provider.
type Client interface {
	// NewRequest creates a request builder bound to this client.
	NewRequest() Request
}

// Options holds configuration for the instrumented HTTP client.
type Options struct {
	provider       string
	baseURL        string
	requestTimeout time.Duration
	headers        map[string]string
	transport      http.RoundTripper
}

// Option configures the client.
type Option func(*Options)

// WithProviderName labels metrics and traces with the upstream provider.
func WithProviderName(name string) Option {
	return func(o *Options) { o.provider = name }
}

// WithBaseURL prefixes relative request URLs.
func WithBaseURL(url string) Option {
	return func(o *Options) { o.baseURL = url }
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) { o.requestTimeout = d }
}

// WithHeaders sets default headers applied to every request.
func WithHeaders(h map[string]string) Option {
	return func(o *Options) { o.headers = h }
}

// WithTransport replaces the default transport. Used by tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *Options) { o.transport = rt }
}

// instrumentedClient wraps http.Client with OTEL instrumentation.
type instrumentedClient struct {
	client         *http.Client
	requestCounter metric.Int64Counter
	provider       string
	tracer         trace.Tracer
	baseURL        string
	defaultHeaders map[string]string
}

// New creates an instrumented HTTP client.
func New(opts ...Option) (Client, error) {
	options := &Options{requestTimeout: defaultRequestTimeout}
	for _, o := range opts {
		o(options)
	}

	transport := options.transport
	if transport == nil {
		transport = &http.Transport{
			DialContext: (&net.Dialer{
				KeepAlive: defaultDialKeepAlive,
			}).DialContext,
			MaxConnsPerHost: defaultMaxConnsPerHost,
			IdleConnTimeout: defaultIdleConnTimeout,
		}
	}

	httpClient := &http.Client{
		Timeout: options.requestTimeout,
		Transport: otelhttp.NewTransport(
			transport,
			otelhttp.WithClientTrace(func(ctx context.Context) *httptrace.ClientTrace {
				return otelhttptrace.NewClientTrace(ctx)
			}),
		),
	}

	provider := options.provider
	if provider == "" {
		provider = "default"
	}

	meter := otel.Meter(
		"instrumented_http_client",
		metric.WithInstrumentationAttributes(attribute.String("provider", provider)),
	)
	requestCounter, err := meter.Int64Counter(
		metricRequestCounter,
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	return &instrumentedClient{
		client:         httpClient,
		requestCounter: requestCounter,
		provider:       provider,
		tracer:         otel.Tracer("instrumented_http_client"),
		baseURL:        options.baseURL,
		defaultHeaders: options.headers,
	}, nil
}

// NewRequest creates a request builder with the client defaults.
func (c *instrumentedClient) NewRequest() Request {
	headers := make(map[string]string, len(c.defaultHeaders))
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	return &requestBuilder{
		client:         c.client,
		requestCounter: c.requestCounter,
		provider:       c.provider,
		tracer:         c.tracer,
		baseURL:        c.baseURL,
		headers:        headers,
	}
}
