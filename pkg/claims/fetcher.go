package claims

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samvad-hq/remote-claims/pkg/httpclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/samvad-hq/remote-claims/pkg/claims"

// Fetcher sends one request per call and parses the JSON reply. It holds no
// per-call state and is safe for concurrent use.
type Fetcher struct {
	client  httpclient.Client
	log     Logger
	metrics *metrics
	tracer  trace.Tracer
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger used for fetch diagnostics.
func WithLogger(log Logger) Option {
	return func(f *Fetcher) { f.log = ensureLogger(log) }
}

// WithMetrics registers fetch counters and a duration histogram on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(f *Fetcher) { f.metrics = newMetrics(reg) }
}

// WithTracerProvider overrides the global otel tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(f *Fetcher) {
		if tp != nil {
			f.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// NewFetcher builds a Fetcher. A nil client uses resty with no timeout.
func NewFetcher(client httpclient.Client, opts ...Option) *Fetcher {
	if client == nil {
		client = httpclient.NewRestyClient(0)
	}
	f := &Fetcher{
		client: client,
		log:    noopLogger{},
		tracer: otel.GetTracerProvider().Tracer(instrumentationName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// FetchJSON is the six-input form of Fetch. A nil formParameters map means
// GET; a non-nil graphQLQuery takes precedence over formParameters.
func (f *Fetcher) FetchJSON(
	ctx context.Context,
	baseURL, contentType string,
	headers, queryParameters, formParameters map[string]string,
	graphQLQuery *string,
) (Document, error) {
	return f.Fetch(ctx, Request{
		BaseURL:         baseURL,
		ContentType:     contentType,
		Headers:         headers,
		QueryParameters: queryParameters,
		Mode:            ModeFor(formParameters, graphQLQuery),
	})
}

// Fetch sends req exactly once and returns the parsed body. Any failure is a
// *FetchError; nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (doc Document, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	mode := modeOrDefault(req.Mode)
	fetchID := uuid.NewString()
	start := time.Now()

	ctx, span := f.tracer.Start(ctx, "claims.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("claims.fetch_id", fetchID),
			attribute.String("claims.mode", mode.name()),
			attribute.String("url.full", req.BaseURL),
		),
	)
	defer func() {
		f.metrics.observe(mode.name(), err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			f.log.WarnObj("remote claim fetch failed", "claim_fetch_error", map[string]any{
				"fetch_id": fetchID,
				"mode":     mode.name(),
				"url":      req.BaseURL,
				"error":    err.Error(),
			})
		}
		span.End()
	}()

	target, body, err := buildRequest(req, mode)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", req.ContentType)
	for k, v := range req.Headers {
		header.Add(k, v)
	}

	f.log.DebugObj("remote claim fetch started", "claim_fetch", map[string]any{
		"fetch_id": fetchID,
		"mode":     mode.name(),
		"method":   mode.method(),
		"url":      target,
	})

	resp, err := f.client.Execute(ctx, mode.method(), target, header, body)
	if err != nil {
		return nil, transportError(req.BaseURL, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode()))

	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(req.BaseURL, resp.StatusCode())
	}

	doc, err = parseDocument(resp.Body())
	if err != nil {
		return nil, parseError(req.BaseURL, err)
	}

	f.log.DebugObj("remote claim fetch completed", "claim_fetch", map[string]any{
		"fetch_id":   fetchID,
		"mode":       mode.name(),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	return doc, nil
}

// buildRequest resolves the target URL and body for the selected mode.
func buildRequest(req Request, mode Mode) (string, []byte, error) {
	base, err := parseBaseURL(req.BaseURL)
	if err != nil {
		return "", nil, invalidURIError(req.BaseURL, err)
	}

	switch m := mode.(type) {
	case GraphQL:
		body, err := encodeGraphQL(m.Query, req.QueryParameters)
		if err != nil {
			return "", nil, transportError(req.BaseURL, err)
		}
		return req.BaseURL, body, nil
	case FormPost:
		return withQuery(base, req.QueryParameters), encodeForm(m.Fields), nil
	case SimpleGet:
		return withQuery(base, req.QueryParameters), nil, nil
	default:
		return "", nil, modeError(req.BaseURL, mode)
	}
}
