package gaia

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/star/gaiaviz/internal/metrics"
)

// DefaultTAPURL is the synchronous TAP endpoint of the ESA Gaia archive.
const DefaultTAPURL = "https://gea.esac.esa.int/tap-server/tap/sync"

const (
	defaultTimeout = 60 * time.Second
	// maxBodyBytes caps how much of a TAP response is read into memory.
	maxBodyBytes = 64 << 20
	// maxErrorSnippet bounds how much of an error body ends up in an error.
	maxErrorSnippet = 512
)

// ErrBodyTooLarge is returned when a TAP response exceeds the byte limit.
var ErrBodyTooLarge = errors.New("response exceeds byte limit")

// Cache stores query results keyed by QueryKey. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*Dataset, bool, error)
	Put(ctx context.Context, key string, ds *Dataset) error
}

// Client runs ADQL queries against a Gaia TAP service.
type Client struct {
	tapURL     string
	httpClient *http.Client
	cache      Cache
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithCache consults and fills cache around every query.
func WithCache(cache Cache) ClientOption {
	return func(c *Client) { c.cache = cache }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client for the given TAP sync endpoint.
// An empty tapURL selects DefaultTAPURL.
func NewClient(tapURL string, opts ...ClientOption) *Client {
	if tapURL == "" {
		tapURL = DefaultTAPURL
	}
	c := &Client{
		tapURL: tapURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("github.com/star/gaiaviz/gaia"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TAPURL returns the configured endpoint.
func (c *Client) TAPURL() string {
	return c.tapURL
}

// ConeSearch runs q and returns the matching sources.
func (c *Client) ConeSearch(ctx context.Context, q ConeQuery) (*Dataset, error) {
	ctx, span := c.tracer.Start(ctx, "gaia.ConeSearch", trace.WithAttributes(
		attribute.Float64("cone.ra", q.RA),
		attribute.Float64("cone.dec", q.Dec),
		attribute.Float64("cone.radius", q.Radius),
		attribute.Int("cone.limit", q.Limit),
	))
	defer span.End()

	ds, err := c.Query(ctx, q.ADQL())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("cone.rows", len(ds.Sources)))
	return ds, nil
}

// Query runs an arbitrary ADQL query whose result contains at least the
// source_id, ra and dec columns.
func (c *Client) Query(ctx context.Context, adql string) (*Dataset, error) {
	key := QueryKey(adql)
	requestID := uuid.NewString()
	logger := c.logger.With("request_id", requestID, "query_key", key)

	if c.cache != nil {
		ds, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			logger.Warn("result cache lookup failed", "error", err)
		case ok:
			logger.Debug("result cache hit", "source_count", len(ds.Sources))
			return ds, nil
		}
	}

	start := time.Now()
	ds, err := c.fetch(ctx, adql, requestID, logger)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveCatalogQuery(duration, 0, err)
		logger.Warn("catalog query failed", "duration_ms", duration.Milliseconds(), "error", err)
		return nil, err
	}
	metrics.ObserveCatalogQuery(duration, len(ds.Sources), nil)

	ds.Query = adql
	ds.FetchedAt = c.now().UTC()

	logger.Info("catalog query complete",
		"source_count", len(ds.Sources),
		"duration_ms", duration.Milliseconds(),
	)

	if c.cache != nil {
		if err := c.cache.Put(ctx, key, ds); err != nil {
			logger.Warn("result cache store failed", "error", err)
		}
	}
	return ds, nil
}

// fetch performs the HTTP round trip and decodes the body.
func (c *Client) fetch(ctx context.Context, adql, requestID string, logger *slog.Logger) (*Dataset, error) {
	form := url.Values{
		"REQUEST": {"doQuery"},
		"LANG":    {"ADQL"},
		"FORMAT":  {"json"},
		"QUERY":   {adql},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tapURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	logger.Debug("sending catalog query", "tap_url", c.tapURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("catalog response from %s: %w (%d bytes)", c.tapURL, ErrBodyTooLarge, maxBodyBytes)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s: %s", resp.StatusCode, c.tapURL, snippet(body))
	}

	ds, err := Parse(bytes.NewReader(body), logger)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog response: %w", err)
	}
	return ds, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		s = s[:maxErrorSnippet] + "..."
	}
	return s
}
