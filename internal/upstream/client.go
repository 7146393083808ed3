package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/statgate/statgate/internal/cache"
	"github.com/statgate/statgate/internal/circuitbreaker"
	"github.com/statgate/statgate/internal/observability"
	"github.com/statgate/statgate/internal/ratelimit"
	"github.com/statgate/statgate/internal/retry"
)

// ThreatReporter receives traffic events from the client. Implemented by
// the threat scorer.
type ThreatReporter interface {
	RecordRequest(identifier, endpoint string)
	RecordAuthFailure(identifier string)
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the upstream API root, e.g. "https://api.example.com".
	BaseURL string

	// DependencyName labels the upstream in breaker state and metrics.
	DependencyName string

	// AttemptTimeout bounds each individual attempt.
	AttemptTimeout time.Duration

	// CacheTTL is the freshness window for write-through cached responses.
	CacheTTL time.Duration

	// StaleFallback permits serving an expired cache entry when the
	// circuit is open or retries are exhausted.
	StaleFallback bool

	// Headers are added to every request.
	Headers map[string]string

	// RequestsPerSecond paces outbound requests to the upstream host.
	// Zero disables pacing.
	RequestsPerSecond float64
	PacingBurst       int

	// Connection pool tuning.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// MaxBatchConcurrency bounds FetchBatch parallelism. Zero derives the
	// bound from the limiter's tightest tier.
	MaxBatchConcurrency int64

	Logger observability.Logger
}

// DefaultConfig returns client defaults.
func DefaultConfig() *Config {
	return &Config{
		DependencyName:      "statistics-api",
		AttemptTimeout:      10 * time.Second,
		CacheTTL:            5 * time.Minute,
		StaleFallback:       true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Request describes one upstream fetch.
type Request struct {
	// Method defaults to GET.
	Method string

	// Path is joined to the configured base URL.
	Path string

	Query   map[string]string
	Headers map[string]string
	Body    []byte

	// Identifier scopes rate limiting and threat scoring, typically a
	// credential id.
	Identifier string

	// Endpoint is the logical endpoint label; defaults to Path.
	Endpoint string

	// Fresh bypasses the cache fast path.
	Fresh bool
}

// Response is a completed upstream fetch. Body is the raw payload; callers
// decode it themselves.
type Response struct {
	StatusCode  int
	Body        []byte
	ContentHash string
	FromCache   bool
	Stale       bool
}

// Client is the resilient upstream client. Every fetch passes through the
// circuit breaker, the rate limiter, connection pooling and pacing, a
// per-attempt timeout, and the retry policy, reporting outcomes back to
// the breaker, the threat scorer, and the adaptive limiter.
type Client struct {
	cfg     *Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	limiter *ratelimit.Limiter
	cache   cache.Cache
	threats ThreatReporter
	policy  *retry.Policy
	pacer   *rate.Limiter
	logger  observability.Logger
}

// NewClient creates a client. cache and threats may be nil to disable the
// corresponding behavior; breaker, limiter, and policy are required.
func NewClient(
	cfg *Config,
	breaker *circuitbreaker.CircuitBreaker,
	limiter *ratelimit.Limiter,
	responseCache cache.Cache,
	threats ThreatReporter,
	policy *retry.Policy,
) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	if breaker == nil || limiter == nil || policy == nil {
		return nil, fmt.Errorf("breaker, limiter, and retry policy are required")
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}

	var pacer *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.PacingBurst
		if burst < 1 {
			burst = 1
		}
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: transport},
		breaker: breaker,
		limiter: limiter,
		cache:   responseCache,
		threats: threats,
		policy:  policy,
		pacer:   pacer,
		logger:  cfg.Logger,
	}, nil
}

// Fetch performs one upstream call through the full resilience pipeline.
// Denials from the breaker, the limiter, and the block list are returned
// immediately as typed errors and never retried; transient upstream
// failures are retried per the policy, and a stale cached response is
// served as a last resort when the fallback policy allows it.
func (c *Client) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if err := c.validate(req); err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.Path
	}
	fullURL := c.buildURL(req)
	cacheKey := cache.Key(method, fullURL, nil)

	if c.cache != nil && !req.Fresh && method == http.MethodGet {
		if entry, err := c.cache.Get(ctx, cacheKey); err == nil {
			recordFetch(c.cfg.DependencyName, "cache_hit")
			return cachedResponse(entry, false), nil
		}
	}

	var resp *Response
	start := time.Now()

	err := c.policy.Execute(ctx, c.cfg.DependencyName, func(ctx context.Context) (int, error) {
		r, statusCode, err := c.attempt(ctx, method, fullURL, endpoint, req)
		if err != nil {
			return statusCode, err
		}
		resp = r
		return statusCode, nil
	})

	if err == nil {
		recordFetch(c.cfg.DependencyName, "success")
		recordFetchDuration(c.cfg.DependencyName, time.Since(start))

		if c.cache != nil && method == http.MethodGet {
			if cerr := c.cache.Set(ctx, cacheKey, resp.Body, c.cfg.CacheTTL); cerr != nil {
				c.logger.Warn("cache write-through failed",
					observability.String("endpoint", endpoint),
					observability.Error(cerr),
				)
			}
		}
		return resp, nil
	}

	return c.fallback(ctx, cacheKey, endpoint, err)
}

// attempt performs one gated attempt: breaker, limiter, pacing, then the
// HTTP call under the per-attempt timeout.
func (c *Client) attempt(
	ctx context.Context,
	method, fullURL, endpoint string,
	req *Request,
) (*Response, int, error) {
	if !c.breaker.Allow() {
		return nil, 0, circuitbreaker.ErrCircuitOpen
	}

	result, err := c.limiter.Check(ctx, req.Identifier, endpoint)
	if err != nil {
		c.breaker.ReleaseProbe()
		return nil, 0, fmt.Errorf("rate limit check: %w", err)
	}
	if !result.Allowed {
		c.breaker.ReleaseProbe()
		return nil, 0, result.Err()
	}

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			c.breaker.ReleaseProbe()
			return nil, 0, err
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, fullURL, bytes.NewReader(req.Body))
	if err != nil {
		c.breaker.ReleaseProbe()
		return nil, 0, &ValidationError{Field: "request", Reason: err.Error()}
	}
	for name, value := range c.cfg.Headers {
		httpReq.Header.Set(name, value)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	if c.threats != nil {
		c.threats.RecordRequest(req.Identifier, endpoint)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	latency := time.Since(start)

	c.limiter.Observe(req.Identifier, endpoint, latency)

	if err != nil {
		if ctx.Err() != nil {
			// The caller gave up mid-flight; the dependency did not
			// fail, so the attempt must not count toward opening.
			c.breaker.ReleaseProbe()
			return nil, 0, err
		}
		c.breaker.RecordFailure()
		return nil, 0, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		if ctx.Err() != nil {
			c.breaker.ReleaseProbe()
			return nil, 0, err
		}
		c.breaker.RecordFailure()
		return nil, httpResp.StatusCode, fmt.Errorf("read upstream response: %w", err)
	}

	statusCode := httpResp.StatusCode
	switch {
	case statusCode >= 200 && statusCode < 300:
		c.breaker.RecordSuccess()
		return &Response{
			StatusCode:  statusCode,
			Body:        body,
			ContentHash: cache.ContentHash(body),
		}, statusCode, nil

	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		c.breaker.RecordSuccess()
		if c.threats != nil {
			c.threats.RecordAuthFailure(req.Identifier)
		}
		return nil, statusCode, &UpstreamStatusError{StatusCode: statusCode, Body: body}

	case statusCode >= 500:
		c.breaker.RecordFailure()
		return nil, statusCode, &UpstreamStatusError{StatusCode: statusCode, Body: body}

	default:
		// 4xx including 429: the dependency itself answered.
		c.breaker.RecordSuccess()
		return nil, statusCode, &UpstreamStatusError{StatusCode: statusCode, Body: body}
	}
}

// fallback serves a stale cache entry when policy allows, otherwise wraps
// the terminal error.
func (c *Client) fallback(ctx context.Context, cacheKey, endpoint string, err error) (*Response, error) {
	blockedOrLimited := ratelimit.IsRateLimitExceeded(err) || ratelimit.IsThreatBlocked(err)

	if c.cfg.StaleFallback && c.cache != nil && !blockedOrLimited {
		if entry, serr := c.cache.GetStale(ctx, cacheKey); serr == nil {
			c.logger.Warn("serving stale cached response",
				observability.String("endpoint", endpoint),
				observability.Error(err),
			)
			recordFetch(c.cfg.DependencyName, "stale_fallback")
			return cachedResponse(entry, true), nil
		}
	}

	switch {
	case blockedOrLimited:
		recordFetch(c.cfg.DependencyName, "denied")
		return nil, err
	case err == circuitbreaker.ErrCircuitOpen:
		recordFetch(c.cfg.DependencyName, "circuit_open")
		return nil, err
	default:
		recordFetch(c.cfg.DependencyName, "failure")
		statusCode := 0
		if se, ok := err.(*UpstreamStatusError); ok {
			statusCode = se.StatusCode
		}
		return nil, &TransientUpstreamError{
			Operation:  endpoint,
			StatusCode: statusCode,
			Attempts:   c.policy.MaxAttempts,
			Err:        err,
		}
	}
}

// BatchResult pairs one batch request with its outcome.
type BatchResult struct {
	Response *Response
	Err      error
}

// FetchBatch fetches requests concurrently, bounded so parallelism alone
// cannot violate the tightest rate-limit tier.
func (c *Client) FetchBatch(ctx context.Context, reqs []*Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	if len(reqs) == 0 {
		return results
	}

	bound := c.cfg.MaxBatchConcurrency
	if bound <= 0 {
		bound = c.limiter.TightestLimit()
	}
	if bound <= 0 {
		bound = int64(len(reqs))
	}

	sem := semaphore.NewWeighted(bound)
	for i, req := range reqs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = BatchResult{Err: err}
			continue
		}
		go func(i int, req *Request) {
			defer sem.Release(1)
			resp, err := c.Fetch(ctx, req)
			results[i] = BatchResult{Response: resp, Err: err}
		}(i, req)
	}

	// Draining the full weight waits for every in-flight fetch.
	if err := sem.Acquire(context.Background(), bound); err == nil {
		sem.Release(bound)
	}
	return results
}

func (c *Client) validate(req *Request) error {
	if req == nil {
		return &ValidationError{Field: "request", Reason: "must not be nil"}
	}
	if req.Path == "" {
		return &ValidationError{Field: "path", Reason: "must not be empty"}
	}
	if req.Identifier == "" {
		return &ValidationError{Field: "identifier", Reason: "must not be empty"}
	}
	return nil
}

func (c *Client) buildURL(req *Request) string {
	full := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) == 0 {
		return full
	}

	values := url.Values{}
	for name, value := range req.Query {
		values.Set(name, value)
	}
	return full + "?" + values.Encode()
}

func cachedResponse(entry *cache.Entry, stale bool) *Response {
	return &Response{
		StatusCode:  http.StatusOK,
		Body:        entry.Payload,
		ContentHash: entry.ContentHash,
		FromCache:   true,
		Stale:       stale,
	}
}
