// Package apiclient is the single choke point for outbound calls to the
// remote agent platform: connection reuse, hard per-call timeouts,
// exponential-backoff retry for idempotent requests, TTL response caching,
// and uniform classification of failures into the fault taxonomy.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/arcline-ai/toolgate/internal/fault"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 3
	DefaultCacheTTL      = 300 * time.Second
	DefaultRetryInterval = 500 * time.Millisecond

	// maxErrorBody bounds how much of an upstream error body is echoed
	// into error messages.
	maxErrorBody = 512
)

// Credential resolves a request credential just before the request is
// sent. The returned value exists only on the outbound request: it is
// never cached, logged, or echoed into results or errors.
type Credential func(ctx context.Context) (header, value string, err error)

// Request describes a single outbound call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any // marshaled to JSON when non-nil

	// CacheKey enables response caching for idempotent requests and
	// eviction for mutating ones. Empty disables both.
	CacheKey string

	// Idempotent marks the call safe to retry and cache. GET and HEAD
	// are treated as idempotent regardless.
	Idempotent bool

	Credential Credential
}

// Result is the terminal outcome of a successful call.
type Result struct {
	StatusCode int
	Body       json.RawMessage
	Cached     bool
	Retried    int
}

// Config holds client construction parameters. Zero fields take defaults.
type Config struct {
	BaseURL       string
	APIKey        string // platform credential, sent as X-Api-Key
	Timeout       time.Duration
	MaxRetries    int
	CacheTTL      time.Duration
	RetryInterval time.Duration
	HTTPClient    *http.Client // nil builds a pooled default
}

// Client executes requests against the remote platform.
type Client struct {
	http          *http.Client
	baseURL       string
	apiKey        string
	timeout       time.Duration
	maxRetries    int
	cacheTTL      time.Duration
	retryInterval time.Duration
	cache         Cache
	logger        *zap.Logger
}

// New creates a Client. cache may be nil to disable caching entirely.
func New(cfg Config, cache Cache, logger *zap.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	return &Client{
		http:          httpClient,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		timeout:       timeout,
		maxRetries:    maxRetries,
		cacheTTL:      cacheTTL,
		retryInterval: retryInterval,
		cache:         cache,
		logger:        logger,
	}
}

func isReadMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// Execute runs the request: cache lookup, bounded retries with backoff and
// jitter for idempotent calls, then a single terminal outcome. Retried in
// the result counts the retry attempts that preceded success.
func (c *Client) Execute(ctx context.Context, req *Request) (*Result, error) {
	idempotent := req.Idempotent || isReadMethod(req.Method)
	cacheable := c.cache != nil && req.CacheKey != "" && idempotent

	if cacheable {
		if body, ok := c.cache.Get(ctx, req.CacheKey); ok {
			c.logger.Debug("cache hit",
				zap.String("method", req.Method),
				zap.String("path", req.Path),
			)
			return &Result{StatusCode: http.StatusOK, Body: body, Cached: true}, nil
		}
	}

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fault.Wrap(fault.KindValidation, err, "marshal request body")
		}
	}

	attempts := 0
	var result *Result
	op := func() error {
		attempts++
		res, err := c.do(ctx, req, payload)
		if err != nil {
			if idempotent && transient(err) {
				c.logger.Warn("transient upstream failure, will retry",
					zap.String("method", req.Method),
					zap.String("path", req.Path),
					zap.Int("attempt", attempts),
					zap.Error(err),
				)
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxRetries)), ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !fault.IsKind(err, fault.KindTimeout) {
			// Caller canceled between attempts; no further retry was scheduled.
			return nil, fault.Wrap(fault.KindTimeout, err, "call canceled")
		}
		if attempts > c.maxRetries && transient(err) {
			return nil, fault.Wrap(fault.KindUpstream, err,
				fmt.Sprintf("upstream unavailable after %d attempts", attempts))
		}
		return nil, err
	}
	result.Retried = attempts - 1

	if req.CacheKey != "" && c.cache != nil {
		if cacheable && result.StatusCode < 300 {
			c.cache.Set(ctx, req.CacheKey, result.Body, c.cacheTTL)
		} else if !idempotent {
			// A mutation invalidates whatever it declared as its key.
			c.cache.Delete(ctx, req.CacheKey)
		}
	}
	return result, nil
}

// do performs exactly one HTTP round trip under the hard per-call timeout.
func (c *Client) do(ctx context.Context, req *Request, payload []byte) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, target, body)
	if err != nil {
		return nil, fault.Wrap(fault.KindValidation, err, "build request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-Api-Key", c.apiKey)
	}
	if req.Credential != nil {
		header, value, err := req.Credential(callCtx)
		if err != nil {
			return nil, fault.Wrap(fault.KindAuth, err, "resolve credential")
		}
		httpReq.Header.Set(header, value)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err, req.Method, req.Path)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstream, err, "read response body")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Result{StatusCode: resp.StatusCode, Body: respBody}, nil
	}
	return nil, classifyStatus(resp.StatusCode, respBody, req.Method, req.Path)
}

// transient reports whether the fault kind is worth retrying.
func transient(err error) bool {
	switch fault.KindOf(err) {
	case fault.KindRateLimited, fault.KindTimeout, fault.KindUpstream:
		return true
	}
	return false
}

func classifyTransport(err error, method, path string) error {
	msg := fmt.Sprintf("%s %s failed", method, path)
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindTimeout, err, msg)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.Wrap(fault.KindTimeout, err, msg)
	}
	if errors.Is(err, context.Canceled) {
		return fault.Wrap(fault.KindTimeout, err, msg)
	}
	return fault.Wrap(fault.KindUpstream, err, msg)
}

func classifyStatus(code int, body []byte, method, path string) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > maxErrorBody {
		detail = detail[:maxErrorBody]
	}
	msg := fmt.Sprintf("%s %s returned %d", method, path, code)
	if detail != "" {
		msg += ": " + detail
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fault.New(fault.KindAuth, msg)
	case code == http.StatusNotFound:
		return fault.New(fault.KindNotFound, msg)
	case code == http.StatusTooManyRequests:
		return fault.New(fault.KindRateLimited, msg)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fault.New(fault.KindValidation, msg)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return fault.New(fault.KindTimeout, msg)
	case code >= 500:
		return fault.New(fault.KindUpstream, msg)
	default:
		return fault.New(fault.KindUpstream, msg)
	}
}
