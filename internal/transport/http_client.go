package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/TheMichaelB/visitsync/internal/config"
	"github.com/TheMichaelB/visitsync/internal/events"
	"github.com/TheMichaelB/visitsync/internal/models"
)

// RESTPrefix is where PostgREST tables are mounted.
const RESTPrefix = "/rest/v1/"

// HTTPClient handles HTTP communication with the backend.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	apiKey    string
	limiter   *rate.Limiter
	logger    *events.Logger

	// Retry configuration
	maxRetries int
	retryDelay time.Duration
}

// Request describes one REST call.
type Request struct {
	Op      string // for errors and logs, e.g. "insert visit"
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    interface{}
}

// Response is a successful REST response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// retryableError marks a failure worth another attempt.
type retryableError struct {
	status int
	body   []byte
	err    error
}

func (e *retryableError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("server error %d: %s", e.status, e.body)
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	// Configure HTTP/2
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		userAgent:  cfg.UserAgent,
		apiKey:     cfg.APIKey,
		limiter:    limiter,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "http_client"),
	}
}

// Do executes req with rate limiting and retry. Every call is treated as
// idempotent: inserts ignore duplicates, upserts and conditional updates
// converge on replay.
func (c *HTTPClient) Do(ctx context.Context, req Request) (*Response, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"op":     req.Op,
		"method": req.Method,
		"url":    target,
		"size":   len(body),
	}).Debug("Sending request")

	var resp *Response
	err := c.retry(ctx, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		c.setHeaders(httpReq, req.Headers, body != nil)

		httpResp, err := c.client.Do(httpReq)
		if err != nil {
			return &retryableError{err: fmt.Errorf("execute request: %w", err)}
		}
		defer httpResp.Body.Close()

		respBody, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return &retryableError{err: fmt.Errorf("read response: %w", err)}
		}

		if c.isRetryable(httpResp.StatusCode) {
			return &retryableError{status: httpResp.StatusCode, body: respBody}
		}

		resp = &Response{
			StatusCode: httpResp.StatusCode,
			Header:     httpResp.Header,
			Body:       respBody,
		}
		return nil
	})

	if err != nil {
		remote := models.Unreachable(req.Op, err)
		var re *retryableError
		if errors.As(err, &re) {
			remote.StatusCode = re.status
		}
		return nil, remote
	}

	c.logger.WithFields(map[string]interface{}{
		"op":     req.Op,
		"status": resp.StatusCode,
		"size":   len(resp.Body),
	}).Debug("Received response")

	if resp.StatusCode >= 400 {
		return nil, models.Rejected(req.Op, resp.StatusCode, decodeAPIError(resp))
	}

	return resp, nil
}

// Ping checks that the backend answers at all. Any non-5xx reply counts.
func (c *HTTPClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+RESTPrefix, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, nil, false)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.Unreachable("ping", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		remote := models.Unreachable("ping", fmt.Errorf("server error %d", resp.StatusCode))
		remote.StatusCode = resp.StatusCode
		return remote
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request, extra map[string]string, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
}

// retry executes a function with exponential backoff.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2 // Exponential backoff
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable checks if an HTTP status code is retryable.
func (c *HTTPClient) isRetryable(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		(status >= 500 && status < 600)
}

// isRetryableError checks if an error is retryable.
func (c *HTTPClient) isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *retryableError
	return errors.As(err, &re)
}

func decodeAPIError(resp *Response) *models.APIError {
	apiErr := &models.APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(resp.Body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(resp.Body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	apiErr.StatusCode = resp.StatusCode
	return apiErr
}
