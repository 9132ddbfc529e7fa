package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPClientConfig represents configuration for the bank HTTP client
type HTTPClientConfig struct {
	Timeout            time.Duration
	RetryCount         int
	RetryWait          time.Duration
	InsecureSkipVerify bool
	DefaultHeaders     map[string]string
	// RateLimit caps outbound requests per second per gateway; zero disables it
	RateLimit float64
	RateBurst int
}

// DefaultHTTPClientConfig returns a 15s timeout with two retries for retryable calls
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:    15 * time.Second,
		RetryCount: 2,
		RetryWait:  500 * time.Millisecond,
	}
}

// HTTPRequest represents a standardized HTTP request
type HTTPRequest struct {
	Op          Op
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string]string
	FormData    map[string]string
	Body        any
	ContentType string
	// Retryable marks calls that are safe to repeat, such as token and verify
	// lookups the bank documents as idempotent
	Retryable bool
}

// HTTPResponse represents a standardized HTTP response
type HTTPResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IsSuccess reports a 2xx status
func (r *HTTPResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HTTPClient sends requests to one gateway's hosts
type HTTPClient struct {
	gateway  string
	config   HTTPClientConfig
	client   *resty.Client
	limiter  *rate.Limiter
	exchange ExchangeLogger
	logger   *zap.Logger
}

// NewHTTPClient creates a client for gateway
func NewHTTPClient(gateway string, config HTTPClientConfig, exchange ExchangeLogger, logger *zap.Logger) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RetryWait <= 0 {
		config.RetryWait = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: config.InsecureSkipVerify}).
		SetHeaders(config.DefaultHeaders)

	c := &HTTPClient{
		gateway:  gateway,
		config:   config,
		client:   client,
		exchange: exchange,
		logger:   logger,
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return c
}

// SendJSON sends req with a JSON body
func (c *HTTPClient) SendJSON(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	req.ContentType = "application/json"
	return c.Do(ctx, req)
}

// SendForm sends req form-encoded
func (c *HTTPClient) SendForm(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	req.ContentType = "application/x-www-form-urlencoded"
	return c.Do(ctx, req)
}

// Do sends req, retrying retryable requests on transport faults and 5xx
// responses with a fixed backoff. Failures surface as transport errors. When
// the last attempt got a 5xx, the response is returned along with the error.
func (c *HTTPClient) Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	attempts := 1
	if req.Retryable {
		attempts += c.config.RetryCount
	}

	var (
		resp *HTTPResponse
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			c.logger.Warn("retrying gateway request",
				zap.String("op", string(req.Op)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return nil, NewTransportError(c.gateway, req.Op, "canceled", ctx.Err())
			case <-time.After(c.config.RetryWait):
			}
		}

		resp, err = c.send(ctx, req, attempt)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
	}

	if err != nil {
		return nil, NewTransportError(c.gateway, req.Op, transportCode(err), err)
	}
	return resp, NewTransportError(c.gateway, req.Op, strconv.Itoa(resp.StatusCode),
		fmt.Errorf("HTTP error %d: %s", resp.StatusCode, truncate(string(resp.Body))))
}

func (c *HTTPClient) send(ctx context.Context, req *HTTPRequest, attempt int) (*HTTPResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	r := c.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetQueryParams(req.QueryParams)
	if req.ContentType != "" {
		r.SetHeader("Content-Type", req.ContentType)
	}
	var logged string
	switch {
	case req.FormData != nil:
		r.SetFormData(req.FormData)
		logged = encodeForm(req.FormData)
	case req.Body != nil:
		r.SetBody(req.Body)
		logged = bodyString(req.Body)
	}

	start := time.Now()
	res, err := r.Execute(req.Method, req.URL)
	elapsed := time.Since(start)

	gatewayRequestDuration.WithLabelValues(c.gateway, string(req.Op)).Observe(elapsed.Seconds())
	ex := Exchange{
		Gateway:     c.gateway,
		Op:          req.Op,
		Method:      req.Method,
		URL:         req.URL,
		RequestBody: truncate(MaskSecrets(logged)),
		Duration:    elapsed,
		Attempt:     attempt,
		Timestamp:   start,
	}

	if err != nil {
		gatewayRequests.WithLabelValues(c.gateway, string(req.Op), "transport_error").Inc()
		ex.Error = err.Error()
		c.record(ctx, ex)
		return nil, err
	}

	out := &HTTPResponse{
		StatusCode: res.StatusCode(),
		Headers:    res.Header(),
		Body:       res.Body(),
	}
	outcome := "ok"
	if !out.IsSuccess() {
		outcome = "http_error"
	}
	gatewayRequests.WithLabelValues(c.gateway, string(req.Op), outcome).Inc()
	ex.StatusCode = out.StatusCode
	ex.ResponseBody = truncate(MaskSecrets(string(out.Body)))
	c.record(ctx, ex)

	c.logger.Debug("gateway exchange",
		zap.String("op", string(req.Op)),
		zap.String("url", req.URL),
		zap.Int("status", out.StatusCode),
		zap.Duration("elapsed", elapsed))
	return out, nil
}

func (c *HTTPClient) record(ctx context.Context, ex Exchange) {
	if c.exchange == nil {
		return
	}
	if err := c.exchange.LogExchange(ctx, ex); err != nil {
		c.logger.Warn("failed to record gateway exchange", zap.Error(err))
	}
}

// DecodeJSON decodes a 2xx JSON body into v. Other statuses and malformed
// bodies are transport errors.
func (c *HTTPClient) DecodeJSON(op Op, resp *HTTPResponse, v any) error {
	if !resp.IsSuccess() {
		return NewTransportError(c.gateway, op, strconv.Itoa(resp.StatusCode),
			fmt.Errorf("HTTP error %d: %s", resp.StatusCode, truncate(string(resp.Body))))
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return NewTransportError(c.gateway, op, "malformed_response", fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func transportCode(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "connection"
	}
}

func encodeForm(form map[string]string) string {
	values := url.Values{}
	for k, v := range form {
		values.Set(k, v)
	}
	return values.Encode()
}

func bodyString(body any) string {
	switch b := body.(type) {
	case string:
		return b
	case []byte:
		return string(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
