// Package rpc is the HTTP transport for the update methods. Every method is
// a POST of a JSON body to <endpoint>/<method>; results use the tl wire
// codec.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/tl"
)

const (
	methodGetState             = "updates.getState"
	methodGetDifference        = "updates.getDifference"
	methodGetChannelDifference = "updates.getChannelDifference"
	methodGetConfig            = "help.getConfig"
)

// Retry defaults.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 100 * time.Millisecond
	DefaultMaxDelay   = 2 * time.Second
)

// HTTPError is a non-retryable error response.
type HTTPError struct {
	Method     string
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: http %d %s: %s", e.Method, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: http %d", e.Method, e.StatusCode)
}

// Client implements the engine's Transport over HTTP.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Opt configures a Client.
type Opt func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Opt {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetries sets how often transient failures are retried and the
// backoff bounds.
func WithRetries(maxRetries int, baseDelay, maxDelay time.Duration) Opt {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// New creates a client for endpoint.
func New(endpoint, token string, opts ...Opt) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zap.NewNop(),
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxDelay:   DefaultMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) GetState(ctx context.Context) (tl.UpdatesState, error) {
	data, err := c.call(ctx, methodGetState, struct{}{})
	if err != nil {
		return tl.UpdatesState{}, err
	}
	return tl.DecodeState(data)
}

func (c *Client) GetDifference(ctx context.Context, req tl.GetDifferenceRequest) (tl.DifferenceResult, error) {
	data, err := c.call(ctx, methodGetDifference, req)
	if err != nil {
		return nil, err
	}
	return tl.DecodeDifference(data)
}

func (c *Client) GetChannelDifference(ctx context.Context, req tl.GetChannelDifferenceRequest) (tl.ChannelDifferenceResult, error) {
	data, err := c.call(ctx, methodGetChannelDifference, req)
	if err != nil {
		return nil, err
	}
	return tl.DecodeChannelDifference(data)
}

func (c *Client) GetConfig(ctx context.Context) (tl.Config, error) {
	data, err := c.call(ctx, methodGetConfig, struct{}{})
	if err != nil {
		return tl.Config{}, err
	}
	return tl.DecodeConfig(data)
}

// call posts body to method and returns the response payload. Network
// errors, 429 and 5xx are retried with exponential backoff.
func (c *Client) call(ctx context.Context, method string, body any) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", method, err)
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+method, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries && ctx.Err() == nil {
				c.logger.Debug("rpc failed, retrying",
					zap.String("method", method),
					zap.Int("attempt", attempt+1),
					zap.Error(err),
				)
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("%s: read response: %w", method, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return payload, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			c.logger.Debug("rpc rejected, retrying",
				zap.String("method", method),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		return nil, &HTTPError{
			Method:     method,
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, maxDelay)
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
