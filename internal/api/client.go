package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/colthorp/bookingsync-go/internal/core"
	"github.com/colthorp/bookingsync-go/internal/logging"
	"github.com/colthorp/bookingsync-go/internal/metrics"
)

// APIError is returned when the backend answers with HTTP >= 400.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// ClientConfig configures Client.
type ClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64 // requests per second; <= 0 disables limiting
	RateBurst  int

	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
	// Sleep overrides the back-off sleep (tests).
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client is the HTTP Transport for the booking backend. It adds the bearer
// token, limits the request rate, retries 5xx/429 with exponential back-off
// and sheds load through a circuit breaker when the backend keeps failing.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	log        zerolog.Logger
}

const breakerName = "booking-api"

// NewClient creates a new API client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = core.APIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = core.DefaultRequestTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = core.DefaultMaxRetries
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = core.DefaultRateBurst
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, cfg.RateBurst),
		log:        logging.Component("api"),
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors say nothing about backend health.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Temporary()
			}
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return c
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState returns the circuit breaker's current state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Do performs the request and returns the response body.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		return c.doWithRetry(ctx, req)
	})
}

func (c *Client) buildURL(req Request) string {
	urlStr := fmt.Sprintf("%s/%s", c.cfg.BaseURL, strings.TrimLeft(req.Endpoint, "/"))
	if len(req.Params) > 0 {
		q := url.Values{}
		for k, v := range req.Params {
			q.Set(k, v)
		}
		urlStr = fmt.Sprintf("%s?%s", urlStr, q.Encode())
	}
	return urlStr
}

// doWithRetry retries automatically on connection errors and HTTP 5xx or 429
// responses with exponential back-off. Writes are only retried when they
// carry an Idempotency-Key.
func (c *Client) doWithRetry(ctx context.Context, req Request) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	urlStr := c.buildURL(req)
	log := logging.Ctx(ctx).With().Str("component", "api").Str("method", method).Str("url", urlStr).Logger()

	retryable := method == http.MethodGet || req.Headers["Idempotency-Key"] != ""
	attempts := 1
	if retryable {
		attempts = c.cfg.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		log.Debug().Int("attempt", attempt).Msg("request")
		start := time.Now()
		body, wait, err := c.once(ctx, method, urlStr, req)
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		metrics.ObserveAPIRequest(method, outcome, time.Since(start))

		if err == nil {
			log.Debug().Int("bytes", len(body)).Msg("response")
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		temporary := !errors.As(err, &apiErr) || apiErr.Temporary()
		if !temporary || ctx.Err() != nil || attempt == attempts {
			break
		}
		if wait == 0 {
			wait = time.Duration(1<<(attempt-1)) * time.Second
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("request failed; retrying")
		if err := c.cfg.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// once performs a single HTTP round trip. The returned duration is a
// server-requested Retry-After, or zero.
func (c *Client) once(ctx context.Context, method, urlStr string, req Request) ([]byte, time.Duration, error) {
	var reader io.Reader
	if req.Body != nil {
		reader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		httpReq.Header.Set("X-Correlation-ID", id)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var wait time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
				wait = time.Duration(secs) * time.Second
			}
		}
		return nil, wait, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, 0, nil
}

// errorMessage extracts a readable message from an error body.
func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
