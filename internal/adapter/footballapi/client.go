// Package footballapi is the HTTP client for the football REST backend: admin
// login, the admin match listing and the broadcast trigger.
package footballapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/jonboulle/clockwork"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
	"github.com/tsntt/footballdash/internal/domain"
	"github.com/tsntt/footballdash/internal/platform/retry"
	"github.com/tsntt/footballdash/internal/platform/version"
)

const maxErrorBody = 1 << 10

// ErrUnreachable marks requests that got no HTTP answer from the backend.
var ErrUnreachable = errors.New("football api unreachable")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("football api: %s", e.Status)
	}
	return fmt.Sprintf("football api: %s: %s", e.Status, e.Body)
}

// ClientError reports a 4xx answer. Those are never retried.
func (e *APIError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	Retry   retry.Policy
	Clock   clockwork.Clock
}

// DefaultRetryPolicy retries listing reads three times with backoff doubling
// from one second and capped at 30 seconds.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:      4,
		InitialBackoff:   time.Second,
		MaxBackoff:       30 * time.Second,
		RateLimitBackoff: 5 * time.Second,
	}
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker circuitbreaker.CircuitBreaker[any]
	retry   retry.Policy
	metrics *metrics.UpstreamMetrics

	mu    sync.RWMutex
	token string
}

// NewClient builds a backend client. m may be nil.
func NewClient(cfg Config, m *metrics.UpstreamMetrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Retry.Clock == nil {
		cfg.Retry.Clock = cfg.Clock
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		retry:   cfg.Retry,
		metrics: m,
	}
	c.retry.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Retrying football api request", "attempt", attempt, "backoff", backoff, "error", err)
	}
	c.breaker = circuitbreaker.Builder[any]().
		WithFailureRateThreshold(0.6, 5, 30*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "football_api",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			if c.metrics != nil {
				c.metrics.BreakerTrips.WithLabelValues(e.NewState.String()).Inc()
				c.metrics.BreakerState.Set(stateToFloat(e.NewState))
			}
		}).
		Build()
	return c
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return 0
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a token. The token is not stored; callers
// decide whether to SetToken.
func (c *Client) Login(ctx context.Context, name, password string) (string, error) {
	var resp loginResponse
	if err := c.do(ctx, "login", http.MethodPost, "/auth/login", loginRequest{Name: name, Password: password}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("football api: login returned an empty token")
	}
	return resp.Token, nil
}

// GetAdminMatches fetches the admin listing, retrying transient failures.
func (c *Client) GetAdminMatches(ctx context.Context) ([]domain.Match, error) {
	return retry.Do(ctx, c.retry, classify, func(ctx context.Context) ([]domain.Match, error) {
		var matches []domain.Match
		if err := c.do(ctx, "admin_matches", http.MethodGet, "/admin/", nil, &matches); err != nil {
			return nil, err
		}
		return matches, nil
	})
}

// BroadcastMatch starts a broadcast job. It is sent exactly once.
func (c *Client) BroadcastMatch(ctx context.Context, matchID int) (*domain.BroadcastResponse, error) {
	var resp domain.BroadcastResponse
	path := "/admin/broadcast/" + strconv.Itoa(matchID)
	if err := c.do(ctx, "broadcast", http.MethodPost, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func classify(err error) retry.Action {
	var apiErr *APIError
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, context.Canceled):
		return retry.Stop
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case errors.As(err, &apiErr) && apiErr.ClientError():
		return retry.Stop
	default:
		return retry.Retry
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if !c.breaker.TryAcquirePermit() {
		c.count(op, "breaker_open")
		return fmt.Errorf("football api %s: %w", op, circuitbreaker.ErrOpen)
	}

	start := time.Now()
	err := c.roundTrip(ctx, method, path, body, out)
	if c.metrics != nil {
		c.metrics.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}

	var apiErr *APIError
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
		c.count(op, "2xx")
	case errors.As(err, &apiErr):
		c.count(op, strconv.Itoa(apiErr.StatusCode/100)+"xx")
		if apiErr.ClientError() {
			c.breaker.RecordSuccess()
		} else {
			c.breaker.RecordError(err)
		}
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		// The caller gave up, e.g. a listing refresh aborted by a trigger.
		c.count(op, "canceled")
		c.breaker.RecordSuccess()
	default:
		c.count(op, "transport_error")
		c.breaker.RecordError(err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) count(op, status string) {
	if c.metrics != nil {
		c.metrics.Requests.WithLabelValues(op, status).Inc()
	}
}
