// Package renderer implements the Document Renderer client. The renderer
// turns (user, course, score) into a certificate document and returns an
// opaque reference to it.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coursehub/certification-hub/pkg/circuitbreaker"
	"github.com/coursehub/certification-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the renderer client.
type ClientConfig struct {
	// BaseURL is the renderer API base URL
	BaseURL string

	// APIKey is sent as a bearer token when set
	APIKey string

	// Timeout is the per-request HTTP timeout
	Timeout time.Duration

	// MaxAttempts bounds render attempts, including the first
	MaxAttempts int

	// RetryBaseDelay and RetryMaxDelay shape the exponential backoff
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// BreakerThreshold is the consecutive failure count that opens the breaker
	BreakerThreshold int

	// BreakerTimeout is how long the breaker stays open
	BreakerTimeout time.Duration

	// HTTPClient overrides the default client (tests)
	HTTPClient *http.Client

	// Logger for structured logging
	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:          baseURL,
		Timeout:          10 * time.Second,
		MaxAttempts:      4,
		RetryBaseDelay:   250 * time.Millisecond,
		RetryMaxDelay:    5 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// StatusError is a non-2xx renderer response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("renderer: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("renderer: status %d", e.StatusCode)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ErrEmptyReference is returned when the renderer answers 2xx without a
// document reference.
var ErrEmptyReference = errors.New("renderer: empty document reference")

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client talks to the renderer over HTTP. Render is retried with backoff
// behind a circuit breaker; only transient failures (network, 429, 5xx)
// count against the breaker.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	retrier    *retry.Retrier
	logger     *slog.Logger
}

// NewClient creates a new renderer client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	logger := config.Logger.With("component", "renderer_client")

	c := &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}

	c.breaker = circuitbreaker.RendererBreaker(
		retry.IsRetryable,
		func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		circuitbreaker.WithFailureThreshold(config.BreakerThreshold),
		circuitbreaker.WithTimeout(config.BreakerTimeout),
	)

	c.retrier = retry.RendererRetrier(
		retry.WithMaxAttempts(config.MaxAttempts),
		retry.WithInitialDelay(config.RetryBaseDelay),
		retry.WithMaxDelay(config.RetryMaxDelay),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Warn("render attempt failed, retrying",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}),
	)

	return c
}

type renderRequest struct {
	UserID          string  `json:"user_id"`
	CourseID        string  `json:"course_id"`
	ScorePercentage float64 `json:"score_percentage"`
}

type renderResponse struct {
	DocumentRef string `json:"document_ref"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Render produces the certificate document and returns its reference.
func (c *Client) Render(ctx context.Context, userID, courseID string, scorePercentage float64) (string, error) {
	body := renderRequest{UserID: userID, CourseID: courseID, ScorePercentage: scorePercentage}

	ref, err := retry.DoWithData(ctx, c.retrier, func(ctx context.Context) (string, error) {
		ref, err := circuitbreaker.ExecuteWithResult(ctx, c.breaker, func(ctx context.Context) (string, error) {
			var resp renderResponse
			if err := c.do(ctx, http.MethodPost, "/v1/render", body, &resp); err != nil {
				return "", err
			}
			if resp.DocumentRef == "" {
				return "", retry.Permanent(ErrEmptyReference)
			}
			return resp.DocumentRef, nil
		})
		if circuitbreaker.IsRejected(err) {
			return "", retry.Permanent(err)
		}
		return ref, err
	})
	if err != nil {
		return "", fmt.Errorf("render certificate for %s/%s: %w", userID, courseID, err)
	}
	return ref, nil
}

// Discard deletes a rendered document. A document that is already gone is
// not an error.
func (c *Client) Discard(ctx context.Context, documentRef string) error {
	path := "/v1/documents?ref=" + url.QueryEscape(documentRef)

	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("discard document: %w", err)
	}
	return nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

// Available reports whether render calls are currently let through.
func (c *Client) Available() bool {
	return c.breaker.State() != circuitbreaker.StateOpen
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// do performs one request. Returned errors are marked retry.Retryable or
// retry.Permanent.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal body: %w", err))
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil {
			statusErr.Message = apiErr.Message
			if statusErr.Message == "" {
				statusErr.Message = apiErr.Error
			}
		}
		if statusErr.Temporary() {
			return retry.Retryable(statusErr)
		}
		return retry.Permanent(statusErr)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
	}

	return nil
}
