// Package transport is the pass-through client to the content proxy.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"docgraph/domain/core/entities"
	"docgraph/internal/observability"
	apperrors "docgraph/pkg/errors"
)

const serviceName = "content-api"

// maxBodyBytes caps a single response body
const maxBodyBytes = 64 << 20

// Config configures the client
type Config struct {
	BaseURL          string
	Token            string
	Timeout          time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	FailureRatio     float64
	OpenDuration     time.Duration
}

// Client talks to the content proxy. Every call passes through one circuit
// breaker; transient failures are retried with jittered backoff.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	retries uint
	backoff time.Duration
	logger  *zap.Logger
	metrics *observability.Collector
}

type documentList struct {
	Documents []entities.Document `json:"documents"`
}

type documentContent struct {
	Content []entities.ContentBlock `json:"content"`
}

// statusError is a non-2xx response
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

func (e *statusError) retryable() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

// NewClient creates a content proxy client
func NewClient(cfg Config, logger *zap.Logger, metrics *observability.Collector) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperrors.NewValidationError("invalid content API url").WithDetail("url", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 1
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}

	c := &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		retries: uint(cfg.RetryMaxAttempts),
		backoff: cfg.RetryBaseDelay,
		logger:  logger,
		metrics: metrics,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        serviceName,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.SetBreakerState(name, int(to))
		},
		IsSuccessful: func(err error) bool {
			// the caller giving up says nothing about upstream health
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var se *statusError
			if errors.As(err, &se) {
				return !se.retryable()
			}
			return false
		},
	})
	return c, nil
}

// ListDocuments returns the document roster
func (c *Client) ListDocuments(ctx context.Context) ([]entities.Document, error) {
	var out documentList
	if err := c.get(ctx, "documents", &out); err != nil {
		return nil, err
	}
	if out.Documents == nil {
		out.Documents = []entities.Document{}
	}
	return out.Documents, nil
}

// FetchDocumentContent returns the content tree of one document
func (c *Client) FetchDocumentContent(ctx context.Context, documentID string) ([]entities.ContentBlock, error) {
	if documentID == "" {
		return nil, apperrors.NewValidationError("document id is required")
	}
	var out documentContent
	if err := c.get(ctx, "documents/"+url.PathEscape(documentID)+"/content", &out); err != nil {
		return nil, err
	}
	if out.Content == nil {
		out.Content = []entities.ContentBlock{}
	}
	return out.Content, nil
}

// FolderMembership returns the document to folder assignments
func (c *Client) FolderMembership(ctx context.Context) (entities.FolderMembership, error) {
	var out entities.FolderMembership
	if err := c.get(ctx, "folders", &out); err != nil {
		return entities.FolderMembership{}, err
	}
	if out.DocumentFolders == nil {
		out.DocumentFolders = map[string]string{}
	}
	return out, nil
}

// BreakerState reports the circuit breaker state
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	target := c.baseURL.JoinPath(path).String()

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, target)
		})
		if err != nil {
			if !c.retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return result.([]byte), nil
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.retries),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			c.logger.Debug("Retrying content request",
				zap.String("path", path),
				zap.Duration("delay", delay),
				zap.Error(err))
		}),
	)
	if err != nil {
		return c.classify(path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewExternalError(serviceName, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// newBackOff returns a fresh exponential schedule starting at the
// configured base delay
func (c *Client) newBackOff() backoff.BackOff {
	if c.backoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxInterval = 32 * c.backoff
	return b
}

func (c *Client) do(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &statusError{status: resp.StatusCode, body: snippet}
	}
	return body, nil
}

// retryable reports whether a failed attempt may succeed when repeated.
// An open breaker and client errors other than throttling are final.
func (c *Client) retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return true
}

func (c *Client) classify(path string, err error) error {
	var se *statusError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return apperrors.NewUnavailableError(serviceName).WithCause(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewTimeoutError(serviceName + " request").WithCause(err)
	case errors.As(err, &se) && se.status == http.StatusNotFound:
		return apperrors.NewNotFoundError(path).WithCause(err)
	case errors.As(err, &se):
		return apperrors.NewExternalError(serviceName, err).WithDetail("status", se.status)
	default:
		return apperrors.NewNetworkError("content API unreachable", err)
	}
}
