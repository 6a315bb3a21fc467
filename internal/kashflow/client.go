package kashflow

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"go.uber.org/ratelimit"
	"golang.org/x/oauth2"

	"github.com/Kamar-Folarin/kashflow-sync/internal/config"
	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
)

// StatusError is a non-2xx response from the KashFlow API
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("KashFlow API error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("KashFlow API error (status %d): %s", e.StatusCode, e.Body)
}

// Client is an authenticated, rate limited KashFlow API client
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *SessionTokenSource
	limiter ratelimit.Limiter
	retry   config.RateLimitConfig
	clock   clock.Clock
	logger  *logrus.Logger
}

// ClientOption allows configuring the KashFlow client
type ClientOption func(*clientOptions)

type clientOptions struct {
	base  http.RoundTripper
	clock clock.Clock
	retry *config.RateLimitConfig
}

// WithTransport sets the RoundTripper used below the auth layer
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(o *clientOptions) { o.base = rt }
}

// WithClock sets the clock used for token expiry and Retry-After dates
func WithClock(clk clock.Clock) ClientOption {
	return func(o *clientOptions) { o.clock = clk }
}

// WithRetryConfig overrides the retry behaviour
func WithRetryConfig(cfg config.RateLimitConfig) ClientOption {
	return func(o *clientOptions) { o.retry = &cfg }
}

// NewClient creates a new KashFlow client
func NewClient(cfg *config.KashFlowConfig, logger *logrus.Logger, opts ...ClientOption) *Client {
	o := clientOptions{base: http.DefaultTransport, clock: clock.WallClock}
	for _, opt := range opts {
		opt(&o)
	}
	retry := cfg.RateLimit
	if o.retry != nil {
		retry = *o.retry
	}

	tokens := NewSessionTokenSource(cfg, &http.Client{Transport: o.base, Timeout: cfg.Timeout}, o.clock, logger)
	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: tokens, Base: o.base},
		Timeout:   cfg.Timeout,
	}

	limiter := ratelimit.NewUnlimited()
	if retry.RequestsPerSecond > 0 {
		limiter = ratelimit.New(retry.RequestsPerSecond)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		limiter: limiter,
		retry:   retry,
		clock:   o.clock,
		logger:  logger,
	}
}

// Tokens returns the session token source
func (c *Client) Tokens() *SessionTokenSource { return c.tokens }

// Get performs a GET with retries and returns the decoded JSON body. 5xx,
// 429 and network failures are retried with exponential backoff; other
// errors abort at once.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (any, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retry.InitialBackoff
	exp.Multiplier = c.retry.RetryMultiplier
	exp.MaxInterval = c.retry.MaxBackoff
	exp.MaxElapsedTime = 0
	if exp.Multiplier < 1 {
		exp.Multiplier = 2
	}

	retries := max(c.retry.MaxRetries, 0)
	b := &retryAfterBackOff{BackOff: backoff.WithMaxRetries(exp, uint64(retries))}

	var (
		result  any
		attempt int
	)
	op := func() error {
		attempt++
		c.limiter.Take()

		res, err := c.do(ctx, path, query)
		if err == nil {
			result = res
			return nil
		}

		var se *StatusError
		if stderrors.As(err, &se) && se.RetryAfter > 0 {
			b.pending = se.RetryAfter
		}
		if !errors.IsRetriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"path":    path,
			"attempt": attempt,
			"wait":    wait.String(),
			"error":   err.Error(),
		}).Warn("KashFlow request failed, retrying")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, path string, query url.Values) (any, error) {
	op := "GET " + path

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.NewFetchError(errors.KindFatal, op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewFetchError(errors.KindRetriable, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			c.tokens.Invalidate()
		case http.StatusTooManyRequests:
			se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now(), c.retry.MinRetryAfter)
		}
		return nil, errors.NewFetchError(classifyStatus(resp.StatusCode), op, se)
	}

	var out any
	if len(body) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.NewFetchError(errors.KindFatal, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return out, nil
}

// classifyStatus maps an HTTP status to a retry classification
func classifyStatus(code int) errors.FetchErrorKind {
	if code >= 500 || code == http.StatusTooManyRequests {
		return errors.KindRetriable
	}
	return errors.KindFatal
}

// classifyTransportError keeps the classification of login failures and
// treats other transport errors as retriable unless ctx is done.
func classifyTransportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return errors.NewFetchError(errors.KindFatal, op, ctx.Err())
	}
	var fe *errors.FetchError
	if stderrors.As(err, &fe) {
		return errors.NewFetchError(fe.Kind, op, err)
	}
	if errors.IsInvalidInput(err) {
		return errors.NewFetchError(errors.KindFatal, op, err)
	}
	return errors.NewFetchError(errors.KindRetriable, op, err)
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP date form.
// The result is never below floor.
func parseRetryAfter(header string, now time.Time, floor time.Duration) time.Duration {
	wait := floor
	header = strings.TrimSpace(header)
	if header == "" {
		return wait
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if d := time.Duration(secs) * time.Second; d > wait {
			wait = d
		}
		return wait
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := when.Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// retryAfterBackOff lets a server supplied Retry-After stretch the next wait
type retryAfterBackOff struct {
	backoff.BackOff
	pending time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if b.pending > next {
		next = b.pending
	}
	b.pending = 0
	return next
}

func (b *retryAfterBackOff) Reset() {
	b.pending = 0
	b.BackOff.Reset()
}
