// Package fetch provides the retrying HTTP session shared by every data
// source. One Session wraps one host's access pattern: bounded retries with
// exponential backoff and jitter, optional request pacing, randomized
// per-attempt timeouts, and typed decode helpers.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultMaxBody caps how much of a response body is read.
const DefaultMaxBody = 256 << 20

// Policy controls retry timing. The wait before attempt n+1 is
// Scale * BackoffBase^n, capped, plus uniform jitter in [-Jitter, +Jitter],
// floored at MinWait.
type Policy struct {
	MaxRetries  int           // total attempts per request
	BackoffBase float64       // exponential growth factor
	Scale       time.Duration // multiplier on the exponential term
	BackoffCap  time.Duration // cap applied before jitter
	Jitter      time.Duration // uniform +- noise on the wait
	MinWait     time.Duration // floor applied after jitter
}

// DefaultPolicy matches the retry behaviour the statistics sources tolerate
// well: six attempts, 1.8^n seconds capped at a minute.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:  6,
		BackoffBase: 1.8,
		Scale:       time.Second,
		BackoffCap:  60 * time.Second,
		Jitter:      400 * time.Millisecond,
		MinWait:     200 * time.Millisecond,
	}
}

// Wait returns the backoff before retrying after failed attempt n (0-based).
func (p Policy) Wait(attempt int) time.Duration {
	base := p.BackoffBase
	if base <= 1 {
		base = 2
	}
	scale := p.Scale
	if scale <= 0 {
		scale = time.Second
	}

	w := time.Duration(float64(scale) * math.Pow(base, float64(attempt)))
	if p.BackoffCap > 0 && w > p.BackoffCap {
		w = p.BackoffCap
	}
	if p.Jitter > 0 {
		w += time.Duration((rand.Float64()*2 - 1) * float64(p.Jitter))
	}
	if w < p.MinWait {
		w = p.MinWait
	}
	return w
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Timeout is the base per-request timeout. Each attempt gets Timeout
	// plus a random slice of TimeoutSpread, so a flaky endpoint sees
	// slightly different deadlines instead of failing identically.
	Timeout       time.Duration
	TimeoutSpread time.Duration

	Policy Policy

	// RequestsPerSecond paces all attempts through one limiter.
	// Zero or negative disables pacing.
	RequestsPerSecond float64

	// RedactParam names a query parameter whose value is masked in log
	// output. Sources that authenticate through the query string set it
	// so credentials stay out of logs.
	RedactParam string

	UserAgent string
	MaxBody   int64
}

// Session is a retrying HTTP client bound to one source.
type Session struct {
	client  *http.Client
	cfg     SessionConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSession builds a Session. A nil logger defaults to zap.NewNop.
func NewSession(cfg SessionConfig, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.TimeoutSpread < 0 {
		cfg.TimeoutSpread = 0
	}
	if cfg.Policy.MaxRetries <= 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Session{
		// Per-attempt deadlines come from the request context, not the
		// client, so each attempt can carry its own.
		client:  &http.Client{},
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string // excerpt for logs, capped

	retryAt time.Duration // parsed Retry-After hint, zero if absent
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %s", e.Status)
	}
	return fmt.Sprintf("unexpected status %s: %s", e.Status, e.Body)
}

// IsStatus reports whether err carries the given HTTP status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	}
	return false
}

// Do performs one logical request with retries. The request body, if any, is
// replayed from body on every attempt. On success the caller owns the
// response body.
func (s *Session) Do(ctx context.Context, method, rawurl string, header http.Header, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < s.cfg.Policy.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := s.cfg.Policy.Wait(attempt - 1)
			var se *StatusError
			if errors.As(lastErr, &se) && se.retryAt > wait {
				// Rate-limit hints win over the computed backoff.
				wait = se.retryAt
			}
			s.logger.Warn("retrying request",
				zap.String("url", s.redact(rawurl)),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := s.attempt(ctx, method, rawurl, header, body)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se *StatusError
		if errors.As(err, &se) && !retryableStatus(se.StatusCode) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Session) attempt(ctx context.Context, method, rawurl string, header http.Header, body []byte) (*http.Response, error) {
	timeout := s.cfg.Timeout
	if s.cfg.TimeoutSpread > 0 {
		timeout += time.Duration(rand.Int63n(int64(s.cfg.TimeoutSpread)))
	}
	actx, cancel := context.WithTimeout(ctx, timeout)

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(actx, method, rawurl, rd)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(excerpt)),
			retryAt:    parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	// The attempt context must outlive the handoff; it is cancelled when the
	// caller closes the body.
	resp.Body = &attemptBody{
		r:      io.LimitReader(resp.Body, s.cfg.MaxBody),
		body:   resp.Body,
		cancel: cancel,
	}
	return resp, nil
}

type attemptBody struct {
	r      io.Reader
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (b *attemptBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *attemptBody) Close() error {
	err := b.body.Close()
	b.cancel()
	return err
}

// GetJSON issues a GET and decodes the JSON response into v.
func (s *Session) GetJSON(ctx context.Context, rawurl string, params url.Values, v any) error {
	u, err := withParams(rawurl, params)
	if err != nil {
		return err
	}
	h := http.Header{}
	h.Set("Accept", "application/json")
	resp, err := s.Do(ctx, http.MethodGet, u, h, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawurl, err)
	}
	return nil
}

// PostJSON issues a POST with a JSON payload and decodes the JSON response
// into v. A nil v discards the body.
func (s *Session) PostJSON(ctx context.Context, rawurl string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	resp, err := s.Do(ctx, http.MethodPost, rawurl, h, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawurl, err)
	}
	return nil
}

// PostForText issues a POST with a JSON payload and returns the raw body,
// for endpoints that answer JSON queries with CSV.
func (s *Session) PostForText(ctx context.Context, rawurl string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	resp, err := s.Do(ctx, http.MethodPost, rawurl, h, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response from %s: %w", rawurl, err)
	}
	return string(data), nil
}

// GetText issues a GET and returns the raw body as a string.
func (s *Session) GetText(ctx context.Context, rawurl string, params url.Values) (string, error) {
	data, err := s.GetBytes(ctx, rawurl, params)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetBytes issues a GET and returns the raw body.
func (s *Session) GetBytes(ctx context.Context, rawurl string, params url.Values) ([]byte, error) {
	u, err := withParams(rawurl, params)
	if err != nil {
		return nil, err
	}
	resp, err := s.Do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", rawurl, err)
	}
	return data, nil
}

// redact masks the configured query parameter's value in a URL headed
// for a log line.
func (s *Session) redact(rawurl string) string {
	if s.cfg.RedactParam == "" {
		return rawurl
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return rawurl
	}
	q := u.Query()
	if q.Has(s.cfg.RedactParam) {
		q.Set(s.cfg.RedactParam, "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func withParams(rawurl string, params url.Values) (string, error) {
	if len(params) == 0 {
		return rawurl, nil
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", fmt.Errorf("bad url %s: %w", rawurl, err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
