// Package fetch retrieves pages over HTTP with caching, retries, and a shared
// request rate limit.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"lloydsdigest/internal/core"
	"lloydsdigest/internal/logger"
)

const (
	UserAgent          = "lloyds-digest/0.1"
	DefaultTimeout     = 20 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 8 * time.Second
	// MaxBodyBytes bounds how much of a response body is read.
	MaxBodyBytes = 10 << 20
	// Name identifies this fetcher in cache keys.
	Name = "http"
)

// ErrFetch wraps every failed fetch.
var ErrFetch = errors.New("fetch failed")

// StatusError is returned for a non-success HTTP status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Cache stores fetched documents. Both storage backends implement it, as
// does RedisCache.
type Cache interface {
	GetFetch(ctx context.Context, key string) (*core.FetchResult, error)
	PutFetch(ctx context.Context, key string, result core.FetchResult) error
}

// Options configures a Fetcher. Zero values take the package defaults.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// RequestsPerSecond limits outgoing requests; 0 disables limiting.
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

// Fetcher performs HTTP GETs.
type Fetcher struct {
	client  *http.Client
	cache   Cache
	limiter *rate.Limiter
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	log     *slog.Logger
}

// New creates a Fetcher. cache may be nil.
func New(opts Options, cache Cache) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = DefaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.UserAgent == "" {
		opts.UserAgent = UserAgent
	}

	f := &Fetcher{
		client: &http.Client{Timeout: opts.Timeout},
		cache:  cache,
		opts:   opts,
		sleep:  sleepContext,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.Get(),
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return f
}

// WithClient replaces the HTTP client.
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

// Fetch returns the body of rawURL. On failure the returned result carries
// the error text and the error wraps ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (core.FetchResult, error) {
	key := CacheKey(Name, rawURL)
	if f.cache != nil {
		cached, err := f.cache.GetFetch(ctx, key)
		if err != nil {
			f.log.Warn("Fetch cache read failed", "url", rawURL, "error", err.Error())
		} else if cached != nil {
			cached.FromCache = true
			return *cached, nil
		}
	}

	started := f.now()
	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := f.sleep(ctx, f.backoff(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}

		result, err := f.get(ctx, rawURL)
		if err == nil {
			result.FetchedAt = started
			if f.cache != nil {
				if err := f.cache.PutFetch(ctx, key, result); err != nil {
					f.log.Warn("Fetch cache write failed", "url", rawURL, "error", err.Error())
				}
			}
			return result, nil
		}

		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
		f.log.Debug("Retrying fetch", "url", rawURL, "attempt", attempt, "error", err.Error())
	}

	result := core.FetchResult{URL: rawURL, FetchedAt: started, Error: lastErr.Error()}
	var statusErr *StatusError
	if errors.As(lastErr, &statusErr) {
		result.StatusCode = statusErr.StatusCode
	}
	return result, fmt.Errorf("%w: %s: %w", ErrFetch, rawURL, lastErr)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (core.FetchResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return core.FetchResult{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return core.FetchResult{}, &permanentError{err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return core.FetchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return core.FetchResult{}, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return core.FetchResult{}, fmt.Errorf("failed to read response body: %w", err)
	}
	return core.FetchResult{
		URL:        resp.Request.URL.String(),
		Content:    body,
		StatusCode: resp.StatusCode,
	}, nil
}

// backoff returns base * 2^(n-1), capped at MaxBackoff.
func (f *Fetcher) backoff(n int) time.Duration {
	d := f.opts.BaseBackoff << (n - 1)
	if d <= 0 || d > f.opts.MaxBackoff {
		return f.opts.MaxBackoff
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// retryable reports whether a failed GET should be tried again: transport
// errors and 5xx responses are, 4xx responses and bad requests are not.
func retryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
