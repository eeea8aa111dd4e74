package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/local/pagegrab/internal/metrics"
)

// Options configures the retrying client.
type Options struct {
	// Timeout bounds a single attempt, not the whole retry budget.
	Timeout       time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffFactor float64
	MaxBackoff    time.Duration
	// Jitter is the backoff randomization factor in [0,1).
	Jitter        float64
	RetryStatuses []int
	UserAgent     string
	// MaxBodyBytes caps a response body; zero means 64 MiB.
	MaxBodyBytes int64
}

// Response is a successful GET.
type Response struct {
	Body        []byte
	ContentType string
	Attempts    int
}

// Client performs GET requests with exponential backoff.
type Client struct {
	http *http.Client
	opts Options
}

// NewClient applies defaults to opts. A nil hc uses a fresh http.Client.
func NewClient(hc *http.Client, opts Options) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 100 * time.Millisecond
	}
	if opts.BackoffFactor < 1 {
		opts.BackoffFactor = 2
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.RetryStatuses == nil {
		opts.RetryStatuses = []int{429, 500, 502, 503, 504}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	return &Client{http: hc, opts: opts}
}

// Get fetches url, retrying transient failures. The returned error is the
// last attempt's error; Response.Attempts is set in both cases.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	var (
		resp     *Response
		attempts int
		hint     retryHint
	)

	op := func() error {
		attempts++
		r, err := c.attempt(ctx, url)
		if err == nil {
			resp = r
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if !IsRetryable(err, c.opts.RetryStatuses) {
			return backoff.Permanent(err)
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			hint.set(statusErr.RetryAfter)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		metrics.IncRetry()
		log.Ctx(ctx).Debug().Err(err).Str("url", url).Int("attempt", attempts).Dur("wait", wait).Msg("retrying fetch")
	}

	err := backoff.RetryNotify(op, c.newBackOff(ctx, &hint), notify)
	if err != nil {
		return &Response{Attempts: attempts}, err
	}
	resp.Attempts = attempts
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, url string) (*Response, error) {
	actx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		return nil, &StatusError{
			StatusCode: res.StatusCode,
			Status:     res.Status,
			URL:        url,
			RetryAfter: parseRetryAfter(res.Header.Get("Retry-After"), time.Now()),
		}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, c.opts.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.opts.MaxBodyBytes {
		return nil, fmt.Errorf("body of %s exceeds %d bytes", url, c.opts.MaxBodyBytes)
	}
	return &Response{Body: body, ContentType: res.Header.Get("Content-Type")}, nil
}

func (c *Client) newBackOff(ctx context.Context, hint *retryHint) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.BackoffBase
	eb.Multiplier = c.opts.BackoffFactor
	eb.RandomizationFactor = c.opts.Jitter
	eb.MaxInterval = c.opts.MaxBackoff
	eb.MaxElapsedTime = 0
	eb.Reset()

	var b backoff.BackOff = &retryAfterBackOff{BackOff: eb, hint: hint, max: c.opts.MaxBackoff}
	b = backoff.WithMaxRetries(b, uint64(c.opts.MaxAttempts-1))
	return backoff.WithContext(b, ctx)
}

// retryHint carries a server-provided Retry-After from the failed attempt
// to the next backoff computation.
type retryHint struct {
	d time.Duration
}

func (h *retryHint) set(d time.Duration) { h.d = d }

func (h *retryHint) take() time.Duration {
	d := h.d
	h.d = 0
	return d
}

// retryAfterBackOff waits at least the server's Retry-After, capped at max.
type retryAfterBackOff struct {
	backoff.BackOff
	hint *retryHint
	max  time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	if ra := b.hint.take(); ra > next {
		if ra > b.max {
			ra = b.max
		}
		if ra > next {
			next = ra
		}
	}
	return next
}
