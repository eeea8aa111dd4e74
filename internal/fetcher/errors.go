package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNotImage is returned when a response body is not a decodable image
// and the fetcher was configured to require one.
var ErrNotImage = errors.New("response is not an image")

// StatusError represents a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
}

// IsRetryable checks if err is transient under the given status allow-list.
// Status errors outside the list (404, 403, ...) are permanent.
func IsRetryable(err error, statuses []int) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		for _, s := range statuses {
			if statusErr.StatusCode == s {
				return true
			}
		}
		return false
	}

	if errors.Is(err, ErrNotImage) || errors.Is(err, context.Canceled) {
		return false
	}

	// Per-attempt timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Transport errors that do not implement net.Error
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "eof") {
		return true
	}

	return false
}

// parseRetryAfter reads a Retry-After header given as seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
