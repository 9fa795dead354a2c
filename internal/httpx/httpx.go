// Package httpx wraps outbound HTTP calls with bounded retries. It is used
// by the webhook notifier and the photo verification client, both of which
// talk to services that may be briefly unavailable.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StatusError carries the status and body of a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.URL, e.Status, trim(e.Body, 512))
}

func trim(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

// Retry controls attempt count and backoff. The zero value is usable and
// falls back to Defaults.
type Retry struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Defaults suit short sweep-driven calls: the scheduler re-runs every few
// minutes anyway, so long retry loops only delay the next tick.
func Defaults() Retry {
	return Retry{Attempts: 3, Base: 500 * time.Millisecond, Max: 5 * time.Second}
}

func (r Retry) normalized() Retry {
	d := Defaults()
	if r.Attempts <= 0 {
		r.Attempts = d.Attempts
	}
	if r.Base <= 0 {
		r.Base = d.Base
	}
	if r.Max <= 0 {
		r.Max = d.Max
	}
	return r
}

// Do executes the request produced by build, retrying transient network
// errors and retryable statuses (429 and 5xx). The response body is always
// drained so the transport can reuse connections. On a non-2xx final
// response the returned error is a *StatusError.
func Do(ctx context.Context, client *http.Client, build func(context.Context) (*http.Request, error), retry Retry) (int, []byte, error) {
	retry = retry.normalized()

	var lastErr error
	for attempt := 1; attempt <= retry.Attempts; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return 0, nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			if !transientErr(err) {
				return 0, nil, err
			}
			lastErr = err
			if err := backoff(ctx, attempt, retry, 0); err != nil {
				return 0, nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			if !transientErr(readErr) {
				return resp.StatusCode, body, readErr
			}
			lastErr = readErr
			if err := backoff(ctx, attempt, retry, 0); err != nil {
				return 0, nil, err
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.StatusCode, body, nil
		}

		serr := &StatusError{Method: req.Method, URL: req.URL.String(), Status: resp.StatusCode, Body: body}
		if !retryableStatus(resp.StatusCode) {
			return resp.StatusCode, body, serr
		}
		lastErr = serr
		if err := backoff(ctx, attempt, retry, retryAfter(resp)); err != nil {
			return 0, nil, err
		}
	}

	if lastErr == nil {
		lastErr = errors.New("httpx: no attempts made")
	}
	return 0, nil, lastErr
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

func backoff(ctx context.Context, attempt int, retry Retry, hinted time.Duration) error {
	if attempt >= retry.Attempts {
		return nil
	}
	d := hinted
	if d <= 0 {
		d = retry.Base * time.Duration(1<<(attempt-1))
		if d > retry.Max {
			d = retry.Max
		}
		d += time.Duration(rand.Intn(200)) * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func transientErr(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "eof")
}

func retryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
