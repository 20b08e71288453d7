package httputil

import (
	"context"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/ro-control/ro-control/internal/logging"
)

var log = logging.L("httputil")

// RetryConfig controls how a failed GET is repeated. Only network errors and
// transient statuses are retried.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // delay is randomized by up to ±JitterFrac of itself
}

// DefaultRetryConfig retries once after roughly half a second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    1,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// NoRetry makes a single attempt.
func NoRetry() RetryConfig {
	return RetryConfig{}
}

// backoff returns the wait before retry number n, starting at 1.
func (cfg RetryConfig) backoff(n int) time.Duration {
	factor := math.Max(cfg.BackoffFactor, 1)
	d := time.Duration(float64(cfg.InitialDelay) * math.Pow(factor, float64(n-1)))
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return applyJitter(d, cfg.JitterFrac)
}

func transient(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// fetch sends req until it gets a non-transient response or runs out of
// retries. The caller closes the returned body.
func (c *Client) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	var last error
	for n := 0; n <= c.retry.MaxRetries; n++ {
		if n > 0 {
			wait := c.retry.backoff(n)
			log.Debug("retrying request", "url", req.URL.Redacted(), "attempt", n, "delay", wait)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		resp, err := c.http.Do(req.Clone(ctx))
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, err
			}
			last = err
		case transient(resp.StatusCode):
			resp.Body.Close()
			last = &StatusError{StatusCode: resp.StatusCode, URL: req.URL.String()}
		default:
			return resp, nil
		}
	}
	return nil, last
}

// applyJitter moves d by a random amount within ±frac of d.
func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	shift := float64(d) * frac * (2*rand.Float64() - 1)
	return max(time.Duration(float64(d)+shift), 0)
}
