package bitmex

import (
	"context"
	"time"

	"github.com/xyths/cryptoexchange/exchange"
)

// RetryConfig bounds the retries of transient failures (429, 503, timeouts,
// connection errors). Zero fields take the defaults.
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
	ReauthDelay     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialBackoff:  time.Second,
		MaxBackoff:      8 * time.Second,
		BackoffMultiple: 2,
		ReauthDelay:     time.Second,
	}
}

func (r RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = d.MaxAttempts
	}
	if r.InitialBackoff <= 0 {
		r.InitialBackoff = d.InitialBackoff
	}
	if r.MaxBackoff <= 0 {
		r.MaxBackoff = d.MaxBackoff
	}
	if r.MaxBackoff < r.InitialBackoff {
		r.MaxBackoff = r.InitialBackoff
	}
	if r.BackoffMultiple < 1 {
		r.BackoffMultiple = d.BackoffMultiple
	}
	if r.ReauthDelay <= 0 {
		r.ReauthDelay = d.ReauthDelay
	}
	return r
}

// retryState tracks one logical request across its attempts.
type retryState struct {
	cfg             RetryConfig
	attempts        int // sends, including the reauthenticated one
	transient       int
	next            time.Duration
	reauthenticated bool
}

func newRetryState(cfg RetryConfig) *retryState {
	return &retryState{cfg: cfg, next: cfg.InitialBackoff}
}

// backoff returns the current delay and grows the next one.
func (s *retryState) backoff() time.Duration {
	d := s.next
	s.next = time.Duration(float64(s.next) * s.cfg.BackoffMultiple)
	if s.next > s.cfg.MaxBackoff {
		s.next = s.cfg.MaxBackoff
	}
	return d
}

// retry records a transient failure. It returns last, stamped with the
// attempt count, once MaxAttempts transient failures have been seen, else
// sleeps delay and returns nil.
func (s *retryState) retry(ctx context.Context, sleep func(context.Context, time.Duration) error, delay time.Duration, last *exchange.Error) error {
	s.transient++
	if s.transient >= s.cfg.MaxAttempts {
		last.Attempts = s.attempts
		return last
	}
	return sleep(ctx, delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
