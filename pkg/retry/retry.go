package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// NonRetryableError marks a failure that repeating cannot fix, such as a
// rejected broker credential or a malformed connector configuration.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so Do fails fast instead of burning attempts on it.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries the fail-fast marker.
func IsNonRetryable(err error) bool {
	var target *NonRetryableError
	return errors.As(err, &target)
}

// Config shapes a backoff schedule. The delay starts at InitialDelay and
// grows by Multiplier after every failed attempt, capped at MaxDelay.
type Config struct {
	// MaxAttempts bounds the total number of calls; values below one run
	// the operation exactly once.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// AddJitter spreads the delays by up to a quarter so a fleet of
	// connectors reconnecting after a broker restart does not stampede it.
	AddJitter bool
}

// DefaultConfig suits ordinary downstream calls worth a second attempt.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Quick is the tenant bootstrap schedule: short delays and a tight cap, so
// a subscription racing the platform resolves fast or fails fast.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Persistent is the connector reconnect schedule: patient enough to ride
// out a broker restart without giving the tenant up.
func Persistent() Config {
	return Config{
		MaxAttempts:  30,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// normalize fills zero fields from DefaultConfig and rejects schedules that
// cannot make progress.
func (c Config) normalize() (Config, error) {
	if c.InitialDelay < 0 || c.MaxDelay < 0 {
		return c, errors.New("retry: delays must not be negative")
	}
	if c.Multiplier < 0 {
		return c, errors.New("retry: multiplier must not be negative")
	}

	defaults := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = defaults.InitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaults.MaxDelay
	}
	switch {
	case c.Multiplier == 0:
		c.Multiplier = defaults.Multiplier
	case c.Multiplier > 1000:
		c.Multiplier = 1000
	}

	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be at least InitialDelay")
	}
	return c, nil
}

// step advances the running delay, saturating at MaxDelay on overflow.
func (c Config) step(delay time.Duration) time.Duration {
	next := float64(delay) * c.Multiplier
	if next >= float64(c.MaxDelay) || next < 0 {
		return c.MaxDelay
	}
	return time.Duration(next)
}

// sleepFor returns the delay with jitter applied when configured.
func (c Config) sleepFor(delay time.Duration) time.Duration {
	if !c.AddJitter || delay < 4 {
		return delay
	}
	return delay + rand.N(delay/4)
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is
// non-retryable, or ctx ends during a backoff.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		lastErr := fn()
		if lastErr == nil {
			return nil
		}
		if IsNonRetryable(lastErr) {
			return lastErr
		}
		if attempt >= cfg.MaxAttempts {
			return fmt.Errorf("retry: giving up after %d attempts: %w", attempt, lastErr)
		}

		timer := time.NewTimer(cfg.sleepFor(delay))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry: interrupted before attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
		delay = cfg.step(delay)
	}
}

// DoWithResult is Do for operations that produce a value, such as a
// configuration load or a session handshake.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
