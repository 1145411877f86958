package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/GPTx-global/marketplace/prover/log"
)

// Config describes a bounded exponential backoff with jitter.
type Config struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	MaxElapsedTime      time.Duration // zero retries forever
	Multiplier          float64
	RandomizationFactor float64
	MaxAttempts         uint64 // zero means no attempt limit
}

// NetworkConfig is used for dialing the node and re-subscribing.
func NetworkConfig(initial, max, elapsed time.Duration) *Config {
	return &Config{
		InitialInterval:     initial,
		MaxInterval:         max,
		MaxElapsedTime:      elapsed,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
	}
}

// NewBackOff returns a fresh backoff policy for cfg that stops when ctx ends.
func (c *Config) NewBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.InitialInterval
	exp.MaxInterval = c.MaxInterval
	exp.MaxElapsedTime = c.MaxElapsedTime
	exp.Multiplier = c.Multiplier
	exp.RandomizationFactor = c.RandomizationFactor
	exp.Reset()

	var b backoff.BackOff = exp
	if c.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, c.MaxAttempts-1)
	}

	return backoff.WithContext(b, ctx)
}

type RetryableFunc func() error

type IsRetryable func(error) bool

var retryableErrors = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"network is unreachable",
	"no such host",
	"broken pipe",
	"i/o timeout",
	"eof",
	"websocket: close",
	"429",
	"too many requests",
}

// DefaultIsRetryable treats transport failures as transient.
func DefaultIsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, retryable := range retryableErrors {
		if strings.Contains(msg, retryable) {
			return true
		}
	}
	return false
}

// Always retries every error.
func Always(error) bool {
	return true
}

// Do runs fn until it succeeds, returns a non-retryable error or the backoff is
// exhausted. The last error of fn is returned.
func Do(ctx context.Context, cfg *Config, fn RetryableFunc, isRetryable IsRetryable) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		log.Debugf("attempt %d failed, retrying in %s: %v", attempt, delay.Round(time.Millisecond), err)
	}

	if err := backoff.RetryNotify(operation, cfg.NewBackOff(ctx), notify); err != nil {
		return fmt.Errorf("gave up after %d attempts: %w", attempt, err)
	}

	return nil
}
