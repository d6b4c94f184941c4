package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxAttempts bounds every logical operation.
	DefaultMaxAttempts = 3
	// DefaultRetryInterval is the first delay between attempts.
	DefaultRetryInterval = 500 * time.Millisecond
	// DefaultMaxRetryInterval caps the delay between attempts.
	DefaultMaxRetryInterval = 5 * time.Second
)

// Op names a logical client operation for retry accounting and fatal errors.
type Op string

const (
	OpRegister    Op = "register"
	OpKeyExchange Op = "key exchange"
	OpReconnect   Op = "reconnect"
	OpSendFile    Op = "send file"
)

// FatalError reports an operation that could not complete within its
// attempt budget, or that failed in a way retrying cannot fix.
type FatalError struct {
	Op       Op
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// RetryOptions controls a Retrier.
type RetryOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          logrus.FieldLogger
}

// Retrier runs an operation at most MaxAttempts times with exponential
// backoff between attempts.
type Retrier struct {
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
	log             logrus.FieldLogger
}

// NewRetrier applies defaults to options.
func NewRetrier(options RetryOptions) *Retrier {
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = DefaultMaxAttempts
	}
	if options.InitialInterval <= 0 {
		options.InitialInterval = DefaultRetryInterval
	}
	if options.MaxInterval < options.InitialInterval {
		options.MaxInterval = DefaultMaxRetryInterval
		if options.MaxInterval < options.InitialInterval {
			options.MaxInterval = options.InitialInterval
		}
	}
	if options.Logger == nil {
		options.Logger = logrus.StandardLogger()
	}
	return &Retrier{
		maxAttempts:     options.MaxAttempts,
		initialInterval: options.InitialInterval,
		maxInterval:     options.MaxInterval,
		log:             options.Logger,
	}
}

// MaxAttempts returns the attempt budget per operation.
func (r *Retrier) MaxAttempts() int {
	return r.maxAttempts
}

// Do calls fn with attempt numbers 1, 2, ... until it succeeds or the budget
// is spent. fn may return Permanent(err) to stop early. Every failure is
// returned as a *FatalError.
func (r *Retrier) Do(ctx context.Context, op Op, fn func(attempt int) error) error {
	attempts := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		return fn(attempts)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialInterval
	policy.MaxInterval = r.maxInterval
	policy.MaxElapsedTime = 0

	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.maxAttempts-1)), ctx)
	err := backoff.RetryNotify(operation, bounded, func(err error, delay time.Duration) {
		r.log.WithFields(logrus.Fields{
			"op":      string(op),
			"attempt": attempts,
			"delay":   delay.String(),
			"error":   err.Error(),
		}).Warn("attempt failed, retrying")
	})
	if err == nil {
		return nil
	}

	r.log.WithFields(logrus.Fields{
		"op":       string(op),
		"attempts": attempts,
		"error":    err.Error(),
	}).Error("operation failed")
	return &FatalError{Op: op, Attempts: attempts, Err: err}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsFatal reports whether err is a *FatalError and returns it.
func IsFatal(err error) (*FatalError, bool) {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal, true
	}
	return nil, false
}
