package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-timewarp/wire"
	"github.com/joeycumines/logiface"
)

// ErrRetriesExhausted is returned by [Sender.Send] after the final attempt
// fails.
var ErrRetriesExhausted = errors.New("channel: retries exhausted")

// RetryPolicy configures exponential backoff between delivery attempts.
type RetryPolicy struct {
	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration
	// Factor multiplies the delay after each failed attempt.
	Factor float64
	// MaxDelay caps the delay.
	MaxDelay time.Duration
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
}

// DefaultRetryPolicy returns the policy used by [NewSender] if none is
// configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		Factor:       2,
		MaxDelay:     2 * time.Second,
		MaxAttempts:  5,
	}
}

// Validate checks the policy is usable.
func (x RetryPolicy) Validate() error {
	switch {
	case x.InitialDelay < 0:
		return errors.New("channel: negative initial delay")
	case x.Factor < 1:
		return errors.New("channel: backoff factor must be at least 1")
	case x.MaxDelay < x.InitialDelay:
		return errors.New("channel: max delay less than initial delay")
	case x.MaxAttempts < 1:
		return errors.New("channel: max attempts must be at least 1")
	}
	return nil
}

// delay returns the wait following the given (1-indexed) failed attempt.
func (x RetryPolicy) delay(attempt int) time.Duration {
	d := float64(x.InitialDelay)
	for i := 1; i < attempt && d < float64(x.MaxDelay); i++ {
		d *= x.Factor
	}
	return min(time.Duration(d), x.MaxDelay)
}

type (
	// SenderOption configures a [Sender].
	SenderOption func(c *senderConfig)

	senderConfig struct {
		logger  *logiface.Logger[logiface.Event]
		limiter *catrate.Limiter
		sleep   func(ctx context.Context, d time.Duration) error
		policy  RetryPolicy
	}

	// Sender delivers envelopes through a [Port], retrying failed attempts
	// with exponential backoff. Retries are additionally throttled per
	// command, if a rate limiter is configured.
	Sender struct {
		port    Port
		logger  *logiface.Logger[logiface.Event]
		limiter *catrate.Limiter
		sleep   func(ctx context.Context, d time.Duration) error
		policy  RetryPolicy
	}
)

// WithRetryPolicy overrides [DefaultRetryPolicy].
func WithRetryPolicy(policy RetryPolicy) SenderOption {
	return func(c *senderConfig) {
		c.policy = policy
	}
}

// WithRetryRates throttles retries, per command, using a [catrate.Limiter]
// with the given rates. See [catrate.NewLimiter] for the format.
func WithRetryRates(rates map[time.Duration]int) SenderOption {
	return func(c *senderConfig) {
		if len(rates) == 0 {
			c.limiter = nil
		} else {
			c.limiter = catrate.NewLimiter(rates)
		}
	}
}

// WithSenderLogger configures logging of failed attempts.
func WithSenderLogger(logger *logiface.Logger[logiface.Event]) SenderOption {
	return func(c *senderConfig) {
		c.logger = logger
	}
}

// NewSender wraps port.
func NewSender(port Port, opts ...SenderOption) (*Sender, error) {
	if port == nil {
		return nil, errors.New("channel: port cannot be nil")
	}
	c := senderConfig{
		policy: DefaultRetryPolicy(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.policy.Validate(); err != nil {
		return nil, err
	}
	return &Sender{
		port:    port,
		logger:  c.logger,
		limiter: c.limiter,
		sleep:   c.sleep,
		policy:  c.policy,
	}, nil
}

// Port returns the wrapped port.
func (x *Sender) Port() Port { return x.port }

// Send delivers env, retrying until an attempt succeeds, the policy's
// attempts are exhausted, ctx is done, or the port is closed.
func (x *Sender) Send(ctx context.Context, env wire.Envelope) error {
	for attempt := 1; ; attempt++ {
		err := x.port.Send(ctx, env)
		if err == nil {
			if attempt > 1 {
				x.logger.Debug().
					Str(`command`, string(env.Command)).
					Int(`attempt`, attempt).
					Log(`channel: delivered after retry`)
			}
			return nil
		}

		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return err
		}

		if attempt >= x.policy.MaxAttempts {
			x.logger.Err().
				Err(err).
				Str(`command`, string(env.Command)).
				Int(`attempts`, attempt).
				Log(`channel: giving up on delivery`)
			return fmt.Errorf("%w: %s after %d attempts: %w", ErrRetriesExhausted, env.Command, attempt, err)
		}

		delay := x.policy.delay(attempt)
		if next, ok := x.limiter.Allow(env.Command); !ok {
			delay = max(delay, time.Until(next))
		}

		x.logger.Warning().
			Limit().
			Err(err).
			Str(`command`, string(env.Command)).
			Int(`attempt`, attempt).
			Dur(`delay`, delay).
			Log(`channel: delivery failed, retrying`)

		if err := x.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
