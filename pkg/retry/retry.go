// Package retry runs an operation until it succeeds, with exponential
// backoff between failed attempts. There is no attempt cap: the loop ends
// only on success or context cancellation.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultBaseBackoff = 5 * time.Second
	DefaultMaxBackoff  = 60 * time.Second
)

// Config holds retry configuration.
type Config struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		return errors.New("max backoff must not be less than base backoff")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Scheduler struct {
	log   *slog.Logger
	clock clockwork.Clock
	base  time.Duration
	max   time.Duration
}

func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		log:   cfg.Logger,
		clock: cfg.Clock,
		base:  cfg.BaseBackoff,
		max:   cfg.MaxBackoff,
	}, nil
}

// RunUntilSuccess invokes op until it returns nil, waiting Backoff(attempt)
// after each failure. It returns early only when ctx is cancelled, in which
// case the context error is returned.
func (s *Scheduler) RunUntilSuccess(ctx context.Context, name string, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				s.log.Info("retry: operation succeeded", "op", name, "attempt", attempt)
			}
			return nil
		}

		delay := s.Backoff(attempt)
		s.log.Warn("retry: attempt failed",
			"op", name, "attempt", attempt, "retry_in", delay.String(), "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(delay):
		}
	}
}

// Backoff returns the wait after the given failed attempt (1-based):
// base * 2^(attempt-1), capped at max.
func (s *Scheduler) Backoff(attempt int) time.Duration {
	d := s.base
	for i := 1; i < attempt && d < s.max; i++ {
		d *= 2
	}
	if d > s.max {
		d = s.max
	}
	return d
}
