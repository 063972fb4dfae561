// Package poller waits for a long-running operation to report done.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/gpipe/internal/telemetry"
	"github.com/3cpo-dev/gpipe/pkg/api"
)

// ErrPollTimeout is matched by *TimeoutError.
var ErrPollTimeout = errors.New("poll timeout")

// TimeoutError is returned when the optional Timeout elapses before the
// operation is done. Last is the most recent snapshot.
type TimeoutError struct {
	Operation string
	Waited    time.Duration
	Last      *api.Operation
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s not done after %s", e.Operation, e.Waited)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrPollTimeout }

// StatusQuerier fetches a fresh operation snapshot by name.
type StatusQuerier interface {
	GetOperation(ctx context.Context, name string) (*api.Operation, error)
}

// Sleeper pauses for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the default Sleeper.
func ContextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poller re-queries an operation on a fixed interval until it is done.
// Failed queries are not retried. With a zero Timeout the wait is unbounded.
type Poller struct {
	Querier  StatusQuerier
	Interval time.Duration
	Timeout  time.Duration

	// OnPending, if set, is called with every snapshot that is not done yet.
	OnPending func(op *api.Operation)
	Sleep     Sleeper
	// Now defaults to time.Now.
	Now     func() time.Time
	Metrics *telemetry.Collector
}

// New returns a Poller that sleeps intervalSeconds between queries.
// A non-positive interval is the caller's cue not to poll at all; it is not
// checked here.
func New(q StatusQuerier, intervalSeconds int) *Poller {
	return &Poller{
		Querier:  q,
		Interval: time.Duration(intervalSeconds) * time.Second,
		Sleep:    ContextSleep,
	}
}

// Poll blocks until op, or a later snapshot of it, is done and returns that
// snapshot. An op that is already done is returned without any query.
func (p *Poller) Poll(ctx context.Context, op *api.Operation) (*api.Operation, error) {
	if op == nil {
		return nil, errors.New("poll: nil operation")
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = ContextSleep
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	start := now()
	var deadline time.Time
	if p.Timeout > 0 {
		deadline = start.Add(p.Timeout)
	}

	if !op.Done {
		log.Info().Str("operation", op.Name).Msg("Polling for completion of operation")
	}
	for !op.Done {
		if p.OnPending != nil {
			p.OnPending(op)
		}
		if err := ctx.Err(); err != nil {
			return op, err
		}
		// the last sleep is cut short so one query still lands on the deadline
		wait := p.Interval
		if !deadline.IsZero() {
			remaining := deadline.Sub(now())
			if remaining <= 0 {
				p.Metrics.Counter("gpipe_poll_timeouts", 1, map[string]string{"operation": op.Name})
				return op, &TimeoutError{Operation: op.Name, Waited: now().Sub(start), Last: op}
			}
			if remaining < wait {
				wait = remaining
			}
		}
		log.Info().Str("operation", op.Name).Msgf("Operation not complete. Sleeping %d seconds", int(wait/time.Second))
		if err := sleep(ctx, wait); err != nil {
			return op, err
		}
		if err := ctx.Err(); err != nil {
			return op, err
		}

		queryStart := now()
		next, err := p.Querier.GetOperation(ctx, op.Name)
		p.Metrics.Timer("gpipe_poll_query_duration", now().Sub(queryStart), map[string]string{"operation": op.Name})
		if err != nil {
			p.Metrics.Counter("gpipe_poll_errors", 1, map[string]string{"operation": op.Name})
			return op, fmt.Errorf("get operation %s: %w", op.Name, err)
		}
		if next == nil {
			return op, fmt.Errorf("get operation %s: empty response", op.Name)
		}
		p.Metrics.Counter("gpipe_poll_queries", 1, map[string]string{"operation": op.Name})
		op = next
	}
	log.Info().Str("operation", op.Name).Dur("waited", now().Sub(start)).Msg("Operation complete")
	return op, nil
}
