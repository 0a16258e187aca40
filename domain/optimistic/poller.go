package optimistic

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollAttempts = 4
	DefaultPollInterval = 500 * time.Millisecond
)

var errStale = errors.New("subject still stale")

type FetchFunc func(ctx context.Context) (interface{}, error)

type ResolvedFunc func(state interface{}) bool

type PollResult struct {
	// last successfully fetched state, nil when every fetch failed
	State    interface{}
	Attempts int
	Resolved bool
	LastErr  error
}

// Poller re-fetches authoritative state when a mutation answer did not confirm it.
type Poller struct {
	Attempts int
	Interval time.Duration
}

func NewPoller(attempts int, interval time.Duration) *Poller {
	if attempts <= 0 {
		attempts = DefaultPollAttempts
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{Attempts: attempts, Interval: interval}
}

// Poll waits one interval, then fetches up to Attempts times, stopping once resolved.
// Exhaustion is not an error: the last fetched state is kept unresolved.
// Only cancellation of ctx is reported as error.
func (p *Poller) Poll(ctx context.Context, fetch FetchFunc, resolved ResolvedFunc) (*PollResult, error) {
	result := &PollResult{}

	timer := time.NewTimer(p.Interval)
	select {
	case <-ctx.Done():
		timer.Stop()
		return result, ctx.Err()
	case <-timer.C:
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Interval), uint64(p.Attempts-1)), ctx)
	err := backoff.Retry(func() error {
		result.Attempts++
		state, err := fetch(ctx)
		if err != nil {
			result.LastErr = err
			logrus.WithField("attempt", result.Attempts).Warn("reconciliation fetch failed: ", err)
			return err
		}
		result.State = state
		if resolved(state) {
			result.Resolved = true
			return nil
		}
		return errStale
	}, policy)

	if ctxErr := ctx.Err(); err != nil && ctxErr != nil {
		return result, ctxErr
	}
	if !result.Resolved {
		logrus.WithField("attempts", result.Attempts).Info("reconciliation exhausted, keeping last fetched state")
	}
	return result, nil
}
