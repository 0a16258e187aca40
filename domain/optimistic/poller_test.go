package optimistic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"workshop/domain/optimistic"

	. "github.com/onsi/gomega"
)

func TestPoller(t *testing.T) {
	RegisterTestingT(t)

	interval := 20 * time.Millisecond

	t.Run("should stop after four attempts and keep last state", func(t *testing.T) {
		var calls []time.Time
		start := time.Now()
		p := optimistic.NewPoller(0, interval)
		Expect(p.Attempts).To(Equal(optimistic.DefaultPollAttempts))

		ret, err := p.Poll(context.Background(), func(ctx context.Context) (interface{}, error) {
			calls = append(calls, time.Now())
			return len(calls), nil
		}, func(state interface{}) bool { return false })

		Expect(err).To(BeNil())
		Expect(ret.Resolved).To(BeFalse())
		Expect(ret.Attempts).To(Equal(4))
		Expect(ret.State).To(Equal(4))
		Expect(calls).To(HaveLen(4))
		Expect(calls[0].Sub(start)).To(BeNumerically(">=", interval))
		for i := 1; i < len(calls); i++ {
			Expect(calls[i].Sub(calls[i-1])).To(BeNumerically(">=", interval))
		}
	})

	t.Run("should stop early once resolved", func(t *testing.T) {
		calls := 0
		ret, err := optimistic.NewPoller(4, interval).Poll(context.Background(), func(ctx context.Context) (interface{}, error) {
			calls++
			return calls, nil
		}, func(state interface{}) bool { return state.(int) == 2 })

		Expect(err).To(BeNil())
		Expect(ret.Resolved).To(BeTrue())
		Expect(ret.Attempts).To(Equal(2))
		Expect(calls).To(Equal(2))
	})

	t.Run("should keep last good state across failed fetches", func(t *testing.T) {
		calls := 0
		ret, err := optimistic.NewPoller(3, interval).Poll(context.Background(), func(ctx context.Context) (interface{}, error) {
			calls++
			if calls == 1 {
				return "first", nil
			}
			return nil, errors.New("timeout")
		}, func(state interface{}) bool { return false })

		Expect(err).To(BeNil())
		Expect(ret.Attempts).To(Equal(3))
		Expect(ret.State).To(Equal("first"))
		Expect(ret.LastErr).To(MatchError("timeout"))
	})

	t.Run("should report cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ret, err := optimistic.NewPoller(4, interval).Poll(ctx, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, func(state interface{}) bool { return true })
		Expect(err).To(Equal(context.Canceled))
		Expect(ret.Attempts).To(BeZero())
	})
}
