package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"workshop/bizerror"
	"workshop/notify"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	// manual refreshes allowed per second, with a burst of the same size
	DefaultManualRefreshRate = 1
)

type Loader interface {
	Load(ctx context.Context) (*Board, error)
}

// Refresher reloads the board on a fixed interval. At most one load runs at a time: ticks are
// skipped while paused or while another load is running, manual refreshes are rejected.
type Refresher struct {
	loader   Loader
	interval time.Duration
	limiter  *rate.Limiter
	notifier notify.Notifier

	lock     sync.Mutex
	paused   bool
	loading  bool
	lastLoad time.Time
}

func NewRefresher(loader Loader, interval time.Duration, limiter *rate.Limiter, notifier notify.Notifier) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(DefaultManualRefreshRate), DefaultManualRefreshRate)
	}
	return &Refresher{loader: loader, interval: interval, limiter: limiter, notifier: notifier}
}

// Run blocks until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		r.tick(ctx)
	}
}

func (r *Refresher) tick(ctx context.Context) {
	r.lock.Lock()
	if r.paused || r.loading {
		r.lock.Unlock()
		logrus.Debug("board auto refresh skipped")
		return
	}
	r.loading = true
	r.lock.Unlock()
	defer r.doneLoading()

	if _, err := r.loader.Load(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logrus.Warn("board auto refresh failed: ", err)
		return
	}
	r.markLoaded()
}

// RefreshNow reloads immediately unless the manual refresh budget is spent or a load is running.
func (r *Refresher) RefreshNow(ctx context.Context) (*Board, error) {
	if !r.limiter.Allow() {
		return nil, r.reject(bizerror.ErrTooManyRequests)
	}
	r.lock.Lock()
	if r.loading {
		r.lock.Unlock()
		return nil, r.reject(bizerror.ErrOperationInFlight)
	}
	r.loading = true
	r.lock.Unlock()
	defer r.doneLoading()

	board, err := r.loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	r.markLoaded()
	return board, nil
}

func (r *Refresher) Pause() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.paused = true
	logrus.Info("board auto refresh paused")
}

func (r *Refresher) Resume() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.paused = false
	logrus.Info("board auto refresh resumed")
}

func (r *Refresher) Paused() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.paused
}

func (r *Refresher) LastLoad() time.Time {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.lastLoad
}

func (r *Refresher) Interval() time.Duration {
	return r.interval
}

// reject toasts refusals; load failures are toasted by the loader.
func (r *Refresher) reject(err error) error {
	if r.notifier != nil {
		r.notifier.Failure("Refresh board", err)
	}
	return err
}

func (r *Refresher) doneLoading() {
	r.lock.Lock()
	r.loading = false
	r.lock.Unlock()
}

func (r *Refresher) markLoaded() {
	r.lock.Lock()
	r.lastLoad = time.Now()
	r.lock.Unlock()
}
