package optimistic

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var ErrPending = errors.New("an optimistic update is already pending for this subject")

// Snapshotter captures the current state of a subject and returns the function that puts it back.
type Snapshotter interface {
	Snapshot() (restore func())
}

type SnapshotFunc func() func()

func (f SnapshotFunc) Snapshot() func() {
	return f()
}

type LayerTraits interface {
	Apply(key string, s Snapshotter, mutate func()) error
	Commit(key string)
	Rollback(key string) bool
	Pending(key string) bool
}

// Layer applies local mutations ahead of the server and keeps the pre-mutation snapshot
// of each subject until the paired remote call settles.
type Layer struct {
	lock     sync.Mutex
	restores map[string]func()
}

func NewLayer() *Layer {
	return &Layer{restores: map[string]func(){}}
}

// Apply snapshots the subject and then runs mutate. One pending update per key.
func (l *Layer) Apply(key string, s Snapshotter, mutate func()) error {
	l.lock.Lock()
	if _, found := l.restores[key]; found {
		l.lock.Unlock()
		return ErrPending
	}
	l.restores[key] = s.Snapshot()
	l.lock.Unlock()

	if mutate != nil {
		mutate()
	}
	return nil
}

// Commit accepts the optimistic state and forgets the snapshot.
func (l *Layer) Commit(key string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	delete(l.restores, key)
}

// Rollback restores the full snapshot; false when nothing is pending for key.
func (l *Layer) Rollback(key string) bool {
	l.lock.Lock()
	restore, found := l.restores[key]
	delete(l.restores, key)
	l.lock.Unlock()

	if !found {
		return false
	}
	restore()
	logrus.WithField("subject", key).Info("optimistic update rolled back")
	return true
}

func (l *Layer) Pending(key string) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	_, found := l.restores[key]
	return found
}
