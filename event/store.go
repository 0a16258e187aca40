package event

import (
	"sync"
	"time"
)

const (
	TopicBoard     = "board"
	TopicBays      = "bays"
	TopicDashboard = "dashboard"
)

// Snapshot is a full copy of some projection; subscribers never see partial updates.
type Snapshot struct {
	Topic     string
	Version   uint64
	Timestamp time.Time
	Payload   interface{}
}

type Publisher interface {
	Publish(topic string, payload interface{}) Snapshot
}

// Store broadcasts projection snapshots to independent subscribers and remembers the latest per topic.
type Store struct {
	lock        sync.RWMutex
	latest      map[string]Snapshot
	subscribers map[string]map[uint64]Subscriber
	nextSubID   uint64
}

func NewStore() *Store {
	return &Store{latest: map[string]Snapshot{}, subscribers: map[string]map[uint64]Subscriber{}}
}

// Subscribe registers fn for topic; the returned func unsubscribes.
func (s *Store) Subscribe(topic string, fn Subscriber) func() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.nextSubID++
	id := s.nextSubID
	if s.subscribers[topic] == nil {
		s.subscribers[topic] = map[uint64]Subscriber{}
	}
	s.subscribers[topic][id] = fn
	return func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		delete(s.subscribers[topic], id)
	}
}

// Publish stores the snapshot and delivers it synchronously, outside the store lock.
func (s *Store) Publish(topic string, payload interface{}) Snapshot {
	s.lock.Lock()
	snapshot := Snapshot{Topic: topic, Version: s.latest[topic].Version + 1, Timestamp: time.Now(), Payload: payload}
	s.latest[topic] = snapshot
	subscribers := make([]Subscriber, 0, len(s.subscribers[topic]))
	for _, fn := range s.subscribers[topic] {
		subscribers = append(subscribers, fn)
	}
	s.lock.Unlock()

	InvokeSubscribersFunc(&snapshot, subscribers)
	return snapshot
}

func (s *Store) Latest(topic string) (Snapshot, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	snapshot, found := s.latest[topic]
	return snapshot, found
}
