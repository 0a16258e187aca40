package event

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type Subscriber func(s *Snapshot)

var InvokeSubscribersFunc = invokeSubscribers

// invokeSubscribers isolates subscribers from each other: a panicking one is logged and skipped.
func invokeSubscribers(snapshot *Snapshot, subscribers []Subscriber) int {
	delivered := 0
	for _, fn := range subscribers {
		if invokeSubscriber(snapshot, fn) {
			delivered++
		}
	}
	logrus.Debugf("snapshot %s#%d delivered to %d/%d subscribers", snapshot.Topic, snapshot.Version, delivered, len(subscribers))
	return delivered
}

func invokeSubscriber(snapshot *Snapshot, fn Subscriber) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("topic", snapshot.Topic).Error("snapshot subscriber panic: ", fmt.Sprint(r))
			ok = false
		}
	}()
	fn(snapshot)
	return true
}
