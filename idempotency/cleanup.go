package idempotency

import (
	"context"
	"time"

	cron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// StartCleanup purges expired markers on the given cron spec, e.g. "0 */10 * * * ?".
func StartCleanup(guard *Guard, spec string, retention time.Duration) (*cron.Cron, error) {
	crontab := cron.New(cron.WithSeconds())
	_, err := crontab.AddFunc(spec, func() {
		purged, err := guard.Purge(context.Background(), retention)
		if err != nil {
			logrus.Errorf("idempotency cleanup: %v", err)
			return
		}
		if purged > 0 {
			logrus.Infof("idempotency cleanup: %d expired markers purged", purged)
		}
	})
	if err != nil {
		return nil, err
	}
	crontab.Start()
	return crontab, nil
}
