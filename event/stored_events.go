package event

import (
	"context"

	"workshop/common"
	"workshop/persistence"

	"github.com/fundwit/go-commons/types"
	"github.com/jinzhu/gorm"
	"github.com/sirupsen/logrus"
)

var (
	CreateEventFunc        = CreateEvent
	EventPersistCreateFunc = eventPersistCreate

	idWorker = common.NewIdWorker()
)

// CreateEvent journals a confirmed change. Without a database the event is only logged.
func CreateEvent(ctx context.Context, sourceType, sourceId, sourceDesc string, category EventCategory,
	updatedProperties ...UpdatedProperty) (*EventRecord, error) {

	record := EventRecord{
		ID: common.NextId(idWorker),
		Event: Event{
			SourceType: sourceType,
			SourceId:   sourceId,
			SourceDesc: sourceDesc,

			EventCategory:     category,
			UpdatedProperties: updatedProperties,
		},
		Timestamp: types.CurrentTimestamp(),
	}

	logrus.WithFields(logrus.Fields{"source": sourceType + "/" + sourceId, "category": category}).
		Info("event ", record.UpdatedProperties)

	ds := persistence.ActiveDataSourceManager
	if ds == nil {
		return &record, nil
	}
	if err := EventPersistCreateFunc(&record, ds.GormDB(ctx)); err != nil {
		return nil, err
	}
	return &record, nil
}

func eventPersistCreate(record *EventRecord, db *gorm.DB) error {
	return db.Create(record).Error
}

// Journal records an event and only logs failures; callers have already committed the change.
func Journal(ctx context.Context, sourceType, sourceId, sourceDesc string, category EventCategory,
	updatedProperties ...UpdatedProperty) {
	if _, err := CreateEventFunc(ctx, sourceType, sourceId, sourceDesc, category, updatedProperties...); err != nil {
		logrus.WithFields(logrus.Fields{"source": sourceType + "/" + sourceId, "category": category}).
			Error("failed to journal event: ", err)
	}
}
