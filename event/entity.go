package event

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/fundwit/go-commons/types"
)

const (
	SourceWorkOrder  = "WORK_ORDER"
	SourceServiceBay = "SERVICE_BAY"
	SourceSalesOrder = "SALES_ORDER"
)

const (
	EventCategoryStatusChanged  EventCategory = "STATUS_CHANGED"
	EventCategoryBayAssigned    EventCategory = "BAY_ASSIGNED"
	EventCategoryBayReleased    EventCategory = "BAY_RELEASED"
	EventCategoryOrderConfirmed EventCategory = "ORDER_CONFIRMED"
	EventCategoryOrderShipped   EventCategory = "ORDER_SHIPPED"
)

type EventCategory string

// Event is an audit entry of a confirmed state change.
type Event struct {
	SourceId   string `json:"sourceId" gorm:"size:64"`
	SourceType string `json:"sourceType" gorm:"size:32"`
	SourceDesc string `json:"sourceDesc"`

	EventCategory     EventCategory     `json:"eventCategory" gorm:"size:32"`
	UpdatedProperties UpdatedProperties `json:"updatedProperties" sql:"type:TEXT"`
}

type EventRecord struct {
	ID types.ID `json:"id" gorm:"primary_key"`
	Event

	Timestamp types.Timestamp `json:"timestamp" sql:"type:DATETIME(6)"`
}

func (r *EventRecord) TableName() string {
	return "events"
}

type UpdatedProperty struct {
	PropertyName string `json:"propertyName"`

	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue"`
}

type UpdatedProperties []UpdatedProperty

func (t UpdatedProperties) Value() (driver.Value, error) {
	jsonBytes, err := json.Marshal(&t)
	if err != nil {
		return nil, err
	}
	return string(jsonBytes), nil
}

func (c *UpdatedProperties) Scan(v interface{}) error {
	jsonString, ok := v.(string)
	if !ok {
		jsonByte, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("type is neither string nor []byte: %T %v", v, v)
		}
		jsonString = string(jsonByte)
	}
	return json.Unmarshal([]byte(jsonString), c)
}
