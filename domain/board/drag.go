package board

import (
	"context"
	"sync"

	"workshop/bizerror"
	"workshop/domain/transition"
)

// DragSensor turns pointer gestures into board operations, one card at a time.
type DragSensor struct {
	controller *Controller

	lock   sync.Mutex
	active string
	over   string
}

func NewDragSensor(controller *Controller) *DragSensor {
	return &DragSensor{controller: controller}
}

func (s *DragSensor) OnDragStart(workOrderID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.active != "" {
		return bizerror.ErrOperationInFlight
	}
	if _, found := s.controller.Card(workOrderID); !found {
		return &bizerror.ErrNotFound{Message: "work order " + workOrderID + " is not on the board"}
	}
	s.active, s.over = workOrderID, ""
	return nil
}

// OnDragOver reports whether the column under the pointer accepts the dragged card.
func (s *DragSensor) OnDragOver(workOrderID, status string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.active != workOrderID {
		return false
	}
	s.over = status
	return s.controller.CanDrop(workOrderID, status)
}

// OnDragEnd drops the card on status; an empty status means the card was released outside any column.
func (s *DragSensor) OnDragEnd(ctx context.Context, workOrderID, status string) (*transition.Request, error) {
	s.lock.Lock()
	active := s.active
	s.active, s.over = "", ""
	s.lock.Unlock()

	if active != workOrderID || status == "" {
		return nil, nil
	}
	return s.controller.OnDrop(ctx, workOrderID, status)
}

// Dragging is the card being dragged and the column under the pointer.
func (s *DragSensor) Dragging() (workOrderID, overStatus string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.active, s.over
}
