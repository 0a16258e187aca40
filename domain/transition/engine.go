package transition

import (
	"context"
	"strings"
	"sync"
	"time"

	"workshop/bizerror"
	"workshop/client/workshop"
	"workshop/common"
	"workshop/domain"
	"workshop/domain/state"
	"workshop/event"
	"workshop/notify"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
	"github.com/sony/sonyflake"
)

type StatusChanger interface {
	ChangeWorkOrderStatus(ctx context.Context, workOrderID, statusCode, notes string) (*workshop.ChangeStatusResult, error)
}

type EngineTraits interface {
	UseGraph(graph state.StatusGraphTraits)
	Open(from, to string, workOrder domain.WorkOrderRef) (*Request, error)
	Confirm(ctx context.Context, requestID types.ID, values map[string]string) (*domain.WorkOrder, error)
	Cancel(requestID types.ID) bool
	Pending(requestID types.ID) (*Request, bool)
}

// Request is a pending status change waiting for its confirmation data.
type Request struct {
	ID        types.ID            `json:"id"`
	WorkOrder domain.WorkOrderRef `json:"workOrder"`
	From      string              `json:"from"`
	To        string              `json:"to"`
	Fields    []state.FieldSpec   `json:"fields"`
	CreatedAt time.Time           `json:"createdAt"`
}

// Engine resolves the confirmation fields of a transition and gates the remote change on them.
type Engine struct {
	client   StatusChanger
	notifier notify.Notifier
	idWorker *sonyflake.Sonyflake

	lock     sync.Mutex
	graph    state.StatusGraphTraits
	requests map[types.ID]*Request
	inFlight map[types.ID]bool
}

func NewEngine(client StatusChanger, notifier notify.Notifier) *Engine {
	return &Engine{
		client:   client,
		notifier: notifier,
		idWorker: common.NewIdWorker(),
		graph:    state.NewStatusGraph(nil, nil),
		requests: map[types.ID]*Request{},
		inFlight: map[types.ID]bool{},
	}
}

// UseGraph swaps the status graph after the statuses were reloaded.
func (e *Engine) UseGraph(graph state.StatusGraphTraits) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.graph = graph
}

func (e *Engine) Open(from, to string, workOrder domain.WorkOrderRef) (*Request, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if !e.graph.IsTransitionAllowed(from, to) {
		return nil, bizerror.NewValidation("transition.not_allowed", "transition "+from+" -> "+to+" is not allowed")
	}
	req := &Request{
		ID:        common.NextId(e.idWorker),
		WorkOrder: workOrder,
		From:      from,
		To:        to,
		Fields:    e.graph.RequiredFields(from, to),
		CreatedAt: time.Now(),
	}
	e.requests[req.ID] = req
	logrus.WithFields(logrus.Fields{"request": req.ID, "workOrder": workOrder.ID, "from": from, "to": to}).
		Debug("transition request opened")
	return copyRequest(req), nil
}

// Validate names every required field left empty and every dropdown value outside its options.
func Validate(req *Request, values map[string]string) error {
	var missing, invalid []string
	for _, f := range req.Fields {
		v := strings.TrimSpace(values[f.Name])
		if v == "" {
			if f.Required {
				missing = append(missing, f.Name)
			}
			continue
		}
		if f.Type == state.FieldDropdown && !contains(f.Options, v) {
			invalid = append(invalid, f.Name)
		}
	}
	if len(missing) > 0 {
		return bizerror.NewValidation("transition.required_fields", "required fields are missing", missing...)
	}
	if len(invalid) > 0 {
		return bizerror.NewValidation("transition.invalid_option", "value is not one of the options", invalid...)
	}
	return nil
}

// Confirm sends the status change. A local validation failure keeps the request open;
// once the remote call was made the request is gone whatever the outcome.
func (e *Engine) Confirm(ctx context.Context, requestID types.ID, values map[string]string) (*domain.WorkOrder, error) {
	e.lock.Lock()
	req, found := e.requests[requestID]
	if !found {
		e.lock.Unlock()
		return nil, e.fail(&bizerror.ErrNotFound{Message: "transition request " + requestID.String() + " not found"})
	}
	if e.inFlight[requestID] {
		e.lock.Unlock()
		return nil, e.fail(bizerror.ErrOperationInFlight)
	}
	if err := Validate(req, values); err != nil {
		e.lock.Unlock()
		return nil, e.fail(err)
	}
	e.inFlight[requestID] = true
	e.lock.Unlock()

	result, err := e.client.ChangeWorkOrderStatus(ctx, req.WorkOrder.ID, req.To, strings.TrimSpace(values[state.NotesFieldName]))

	e.lock.Lock()
	delete(e.inFlight, requestID)
	delete(e.requests, requestID)
	e.lock.Unlock()

	if err != nil {
		return nil, e.fail(err)
	}

	wo := result.WorkOrder
	if wo.ID == "" {
		wo.ID, wo.OrderNumber = req.WorkOrder.ID, req.WorkOrder.OrderNumber
	}
	if wo.Status == "" {
		wo.Status = req.To
	}
	event.Journal(ctx, event.SourceWorkOrder, wo.ID, wo.OrderNumber, event.EventCategoryStatusChanged,
		event.UpdatedProperty{PropertyName: "estado", OldValue: req.From, NewValue: wo.Status})
	if e.notifier != nil {
		msg := result.Msg
		if msg == "" {
			msg = "status changed to " + wo.Status
		}
		e.notifier.Success("Change status", msg)
	}
	return &wo, nil
}

func (e *Engine) Cancel(requestID types.ID) bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.inFlight[requestID] {
		return false
	}
	_, found := e.requests[requestID]
	delete(e.requests, requestID)
	return found
}

func (e *Engine) Pending(requestID types.ID) (*Request, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	req, found := e.requests[requestID]
	if !found {
		return nil, false
	}
	return copyRequest(req), true
}

func (e *Engine) fail(err error) error {
	if e.notifier != nil {
		e.notifier.Failure("Change status", err)
	}
	return err
}

func copyRequest(req *Request) *Request {
	c := *req
	c.Fields = append([]state.FieldSpec(nil), req.Fields...)
	return &c
}

func contains(values []string, v string) bool {
	for _, o := range values {
		if o == v {
			return true
		}
	}
	return false
}
