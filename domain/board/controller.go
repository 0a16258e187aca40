package board

import (
	"context"
	"errors"
	"sync"
	"time"

	"workshop/bizerror"
	"workshop/client/workshop"
	"workshop/domain"
	"workshop/domain/optimistic"
	"workshop/domain/state"
	"workshop/domain/transition"
	"workshop/event"
	"workshop/notify"

	"github.com/fundwit/go-commons/types"
	"github.com/sirupsen/logrus"
)

// PageSize is the page limit used while walking the work order listing.
const PageSize = 100

type BoardClient interface {
	GetWorkOrders(ctx context.Context, filters workshop.WorkOrderFilters) (*workshop.WorkOrderPage, error)
	GetWorkOrderStatuses(ctx context.Context) ([]state.Status, error)
}

type BoardTraits interface {
	Load(ctx context.Context) (*Board, error)
	Board() *Board
	OnDrop(ctx context.Context, workOrderID, targetStatus string) (*transition.Request, error)
	Confirm(ctx context.Context, requestID types.ID, values map[string]string) (*domain.WorkOrder, error)
	Cancel(requestID types.ID) bool
	NextStatuses(workOrderID string) []state.Status
}

type Card struct {
	WorkOrder domain.WorkOrder `json:"workOrder"`
	// column the card is shown in while its transition request is open
	ProvisionalStatus string   `json:"provisionalStatus,omitempty"`
	PendingRequest    types.ID `json:"pendingRequest,omitempty"`
}

type Column struct {
	Status state.Status `json:"status"`
	Cards  []Card       `json:"cards"`
}

type Board struct {
	Columns []Column `json:"columns"`
	// work orders whose status is not a node of the graph
	Unplaced    []domain.WorkOrder `json:"unplaced,omitempty"`
	EmptyReason string             `json:"emptyReason,omitempty"`
	LoadedAt    time.Time          `json:"loadedAt"`
}

type provisionalMove struct {
	requestID types.ID
	target    string
}

// Controller keeps the board projection. Confirmed statuses only change through a reload or a
// confirmed transition; a drop only moves the card provisionally.
type Controller struct {
	client    BoardClient
	engine    transition.EngineTraits
	layer     optimistic.LayerTraits
	notifier  notify.Notifier
	publisher event.Publisher
	followers []func(ctx context.Context) error

	lock        sync.Mutex
	graph       *state.StatusGraph
	fields      state.TransitionFieldTable
	orders      []domain.WorkOrder
	moves       map[string]provisionalMove
	requests    map[types.ID]string
	emptyReason string
	loadedAt    time.Time
}

// NewController takes the transition field table used for every status graph it builds; nil means the built-in table.
func NewController(client BoardClient, engine transition.EngineTraits, fields state.TransitionFieldTable,
	notifier notify.Notifier, publisher event.Publisher) *Controller {
	return &Controller{
		client:    client,
		engine:    engine,
		layer:     optimistic.NewLayer(),
		notifier:  notifier,
		publisher: publisher,
		graph:     state.NewStatusGraph(nil, fields),
		fields:    fields,
		moves:     map[string]provisionalMove{},
		requests:  map[types.ID]string{},
	}
}

// ReloadWith registers projections reloaded after every board load, manual, periodic or
// following a status change. Call it before the controller is shared.
func (c *Controller) ReloadWith(fns ...func(ctx context.Context) error) {
	c.followers = append(c.followers, fns...)
}

// Load fetches statuses and every page of work orders and replaces the projection.
// A not-found answer yields an empty board with the reason instead of an error.
func (c *Controller) Load(ctx context.Context) (*Board, error) {
	board, err := c.load(ctx)
	for _, follow := range c.followers {
		if ctx.Err() != nil {
			break
		}
		if err := follow(ctx); err != nil {
			logrus.Warn("reload after board load failed: ", err)
		}
	}
	return board, err
}

func (c *Controller) load(ctx context.Context) (*Board, error) {
	statuses, err := c.client.GetWorkOrderStatuses(ctx)
	if err != nil {
		if bizerror.CategoryOf(err) != bizerror.CategoryNotFound {
			return nil, c.fail("Load board", err)
		}
		logrus.Warn("work order statuses not found, showing an empty board: ", err)
		return c.replace(nil, nil, "no work order statuses are configured"), nil
	}

	orders, err := c.fetchOrders(ctx)
	if err != nil {
		if bizerror.CategoryOf(err) != bizerror.CategoryNotFound {
			return nil, c.fail("Load board", err)
		}
		logrus.Warn("work orders not found, showing an empty board: ", err)
		return c.replace(statuses, nil, "no work orders found"), nil
	}

	reason := ""
	if len(orders) == 0 {
		reason = "no work orders found"
	}
	return c.replace(statuses, orders, reason), nil
}

func (c *Controller) fetchOrders(ctx context.Context) ([]domain.WorkOrder, error) {
	orders := []domain.WorkOrder{}
	for page := 1; ; page++ {
		result, err := c.client.GetWorkOrders(ctx, workshop.WorkOrderFilters{Page: page, Limit: PageSize})
		if err != nil {
			return nil, err
		}
		orders = append(orders, result.Data...)
		if len(result.Data) == 0 || page >= result.Pagination.TotalPages {
			return orders, nil
		}
	}
}

func (c *Controller) replace(statuses []state.Status, orders []domain.WorkOrder, emptyReason string) *Board {
	graph := state.NewStatusGraph(statuses, c.fields)
	c.engine.UseGraph(graph)

	c.lock.Lock()
	c.graph = graph
	c.orders = orders
	c.emptyReason = emptyReason
	c.loadedAt = time.Now()
	// moves of work orders that disappeared can never be confirmed
	known := map[string]bool{}
	for _, wo := range orders {
		known[wo.ID] = true
	}
	for id, move := range c.moves {
		if !known[id] {
			c.layer.Rollback(moveKey(id))
			delete(c.requests, move.requestID)
			c.engine.Cancel(move.requestID)
		}
	}
	board := c.boardLocked()
	c.lock.Unlock()

	for _, wo := range board.Unplaced {
		logrus.WithFields(logrus.Fields{"workOrder": wo.OrderNumber, "status": wo.Status}).
			Warn("work order status is not on the board")
	}
	c.emit(board)
	return board
}

// Board returns a copy of the current projection.
func (c *Controller) Board() *Board {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.boardLocked()
}

func (c *Controller) boardLocked() *Board {
	board := &Board{Columns: []Column{}, EmptyReason: c.emptyReason, LoadedAt: c.loadedAt}
	index := map[string]int{}
	for i, s := range c.graph.Statuses() {
		index[s.Code] = i
		board.Columns = append(board.Columns, Column{Status: s, Cards: []Card{}})
	}
	for _, wo := range c.orders {
		card := Card{WorkOrder: wo}
		column := wo.Status
		if move, found := c.moves[wo.ID]; found {
			card.ProvisionalStatus, card.PendingRequest = move.target, move.requestID
			column = move.target
		}
		i, found := index[column]
		if !found {
			board.Unplaced = append(board.Unplaced, wo)
			continue
		}
		board.Columns[i].Cards = append(board.Columns[i].Cards, card)
	}
	return board
}

// OnDrop opens a transition request for a card dropped on another column. Dropping a card on
// its own column does nothing.
func (c *Controller) OnDrop(ctx context.Context, workOrderID, targetStatus string) (*transition.Request, error) {
	c.lock.Lock()
	req, err := c.dropLocked(workOrderID, targetStatus)
	if req == nil || err != nil {
		c.lock.Unlock()
		return req, err
	}
	board := c.boardLocked()
	c.lock.Unlock()

	c.emit(board)
	return req, nil
}

func (c *Controller) dropLocked(workOrderID, targetStatus string) (*transition.Request, error) {
	wo, found := c.findLocked(workOrderID)
	if !found {
		return nil, &bizerror.ErrNotFound{Message: "work order " + workOrderID + " is not on the board"}
	}
	if wo.Status == targetStatus {
		return nil, nil
	}
	if _, pending := c.moves[workOrderID]; pending {
		return nil, bizerror.ErrOperationInFlight
	}

	req, err := c.engine.Open(wo.Status, targetStatus, domain.WorkOrderRef{ID: wo.ID, OrderNumber: wo.OrderNumber})
	if err != nil {
		return nil, err
	}
	move := provisionalMove{requestID: req.ID, target: targetStatus}
	if err := c.layer.Apply(moveKey(workOrderID), c.moveState(workOrderID), func() {
		c.moves[workOrderID] = move
	}); err != nil {
		c.engine.Cancel(req.ID)
		return nil, bizerror.ErrOperationInFlight
	}
	c.requests[req.ID] = workOrderID

	logrus.WithFields(logrus.Fields{"workOrder": wo.OrderNumber, "from": wo.Status, "to": targetStatus}).
		Debug("card moved provisionally")
	return req, nil
}

// Confirm commits the transition request. A local validation failure keeps the card where it
// was dropped; any other failure puts it back. Success reloads the whole board.
func (c *Controller) Confirm(ctx context.Context, requestID types.ID, values map[string]string) (*domain.WorkOrder, error) {
	wo, err := c.engine.Confirm(ctx, requestID, values)
	if err != nil {
		if _, pending := c.engine.Pending(requestID); pending {
			return nil, err
		}
		c.revert(requestID)
		return nil, err
	}

	c.lock.Lock()
	if workOrderID, found := c.requests[requestID]; found {
		c.layer.Commit(moveKey(workOrderID))
		delete(c.moves, workOrderID)
		delete(c.requests, requestID)
		for i := range c.orders {
			if c.orders[i].ID == workOrderID {
				c.orders[i].Status = wo.Status
			}
		}
	}
	c.lock.Unlock()

	if _, err := c.Load(ctx); err != nil {
		logrus.Warn("board reload after status change failed: ", err)
		c.emit(c.Board())
	}
	return wo, nil
}

// Cancel discards the request and puts the card back; false when the request is unknown or in flight.
func (c *Controller) Cancel(requestID types.ID) bool {
	if !c.engine.Cancel(requestID) {
		return false
	}
	c.revert(requestID)
	return true
}

func (c *Controller) revert(requestID types.ID) {
	c.lock.Lock()
	workOrderID, found := c.requests[requestID]
	if !found {
		c.lock.Unlock()
		return
	}
	delete(c.requests, requestID)
	c.layer.Rollback(moveKey(workOrderID))
	board := c.boardLocked()
	c.lock.Unlock()

	c.emit(board)
}

func (c *Controller) Card(workOrderID string) (Card, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	wo, found := c.findLocked(workOrderID)
	if !found {
		return Card{}, false
	}
	card := Card{WorkOrder: wo}
	if move, pending := c.moves[workOrderID]; pending {
		card.ProvisionalStatus, card.PendingRequest = move.target, move.requestID
	}
	return card, true
}

// CanDrop tells whether dropping the card on status would open a transition request.
func (c *Controller) CanDrop(workOrderID, status string) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	wo, found := c.findLocked(workOrderID)
	if !found {
		return false
	}
	if _, pending := c.moves[workOrderID]; pending {
		return false
	}
	return c.graph.IsTransitionAllowed(wo.Status, status)
}

// NextStatuses lists the columns a card may be dropped on.
func (c *Controller) NextStatuses(workOrderID string) []state.Status {
	c.lock.Lock()
	defer c.lock.Unlock()
	wo, found := c.findLocked(workOrderID)
	if !found {
		return []state.Status{}
	}
	return c.graph.NextStatuses(wo.Status)
}

func (c *Controller) findLocked(workOrderID string) (domain.WorkOrder, bool) {
	for _, wo := range c.orders {
		if wo.ID == workOrderID {
			return wo, true
		}
	}
	return domain.WorkOrder{}, false
}

// moveState snapshots the provisional move of a card; the caller holds the controller lock
// around Apply and Rollback.
func (c *Controller) moveState(workOrderID string) optimistic.Snapshotter {
	return optimistic.SnapshotFunc(func() func() {
		prev, had := c.moves[workOrderID]
		return func() {
			if had {
				c.moves[workOrderID] = prev
			} else {
				delete(c.moves, workOrderID)
			}
		}
	})
}

func (c *Controller) emit(board *Board) {
	if c.publisher != nil {
		c.publisher.Publish(event.TopicBoard, board)
	}
}

func (c *Controller) fail(title string, err error) error {
	if c.notifier != nil && !errors.Is(err, context.Canceled) {
		c.notifier.Failure(title, err)
	}
	return err
}

func moveKey(workOrderID string) string {
	return "workorder:" + workOrderID
}
