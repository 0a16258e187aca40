package sales

import (
	"context"
	"sync"

	"workshop/bizerror"
	"workshop/client/workshop"
	"workshop/domain"
	"workshop/event"
	"workshop/idempotency"
	"workshop/notify"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

const (
	OperationConfirm = "confirm"
	OperationShip    = "ship"

	QualifierFull    = "full"
	QualifierPartial = "partial"
)

type SalesClient interface {
	GetSalesOrder(ctx context.Context, orderID string) (*domain.SalesOrder, error)
	ConfirmSalesOrder(ctx context.Context, orderID, warehouseID, idempotencyKey string) (*domain.SalesOrder, error)
	ShipSalesOrder(ctx context.Context, orderID string, items []workshop.ShipItem, idempotencyKey string) (*domain.SalesOrder, error)
}

type SalesCommandTraits interface {
	Confirm(ctx context.Context, cmd ConfirmCommand) (*domain.SalesOrder, error)
	Ship(ctx context.Context, cmd ShipCommand) (*domain.SalesOrder, error)
}

type ConfirmCommand struct {
	OrderID     string `json:"orderId" validate:"required"`
	OrderNumber string `json:"orderNumber"`
	WarehouseID string `json:"warehouseId" validate:"required"`
}

type ShipLine struct {
	ItemID   string `json:"item" validate:"required"`
	Quantity int    `json:"cantidad" validate:"gte=0"`
}

type ShipCommand struct {
	OrderID string `json:"orderId" validate:"required"`
	// empty ships everything still pending
	Lines []ShipLine `json:"items" validate:"dive"`
}

var validate = validator.New()

// Commands sends sales order writes under idempotency keys; the server deduplicates on the key.
type Commands struct {
	client   SalesClient
	guard    idempotency.GuardTraits
	notifier notify.Notifier

	lock     sync.Mutex
	inFlight map[string]bool
}

func NewCommands(client SalesClient, guard idempotency.GuardTraits, notifier notify.Notifier) *Commands {
	return &Commands{client: client, guard: guard, notifier: notifier, inFlight: map[string]bool{}}
}

// Confirm reserves stock for the order. A retry after an unknown outcome reuses the key of the first attempt.
func (s *Commands) Confirm(ctx context.Context, cmd ConfirmCommand) (*domain.SalesOrder, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, s.fail("Confirm order", bizerror.NewValidation("sales.invalid_confirmation", "order and warehouse are required"))
	}
	if err := s.begin(cmd.OrderID); err != nil {
		return nil, s.fail("Confirm order", err)
	}
	defer s.end(cmd.OrderID)

	subject := cmd.OrderNumber
	if subject == "" {
		subject = cmd.OrderID
	}
	var order *domain.SalesOrder
	err := s.guard.Do(ctx, OperationConfirm, subject, map[string]string{"warehouseId": cmd.WarehouseID}, nil,
		func(key string) error {
			var err error
			order, err = s.client.ConfirmSalesOrder(ctx, cmd.OrderID, cmd.WarehouseID, key)
			return err
		})
	if err != nil {
		return nil, s.fail("Confirm order", err)
	}

	event.Journal(ctx, event.SourceSalesOrder, order.ID, order.OrderNumber, event.EventCategoryOrderConfirmed,
		event.UpdatedProperty{PropertyName: "estado", OldValue: string(domain.SalesOrderDraft), NewValue: string(order.Status)},
		event.UpdatedProperty{PropertyName: "almacen", NewValue: cmd.WarehouseID})
	s.success("Confirm order", "order "+subject+" confirmed")
	return order, nil
}

// Ship dispatches the requested quantities, each clamped to what is still pending on the item.
func (s *Commands) Ship(ctx context.Context, cmd ShipCommand) (*domain.SalesOrder, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, s.fail("Ship order", bizerror.NewValidation("sales.invalid_shipment", "order is required and quantities cannot be negative"))
	}
	if err := s.begin(cmd.OrderID); err != nil {
		return nil, s.fail("Ship order", err)
	}
	defer s.end(cmd.OrderID)

	current, err := s.client.GetSalesOrder(ctx, cmd.OrderID)
	if err != nil {
		return nil, s.fail("Ship order", err)
	}
	subject := current.OrderNumber
	if subject == "" {
		subject = current.ID
	}
	plan, err := s.plan(ctx, subject, current, cmd.Lines)
	if err != nil {
		return nil, s.fail("Ship order", err)
	}
	qualifier := QualifierPartial
	if plan.Full {
		qualifier = QualifierFull
	}

	var order *domain.SalesOrder
	err = s.guard.Do(ctx, OperationShip, subject, plan, []string{qualifier}, func(key string) error {
		var err error
		order, err = s.client.ShipSalesOrder(ctx, cmd.OrderID, plan.Items, key)
		return err
	})
	if err != nil {
		return nil, s.fail("Ship order", err)
	}

	event.Journal(ctx, event.SourceSalesOrder, order.ID, order.OrderNumber, event.EventCategoryOrderShipped,
		event.UpdatedProperty{PropertyName: "estado", OldValue: string(current.Status), NewValue: string(order.Status)})
	s.success("Ship order", "order "+subject+" shipped ("+qualifier+")")
	return order, nil
}

// shipment is what gets sent and is kept with the pending key, so that a retry of the same
// request resends it unchanged even when the order moved on in between.
type shipment struct {
	Requested []ShipLine          `json:"requested,omitempty"`
	Items     []workshop.ShipItem `json:"items,omitempty"`
	Full      bool                `json:"full"`
}

func (s *Commands) plan(ctx context.Context, subject string, order *domain.SalesOrder, lines []ShipLine) (*shipment, error) {
	previous := &shipment{}
	found, err := s.guard.Pending(ctx, OperationShip, subject, previous)
	if err != nil {
		return nil, err
	}
	if found && sameLines(previous.Requested, lines) {
		logrus.WithField("order", subject).Info("replaying pending shipment")
		return previous, nil
	}
	items, full, err := PlanShipment(order, lines)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		lines = nil
	}
	return &shipment{Requested: lines, Items: items, Full: full}, nil
}

func sameLines(a, b []ShipLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PlanShipment clamps each line to the pending quantity of its item and drops empty lines.
// No lines means ship everything pending, sent as an omitted item list.
func PlanShipment(order *domain.SalesOrder, lines []ShipLine) ([]workshop.ShipItem, bool, error) {
	switch order.Status {
	case domain.SalesOrderConfirmed, domain.SalesOrderPartial:
	default:
		return nil, false, bizerror.NewValidation("sales.not_shippable", "order in status "+string(order.Status)+" cannot be shipped")
	}

	pendingTotal := order.PendingTotal()
	if len(lines) == 0 {
		if pendingTotal == 0 {
			return nil, false, bizerror.NewValidation("sales.nothing_to_ship", "nothing is pending on this order")
		}
		return nil, true, nil
	}

	pending := map[string]int{}
	for _, item := range order.Items {
		pending[item.ID] = item.Pending()
	}
	var unknown []string
	requested := map[string]int{}
	var ordered []string
	for _, line := range lines {
		p, found := pending[line.ItemID]
		if !found {
			unknown = append(unknown, line.ItemID)
			continue
		}
		if _, seen := requested[line.ItemID]; !seen {
			ordered = append(ordered, line.ItemID)
		}
		requested[line.ItemID] += line.Quantity
		if requested[line.ItemID] > p {
			logrus.WithFields(logrus.Fields{"item": line.ItemID, "requested": requested[line.ItemID], "pending": p}).
				Info("shipment quantity clamped to pending quantity")
			requested[line.ItemID] = p
		}
	}
	if len(unknown) > 0 {
		return nil, false, bizerror.NewValidation("sales.unknown_item", "items are not part of the order", unknown...)
	}

	items := []workshop.ShipItem{}
	total := 0
	for _, id := range ordered {
		if q := requested[id]; q > 0 {
			items = append(items, workshop.ShipItem{Item: id, Quantity: q})
			total += q
		}
	}
	if total == 0 {
		return nil, false, bizerror.NewValidation("sales.zero_quantity", "at least one item must ship a positive quantity")
	}
	return items, total == pendingTotal, nil
}

func (s *Commands) begin(orderID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.inFlight[orderID] {
		return bizerror.ErrOperationInFlight
	}
	s.inFlight[orderID] = true
	return nil
}

func (s *Commands) end(orderID string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.inFlight, orderID)
}

func (s *Commands) fail(title string, err error) error {
	if s.notifier != nil {
		s.notifier.Failure(title, err)
	}
	return err
}

func (s *Commands) success(title, message string) {
	if s.notifier != nil {
		s.notifier.Success(title, message)
	}
}
