package bay

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"workshop/bizerror"
	"workshop/client/workshop"
	"workshop/domain"
	"workshop/domain/optimistic"
	"workshop/event"
	"workshop/notify"

	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type BayClient interface {
	GetServiceBays(ctx context.Context) ([]domain.ServiceBay, error)
	GetServiceBay(ctx context.Context, bayID string) (*domain.ServiceBay, error)
	EnterBay(ctx context.Context, workOrderID string, req *workshop.EnterBayRequest) (*workshop.EnterBayResult, error)
	ExitBay(ctx context.Context, workOrderID string, req *workshop.ExitBayRequest) (*workshop.ExitBayResult, error)
	GetBayHistory(ctx context.Context, bayID string) (*workshop.BayHistory, error)
	GetTallerDashboard(ctx context.Context) (*workshop.TallerDashboard, error)
}

type BayAllocationTraits interface {
	Load(ctx context.Context) ([]domain.ServiceBay, error)
	Bays() []domain.ServiceBay
	Assign(ctx context.Context, cmd AssignCommand) (*domain.ServiceBay, error)
	Release(ctx context.Context, cmd ReleaseCommand) (*ReleaseOutcome, error)
	History(ctx context.Context, bayID string) (*History, error)
	Dashboard(ctx context.Context) (*Dashboard, error)
}

type TechnicianAssignment struct {
	Technician     domain.Technician     `json:"technician"`
	Role           domain.TechnicianRole `json:"role" validate:"required"`
	EstimatedHours decimal.Decimal       `json:"estimatedHours"`
}

type AssignCommand struct {
	WorkOrder   domain.WorkOrderRef    `json:"workOrder"`
	BayID       string                 `json:"bayId" validate:"required"`
	Technicians []TechnicianAssignment `json:"technicians" validate:"required,min=1,dive"`
	Notes       string                 `json:"notes"`
}

type ReleaseCommand struct {
	WorkOrderID   string   `json:"workOrderId" validate:"required"`
	BayID         string   `json:"bayId" validate:"required"`
	TechnicianIDs []string `json:"technicianIds" validate:"required,min=1,dive,required"`
	Notes         string   `json:"notes"`
}

type Resolution string

const (
	// the server answered with the bay
	ResolvedByResponse Resolution = "response"
	// the bay was released as a whole without an entity in the answer
	ResolvedByRelease Resolution = "released"
	ResolvedByPolling Resolution = "polled"
	Unresolved        Resolution = "unresolved"
)

type ReleaseOutcome struct {
	Bay          domain.ServiceBay `json:"bay"`
	Resolution   Resolution        `json:"resolution"`
	PollAttempts int               `json:"pollAttempts,omitempty"`
}

var validate = validator.New()

// Manager owns the local projection of bay occupancy. All roster writes go through Assign and Release.
type Manager struct {
	client    BayClient
	layer     optimistic.LayerTraits
	poller    *optimistic.Poller
	notifier  notify.Notifier
	publisher event.Publisher
	lastGood  *cache.Cache

	lock     sync.Mutex
	bays     map[string]*domain.ServiceBay
	inFlight map[string]bool

	now func() time.Time
}

func NewManager(client BayClient, poller *optimistic.Poller, notifier notify.Notifier, publisher event.Publisher) *Manager {
	if poller == nil {
		poller = optimistic.NewPoller(optimistic.DefaultPollAttempts, optimistic.DefaultPollInterval)
	}
	return &Manager{
		client:    client,
		layer:     optimistic.NewLayer(),
		poller:    poller,
		notifier:  notifier,
		publisher: publisher,
		lastGood:  cache.New(cache.NoExpiration, 0),
		bays:      map[string]*domain.ServiceBay{},
		inFlight:  map[string]bool{},
		now:       time.Now,
	}
}

// Load replaces the projection with the server state; bays with an operation in flight keep their local state.
func (m *Manager) Load(ctx context.Context) ([]domain.ServiceBay, error) {
	bays, err := m.client.GetServiceBays(ctx)
	if err != nil {
		return nil, err
	}
	m.lock.Lock()
	fresh := map[string]*domain.ServiceBay{}
	for i := range bays {
		b := bays[i]
		if m.inFlight[b.ID] && m.bays[b.ID] != nil {
			fresh[b.ID] = m.bays[b.ID]
			continue
		}
		fresh[b.ID] = b.Clone()
	}
	m.bays = fresh
	m.lock.Unlock()

	return m.publish(), nil
}

// Bays returns copies of the projection ordered by bay code.
func (m *Manager) Bays() []domain.ServiceBay {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) Bay(bayID string) (*domain.ServiceBay, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	b, found := m.bays[bayID]
	return b.Clone(), found
}

func (m *Manager) snapshotLocked() []domain.ServiceBay {
	bays := make([]domain.ServiceBay, 0, len(m.bays))
	for _, b := range m.bays {
		bays = append(bays, *b.Clone())
	}
	sort.Slice(bays, func(i, j int) bool {
		if bays[i].Code != bays[j].Code {
			return bays[i].Code < bays[j].Code
		}
		return bays[i].ID < bays[j].ID
	})
	return bays
}

func (m *Manager) publish() []domain.ServiceBay {
	bays := m.Bays()
	if m.publisher != nil {
		m.publisher.Publish(event.TopicBays, bays)
	}
	return bays
}

// Assign binds technicians of a work order to a bay. Every local precondition is checked before
// the remote call; on remote failure the bay is restored from its snapshot.
func (m *Manager) Assign(ctx context.Context, cmd AssignCommand) (*domain.ServiceBay, error) {
	if err := validateAssign(cmd); err != nil {
		return nil, m.fail("Assign bay", err)
	}
	if err := m.ensureBay(ctx, cmd.BayID); err != nil {
		return nil, m.fail("Assign bay", err)
	}

	m.lock.Lock()
	bay := m.bays[cmd.BayID]
	if m.inFlight[bay.ID] {
		m.lock.Unlock()
		return nil, m.fail("Assign bay", bizerror.ErrOperationInFlight)
	}
	planned, err := planAssignment(bay, cmd, m.now())
	if err != nil {
		m.lock.Unlock()
		return nil, m.fail("Assign bay", err)
	}
	if err := m.layer.Apply(bay.ID, m.bayState(bay.ID), func() {
		bay.Status = domain.BayOccupied
		bay.CurrentAssignment = planned
	}); err != nil {
		m.lock.Unlock()
		return nil, m.fail("Assign bay", bizerror.ErrOperationInFlight)
	}
	m.inFlight[bay.ID] = true
	m.lock.Unlock()
	m.publish()

	result, err := m.client.EnterBay(ctx, cmd.WorkOrder.ID, enterBayPayload(cmd))

	m.lock.Lock()
	delete(m.inFlight, cmd.BayID)
	if err != nil {
		m.layer.Rollback(cmd.BayID)
		m.lock.Unlock()
		m.publish()
		return nil, m.fail("Assign bay", err)
	}
	if result.Bay != nil {
		m.bays[cmd.BayID] = result.Bay.Clone()
	}
	m.layer.Commit(cmd.BayID)
	assigned := m.bays[cmd.BayID].Clone()
	m.lock.Unlock()
	m.publish()

	event.Journal(ctx, event.SourceServiceBay, assigned.ID, assigned.Code, event.EventCategoryBayAssigned,
		event.UpdatedProperty{PropertyName: "workOrder", NewValue: cmd.WorkOrder.ID})
	m.success("Assign bay", "work order assigned to bay "+assigned.Code)
	return assigned, nil
}

func validateAssign(cmd AssignCommand) error {
	if len(cmd.Technicians) == 0 {
		return bizerror.NewValidation("bay.technician_required", "select at least one technician")
	}
	if err := validate.Struct(cmd); err != nil {
		return bizerror.NewValidation("bay.invalid_assignment", err.Error())
	}
	var missing []string
	if cmd.WorkOrder.ID == "" {
		missing = append(missing, "workOrder")
	}
	for _, t := range cmd.Technicians {
		if t.Technician.ID == "" {
			missing = append(missing, "technician")
			break
		}
	}
	if len(missing) > 0 {
		return bizerror.NewValidation("bay.invalid_assignment", "required fields are missing", missing...)
	}
	return nil
}

// planAssignment returns the resulting assignment, or the validation error that forbids it.
func planAssignment(bay *domain.ServiceBay, cmd AssignCommand, now time.Time) (*domain.BayAssignment, error) {
	if !bay.Status.Accepts() {
		return nil, bizerror.NewValidation("bay.not_accepting", "bay "+bay.Code+" is "+string(bay.Status))
	}

	planned := &domain.BayAssignment{WorkOrder: cmd.WorkOrder, Notes: cmd.Notes}
	if active := bay.ActiveAssignment(); active != nil {
		if active.WorkOrder.ID != cmd.WorkOrder.ID {
			return nil, bizerror.NewValidation("bay.occupied", "bay "+bay.Code+" is occupied by another work order")
		}
		planned = active.Clone()
		if cmd.Notes != "" {
			planned.Notes = cmd.Notes
		}
	}
	for _, t := range cmd.Technicians {
		planned.Technicians = append(planned.Technicians, domain.AssignedTechnician{
			Technician: t.Technician, Role: t.Role, EntryTime: now, EstimatedHours: t.EstimatedHours,
		})
	}

	switch err := planned.Validate(bay.MaxTechnicians); {
	case err == nil:
		return planned, nil
	case errors.Is(err, domain.ErrCapacityExceeded):
		return nil, bizerror.NewValidation("bay.capacity_exceeded", err.Error())
	case errors.Is(err, domain.ErrNoPrincipal):
		return nil, bizerror.NewValidation("bay.principal_required", err.Error())
	case errors.Is(err, domain.ErrDuplicateTechnician):
		return nil, bizerror.NewValidation("bay.duplicated_technician", err.Error())
	case errors.Is(err, domain.ErrInvalidRole):
		return nil, bizerror.NewValidation("bay.invalid_role", err.Error())
	default:
		return nil, bizerror.NewValidation("bay.invalid_assignment", err.Error())
	}
}

func enterBayPayload(cmd AssignCommand) *workshop.EnterBayRequest {
	req := &workshop.EnterBayRequest{ServiceBay: cmd.BayID, Notes: cmd.Notes}
	if len(cmd.Technicians) == 1 {
		t := cmd.Technicians[0]
		req.Technician = t.Technician.ID
		req.Role = t.Role
		if !t.EstimatedHours.IsZero() {
			hours := t.EstimatedHours
			req.EstimatedHours = &hours
		}
		return req
	}
	for _, t := range cmd.Technicians {
		entry := workshop.TechnicianEntry{Technician: t.Technician.ID, Role: t.Role}
		if !t.EstimatedHours.IsZero() {
			hours := t.EstimatedHours
			entry.EstimatedHours = &hours
		}
		req.Technicians = append(req.Technicians, entry)
	}
	return req
}

// Release takes technicians out of a bay. The answer is resolved in order: bay entity in the
// response, release of the whole bay, reconciliation polling.
func (m *Manager) Release(ctx context.Context, cmd ReleaseCommand) (*ReleaseOutcome, error) {
	if len(cmd.TechnicianIDs) == 0 {
		return nil, m.fail("Release bay", bizerror.NewValidation("bay.technician_required", "select at least one technician"))
	}
	if err := validate.Struct(cmd); err != nil {
		return nil, m.fail("Release bay", bizerror.NewValidation("bay.invalid_release", err.Error()))
	}
	if err := m.ensureBay(ctx, cmd.BayID); err != nil {
		return nil, m.fail("Release bay", err)
	}

	m.lock.Lock()
	bay := m.bays[cmd.BayID]
	if m.inFlight[bay.ID] {
		m.lock.Unlock()
		return nil, m.fail("Release bay", bizerror.ErrOperationInFlight)
	}
	total, err := checkRelease(bay, cmd)
	if err != nil {
		m.lock.Unlock()
		return nil, m.fail("Release bay", err)
	}
	m.inFlight[bay.ID] = true
	m.lock.Unlock()

	outcome, err := m.release(ctx, cmd, total)

	m.lock.Lock()
	delete(m.inFlight, cmd.BayID)
	m.lock.Unlock()
	m.publish()

	if err != nil {
		return nil, m.fail("Release bay", err)
	}
	event.Journal(ctx, event.SourceServiceBay, outcome.Bay.ID, outcome.Bay.Code, event.EventCategoryBayReleased,
		event.UpdatedProperty{PropertyName: "technicians", OldValue: strings.Join(cmd.TechnicianIDs, ",")},
		event.UpdatedProperty{PropertyName: "status", NewValue: string(outcome.Bay.Status)})
	m.success("Release bay", "technicians released from bay "+outcome.Bay.Code)
	return outcome, nil
}

func checkRelease(bay *domain.ServiceBay, cmd ReleaseCommand) (bool, error) {
	active := bay.ActiveAssignment()
	if active == nil {
		return false, bizerror.NewValidation("bay.not_occupied", "bay "+bay.Code+" has no active assignment")
	}
	if active.WorkOrder.ID != cmd.WorkOrderID {
		return false, bizerror.NewValidation("bay.work_order_mismatch", "bay "+bay.Code+" is not assigned to this work order")
	}
	released := map[string]bool{}
	var unknown []string
	for _, id := range cmd.TechnicianIDs {
		if !active.HasTechnician(id) {
			unknown = append(unknown, id)
		}
		released[id] = true
	}
	if len(unknown) > 0 {
		return false, bizerror.NewValidation("bay.technician_not_assigned", "technicians are not in the bay", unknown...)
	}

	remaining := withoutTechnicians(active, released)
	if len(remaining.Technicians) == 0 {
		return true, nil
	}
	if !remaining.HasPrincipal() {
		return false, bizerror.NewValidation("bay.principal_required", domain.ErrNoPrincipal.Error())
	}
	return false, nil
}

func (m *Manager) release(ctx context.Context, cmd ReleaseCommand, total bool) (*ReleaseOutcome, error) {
	req := &workshop.ExitBayRequest{Notes: cmd.Notes}
	if len(cmd.TechnicianIDs) == 1 {
		req.Technician = cmd.TechnicianIDs[0]
	} else {
		req.Technicians = cmd.TechnicianIDs
	}
	result, err := m.client.ExitBay(ctx, cmd.WorkOrderID, req)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{"bay": cmd.BayID, "workOrder": cmd.WorkOrderID})
	if result.Bay != nil {
		m.lock.Lock()
		m.bays[cmd.BayID] = result.Bay.Clone()
		m.lock.Unlock()
		return &ReleaseOutcome{Bay: *result.Bay.Clone(), Resolution: ResolvedByResponse}, nil
	}

	released := result.BayReleased != nil && *result.BayReleased
	if released || result.BayReleased == nil && total {
		m.lock.Lock()
		bay := m.bays[cmd.BayID]
		bay.Release()
		b := *bay.Clone()
		m.lock.Unlock()
		log.Info("bay released without entity in response, cleared locally")
		return &ReleaseOutcome{Bay: b, Resolution: ResolvedByRelease}, nil
	}

	ids := map[string]bool{}
	for _, id := range cmd.TechnicianIDs {
		ids[id] = true
	}
	applied := false
	if !total {
		// partial release is shown right away, polling then confirms it
		m.lock.Lock()
		bay := m.bays[cmd.BayID]
		err := m.layer.Apply(cmd.BayID, m.bayState(cmd.BayID), func() {
			if active := bay.ActiveAssignment(); active != nil {
				bay.CurrentAssignment = withoutTechnicians(active, ids)
			}
		})
		applied = err == nil
		m.lock.Unlock()
		if applied {
			m.publish()
		} else {
			log.Warn("bay has a pending local change, waiting for polling instead")
		}
	}

	log.Info("release not confirmed by response, reconciling")
	poll, err := m.poller.Poll(ctx, func(ctx context.Context) (interface{}, error) {
		return m.client.GetServiceBay(ctx, cmd.BayID)
	}, func(state interface{}) bool {
		active := state.(*domain.ServiceBay).ActiveAssignment()
		if active == nil {
			return true
		}
		for id := range ids {
			if active.HasTechnician(id) {
				return false
			}
		}
		return true
	})

	m.lock.Lock()
	defer m.lock.Unlock()
	if applied {
		m.layer.Commit(cmd.BayID)
	}
	if poll.State != nil {
		m.bays[cmd.BayID] = poll.State.(*domain.ServiceBay).Clone()
	}
	outcome := &ReleaseOutcome{Bay: *m.bays[cmd.BayID].Clone(), Resolution: ResolvedByPolling, PollAttempts: poll.Attempts}
	if !poll.Resolved {
		outcome.Resolution = Unresolved
	}
	if err != nil {
		log.Warn("reconciliation interrupted: ", err)
	}
	return outcome, nil
}

func withoutTechnicians(a *domain.BayAssignment, ids map[string]bool) *domain.BayAssignment {
	c := a.Clone()
	c.Technicians = c.Technicians[:0]
	for _, t := range a.Technicians {
		if !ids[t.Technician.ID] {
			c.Technicians = append(c.Technicians, t)
		}
	}
	return c
}

// bayState snapshots one bay of the projection; the caller holds m.lock when snapshotting and restoring.
func (m *Manager) bayState(bayID string) optimistic.Snapshotter {
	return optimistic.SnapshotFunc(func() func() {
		saved := m.bays[bayID].Clone()
		return func() { m.bays[bayID] = saved }
	})
}

func (m *Manager) ensureBay(ctx context.Context, bayID string) error {
	m.lock.Lock()
	_, found := m.bays[bayID]
	m.lock.Unlock()
	if found {
		return nil
	}
	bay, err := m.client.GetServiceBay(ctx, bayID)
	if err != nil {
		return err
	}
	m.lock.Lock()
	if _, found := m.bays[bayID]; !found {
		m.bays[bayID] = bay.Clone()
	}
	m.lock.Unlock()
	return nil
}

func (m *Manager) fail(title string, err error) error {
	if m.notifier != nil {
		m.notifier.Failure(title, err)
	}
	return err
}

func (m *Manager) success(title, message string) {
	if m.notifier != nil {
		m.notifier.Success(title, message)
	}
}

// OccupancyMinutes is the time spent in the bay so far; computed on every call.
func OccupancyMinutes(assignment *domain.BayAssignment, now time.Time) int64 {
	if assignment == nil || len(assignment.Technicians) == 0 {
		return 0
	}
	d := now.Sub(assignment.EntryTime())
	if d < 0 {
		return 0
	}
	return int64(d / time.Minute)
}
