package bay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"workshop/bizerror"
	"workshop/client/workshop"
	"workshop/domain"
	"workshop/domain/bay"
	"workshop/domain/optimistic"
	"workshop/event"

	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

type fakeBayClient struct {
	lock sync.Mutex

	bays      []domain.ServiceBay
	enterFunc func(workOrderID string, req *workshop.EnterBayRequest) (*workshop.EnterBayResult, error)
	exitFunc  func(workOrderID string, req *workshop.ExitBayRequest) (*workshop.ExitBayResult, error)
	bayFunc   func(bayID string) (*domain.ServiceBay, error)
	history   func(bayID string) (*workshop.BayHistory, error)
	dashboard func() (*workshop.TallerDashboard, error)

	enterCalls []*workshop.EnterBayRequest
	exitCalls  []*workshop.ExitBayRequest
	bayCalls   int
}

func (f *fakeBayClient) GetServiceBays(ctx context.Context) ([]domain.ServiceBay, error) {
	return f.bays, nil
}

func (f *fakeBayClient) GetServiceBay(ctx context.Context, bayID string) (*domain.ServiceBay, error) {
	f.lock.Lock()
	f.bayCalls++
	f.lock.Unlock()
	return f.bayFunc(bayID)
}

func (f *fakeBayClient) EnterBay(ctx context.Context, workOrderID string, req *workshop.EnterBayRequest) (*workshop.EnterBayResult, error) {
	f.lock.Lock()
	f.enterCalls = append(f.enterCalls, req)
	f.lock.Unlock()
	return f.enterFunc(workOrderID, req)
}

func (f *fakeBayClient) ExitBay(ctx context.Context, workOrderID string, req *workshop.ExitBayRequest) (*workshop.ExitBayResult, error) {
	f.exitCalls = append(f.exitCalls, req)
	return f.exitFunc(workOrderID, req)
}

func (f *fakeBayClient) GetBayHistory(ctx context.Context, bayID string) (*workshop.BayHistory, error) {
	return f.history(bayID)
}

func (f *fakeBayClient) GetTallerDashboard(ctx context.Context) (*workshop.TallerDashboard, error) {
	return f.dashboard()
}

type recordingNotifier struct {
	successes []string
	failures  []error
}

func (n *recordingNotifier) Success(title, message string) { n.successes = append(n.successes, title) }
func (n *recordingNotifier) Failure(title string, err error) { n.failures = append(n.failures, err) }

var (
	t1 = domain.Technician{ID: "t1", Name: "Ana"}
	t2 = domain.Technician{ID: "t2", Name: "Luis"}

	entry = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
)

func occupiedBay(max int, techs ...domain.AssignedTechnician) domain.ServiceBay {
	return domain.ServiceBay{
		ID: "bay-1", Code: "B1", Name: "Elevador 1", Area: "mecanica", MaxTechnicians: max, Status: domain.BayOccupied,
		CurrentAssignment: &domain.BayAssignment{WorkOrder: domain.WorkOrderRef{ID: "wo-1", OrderNumber: "OT-1"}, Technicians: techs},
		CreatedAt:         entry.Add(-24 * time.Hour),
	}
}

func freeBay(max int) domain.ServiceBay {
	return domain.ServiceBay{ID: "bay-1", Code: "B1", MaxTechnicians: max, Status: domain.BayAvailable, CreatedAt: entry.Add(-24 * time.Hour)}
}

func newManager(client *fakeBayClient) (*bay.Manager, *recordingNotifier) {
	n := &recordingNotifier{}
	m := bay.NewManager(client, optimistic.NewPoller(4, 10*time.Millisecond), n, event.NewStore())
	_, err := m.Load(context.Background())
	Expect(err).To(BeNil())
	return m, n
}

func TestAssign(t *testing.T) {
	RegisterTestingT(t)

	t.Run("should reject extra technician beyond capacity without remote call", func(t *testing.T) {
		client := &fakeBayClient{bays: []domain.ServiceBay{
			occupiedBay(1, domain.AssignedTechnician{Technician: t1, Role: domain.RolePrincipal, EntryTime: entry}),
		}}
		m, n := newManager(client)
		before := m.Bays()

		_, err := m.Assign(context.Background(), bay.AssignCommand{
			WorkOrder: domain.WorkOrderRef{ID: "wo-1"}, BayID: "bay-1",
			Technicians: []bay.TechnicianAssignment{{Technician: t2, Role: domain.RoleAssistant}},
		})
		var validationErr *bizerror.ErrValidation
		Expect(errors.As(err, &validationErr)).To(BeTrue())
		Expect(validationErr.Code).To(Equal("bay.capacity_exceeded"))
		Expect(client.enterCalls).To(BeEmpty())

		after := m.Bays()
		Expect(after).To(Equal(before))
		Expect(after[0].CurrentAssignment.Technicians).To(HaveLen(1))
		Expect(after[0].CurrentAssignment.Technicians[0].Technician).To(Equal(t1))
		Expect(n.failures).To(HaveLen(1))
	})

	t.Run("should require a principal without remote call", func(t *testing.T) {
		client := &fakeBayClient{bays: []domain.ServiceBay{freeBay(3)}}
		m, _ := newManager(client)

		_, err := m.Assign(context.Background(), bay.AssignCommand{
			WorkOrder: domain.WorkOrderRef{ID: "wo-1"}, BayID: "bay-1",
			Technicians: []bay.TechnicianAssignment{{Technician: t1, Role: domain.RoleAssistant}, {Technician: t2, Role: domain.RoleAssistant}},
		})
		var validationErr *bizerror.ErrValidation
		Expect(errors.As(err, &validationErr)).To(BeTrue())
		Expect(validationErr.Code).To(Equal("bay.principal_required"))
		Expect(client.enterCalls).To(BeEmpty())
	})

	t.Run("should reject unknown roles without remote call", func(t *testing.T) {
		client := &fakeBayClient{bays: []domain.ServiceBay{freeBay(2)}}
		m, n := newManager(client)

		_, err := m.Assign(context.Background(), bay.AssignCommand{
			WorkOrder: domain.WorkOrderRef{ID: "wo-1"}, BayID: "bay-1",
			Technicians: []bay.TechnicianAssignment{{Technician: t1, Role: domain.RolePrincipal}, {Technician: t2, Role: "jefe"}},
		})
		var validationErr *bizerror.ErrValidation
		Expect(errors.As(err, &validationErr)).To(BeTrue())
		Expect(validationErr.Code).To(Equal("bay.invalid_role"))
		Expect(client.enterCalls).To(BeEmpty())
		Expect(n.failures).To(HaveLen(1))
	})

	t.Run("should reject empty technicians and closed bays", func(t *testing.T) {
		closed := freeBay(2)
		closed.Status = domain.BayMaintenance
		client := &fakeBayClient{bays: []domain.ServiceBay{closed}}
		m, _ := newManager(client)

		_, err := m.Assign(context.Background(), bay.AssignCommand{WorkOrder: domain.WorkOrderRef{ID: "wo-1"}, BayID: "bay-1"})
		Expect(bizerror.CategoryOf(err)).To(Equal(bizerror.CategoryValidation))

		_, err = m.Assign(context.Background(), bay.AssignCommand{
			WorkOrder: domain.WorkOrderRef{ID: "wo-1"}, BayID: "bay-1",
			Technicians: []bay.TechnicianAssignment{{Technician: t1, Role: domain.RolePrincipal}},
		})
		var validationErr *bizerror.ErrValidation
		Expect(errors.As(err, &validationErr)).To(BeTrue())
		Expect(validationErr.Code).To(Equal("bay.not_accepting"))
		Expect(client.enterCalls).To(BeEmpty())
	})

	t.Run("should restore the exact snapshot when remote call fails", func(t *testing.T) {
		client := &fakeBayClient{
			bays: []domain.ServiceBay{occupiedBay(3, domain.AssignedTechnician{Technician: t1, Role: domain.RolePrincipal, EntryTime: entry})},
			enterFunc: func(workOrderID string, req *workshop.EnterBayRequest) (*workshop.EnterBayResult, error) {
				return nil, &bizerror.ErrConflict{Message: "Técnico ocupado en otro puesto"}
			},
		}
		m, n := newManager(client)
		before := m.Bays()

		_, err := m.Assign(context.Background(), bay.AssignCommand{
			WorkOrder: domain.WorkOrderRef{ID: "wo-1"}, BayID: "bay-1",
			Technicians: []bay.TechnicianAssignment{{Technician: t2, Role: domain.RoleAssistant}},
		})
		Expect(bizerror.CategoryOf(err)).To(Equal(bizerror.CategoryConflict))
		Expect(client.enterCalls).To(HaveLen(1))
		Expect(m.Bays()).To(Equal(before))
		Expect(n.failures).To(HaveLen(1))
	})

	t.Run("should occupy the bay and send flat payload for one technician", func(t *testing.T) {
		client := &fakeBayClient{
			bays: []domain.ServiceBay{freeBay(2)},
			enterFunc: func(workOrderID string, req *workshop.EnterBayRequest) (*workshop.EnterBayResult, error) {
				return &workshop.EnterBayResult{Ok: true}, nil
			},
		}
		m, n := newManager(client)

		b, err := m.Assign(context.Background(), bay.AssignCommand{
			WorkOrder: domain.WorkOrderRef{ID: "wo-9", OrderNumber: "OT-9"}, BayID: "bay-1",
			Technicians: []bay.TechnicianAssignment{{Technician: t1, Role: domain.RolePrincipal, EstimatedHours: decimal.NewFromInt(3)}},
			Notes:       "cambio de aceite",
		})
		Expect(err).To(BeNil())
		Expect(b.Status).To(Equal(domain.BayOccupied))
		Expect(b.CurrentAssignment.WorkOrder.ID).To(Equal("wo-9"))
		Expect(b.CurrentAssignment.Technicians).To(HaveLen(1))
		Expect(b.FreeSlots()).To(Equal(1))

		req := client.enterCalls[0]
		Expect(req.Technician).To(Equal("t1"))
		Expect(req.Role).To(Equal(domain.RolePrincipal))
		Expect(req.EstimatedHours.Equal(decimal.NewFromInt(3))).To(BeTrue())
		Expect(req.Technicians).To(BeNil())
		Expect(n.successes).To(Equal([]string{"Assign bay"}))
	})

	t.Run("should prefer the bay returned by the server and nest several technicians", func(t *testing.T) {
		authoritative := occupiedBay(2,
			domain.AssignedTechnician{Technician: t1, Role: domain.RolePrincipal, EntryTime: entry},
			domain.AssignedTechnician{Technician: t2, Role: domain.RoleAssistant, EntryTime: entry})
		client := &fakeBayClient{
			bays: []domain.ServiceBay{freeBay(2)},
			enterFunc: func(workOrderID string, req *workshop.EnterBayRequest) (*workshop.EnterBayResult, error) {
				return &workshop.EnterBayResult{Ok: true, Bay: &authoritative}, nil
			},
		}
		m, _ := newManager(client)

		b, err := m.Assign(context.Background(), bay.AssignCommand{
			WorkOrder: domain.WorkOrderRef{ID: "wo-1"}, BayID: "bay-1",
			Technicians: []bay.TechnicianAssignment{{Technician: t1, Role: domain.RolePrincipal}, {Technician: t2, Role: domain.RoleAssistant}},
		})
		Expect(err).To(BeNil())
		Expect(*b).To(Equal(authoritative))
		Expect(client.enterCalls[0].Technician).To(BeEmpty())
		Expect(client.enterCalls[0].Technicians).To(Equal([]workshop.TechnicianEntry{
			{Technician: "t1", Role: domain.RolePrincipal}, {Technician: "t2", Role: domain.RoleAssistant}}))
	})

	t.Run("should refuse a second assignment while the first is in flight", func(t *testing.T) {
		entered := make(chan struct{})
		proceed := make(chan struct{})
		client := &fakeBayClient{
			bays: []domain.ServiceBay{freeBay(2)},
			enterFunc: func(workOrderID string, req *workshop.EnterBayRequest) (*workshop.EnterBayResult, error) {
				close(entered)
				<-proceed
				return &workshop.EnterBayResult{Ok: true}, nil
			},
		}
		m, _ := newManager(client)
		cmd := bay.AssignCommand{
			WorkOrder: domain.WorkOrderRef{ID: "wo-1"}, BayID: "bay-1",
			Technicians: []bay.TechnicianAssignment{{Technician: t1, Role: domain.RolePrincipal}},
		}

		done := make(chan error)
		go func() {
			_, err := m.Assign(context.Background(), cmd)
			done <- err
		}()
		<-entered
		_, err := m.Assign(context.Background(), cmd)
		Expect(err).To(Equal(bizerror.ErrOperationInFlight))
		close(proceed)
		Expect(<-done).To(BeNil())
	})
}

func TestRelease(t *testing.T) {
	RegisterTestingT(t)

	twoTechs := func() domain.ServiceBay {
		return occupiedBay(2,
			domain.AssignedTechnician{Technician: t1, Role: domain.RolePrincipal, EntryTime: entry},
			domain.AssignedTechnician{Technician: t2, Role: domain.RoleAssistant, EntryTime: entry})
	}

	t.Run("should require at least one technician", func(t *testing.T) {
		client := &fakeBayClient{bays: []domain.ServiceBay{twoTechs()}}
		m, _ := newManager(client)
		_, err := m.Release(context.Background(), bay.ReleaseCommand{WorkOrderID: "wo-1", BayID: "bay-1"})
		Expect(bizerror.CategoryOf(err)).To(Equal(bizerror.CategoryValidation))
		Expect(client.exitCalls).To(BeEmpty())
	})

	t.Run("should free the bay when all technicians leave", func(t *testing.T) {
		client := &fakeBayClient{
			bays: []domain.ServiceBay{twoTechs()},
			exitFunc: func(workOrderID string, req *workshop.ExitBayRequest) (*workshop.ExitBayResult, error) {
				return &workshop.ExitBayResult{Ok: true}, nil
			},
		}
		m, _ := newManager(client)

		outcome, err := m.Release(context.Background(), bay.ReleaseCommand{WorkOrderID: "wo-1", BayID: "bay-1", TechnicianIDs: []string{"t1", "t2"}})
		Expect(err).To(BeNil())
		Expect(outcome.Resolution).To(Equal(bay.ResolvedByRelease))
		Expect(outcome.Bay.Status).To(Equal(domain.BayAvailable))
		Expect(outcome.Bay.CurrentAssignment).To(BeNil())
		Expect(client.exitCalls[0].Technicians).To(Equal([]string{"t1", "t2"}))
		Expect(client.bayCalls).To(BeZero())
	})

	t.Run("should keep the bay occupied with the remaining technician", func(t *testing.T) {
		remaining := occupiedBay(2, domain.AssignedTechnician{Technician: t1, Role: domain.RolePrincipal, EntryTime: entry})
		client := &fakeBayClient{
			bays: []domain.ServiceBay{twoTechs()},
			exitFunc: func(workOrderID string, req *workshop.ExitBayRequest) (*workshop.ExitBayResult, error) {
				return &workshop.ExitBayResult{Ok: true}, nil
			},
			bayFunc: func(bayID string) (*domain.ServiceBay, error) {
				b := remaining
				return &b, nil
			},
		}
		m, _ := newManager(client)

		outcome, err := m.Release(context.Background(), bay.ReleaseCommand{WorkOrderID: "wo-1", BayID: "bay-1", TechnicianIDs: []string{"t2"}})
		Expect(err).To(BeNil())
		Expect(client.exitCalls[0].Technician).To(Equal("t2"))
		Expect(outcome.Resolution).To(Equal(bay.ResolvedByPolling))
		Expect(outcome.PollAttempts).To(Equal(1))
		Expect(outcome.Bay.Status).To(Equal(domain.BayOccupied))
		Expect(outcome.Bay.CurrentAssignment.Technicians).To(HaveLen(1))
		Expect(m.Bays()[0].CurrentAssignment.Technicians[0].Technician).To(Equal(t1))
	})

	t.Run("should poll at most four times and keep the last fetched state", func(t *testing.T) {
		client := &fakeBayClient{
			bays: []domain.ServiceBay{twoTechs()},
			exitFunc: func(workOrderID string, req *workshop.ExitBayRequest) (*workshop.ExitBayResult, error) {
				return &workshop.ExitBayResult{Ok: true}, nil
			},
			bayFunc: func(bayID string) (*domain.ServiceBay, error) {
				b := twoTechs()
				b.Name = "stale"
				return &b, nil
			},
		}
		m, n := newManager(client)

		outcome, err := m.Release(context.Background(), bay.ReleaseCommand{WorkOrderID: "wo-1", BayID: "bay-1", TechnicianIDs: []string{"t2"}})
		Expect(err).To(BeNil())
		Expect(client.bayCalls).To(Equal(4))
		Expect(outcome.Resolution).To(Equal(bay.Unresolved))
		Expect(outcome.Bay.Name).To(Equal("stale"))
		Expect(outcome.Bay.CurrentAssignment.Technicians).To(HaveLen(2))
		Expect(n.failures).To(BeEmpty())
	})

	t.Run("should apply the bay returned by the server", func(t *testing.T) {
		authoritative := freeBay(2)
		authoritative.Name = "from server"
		client := &fakeBayClient{
			bays: []domain.ServiceBay{twoTechs()},
			exitFunc: func(workOrderID string, req *workshop.ExitBayRequest) (*workshop.ExitBayResult, error) {
				released := false
				return &workshop.ExitBayResult{Ok: true, BayReleased: &released, Bay: &authoritative}, nil
			},
		}
		m, _ := newManager(client)

		outcome, err := m.Release(context.Background(), bay.ReleaseCommand{WorkOrderID: "wo-1", BayID: "bay-1", TechnicianIDs: []string{"t2"}})
		Expect(err).To(BeNil())
		Expect(outcome.Resolution).To(Equal(bay.ResolvedByResponse))
		Expect(m.Bays()[0]).To(Equal(authoritative))
		Expect(client.bayCalls).To(BeZero())
	})

	t.Run("should refuse leaving assistants without principal", func(t *testing.T) {
		client := &fakeBayClient{bays: []domain.ServiceBay{twoTechs()}}
		m, _ := newManager(client)
		_, err := m.Release(context.Background(), bay.ReleaseCommand{WorkOrderID: "wo-1", BayID: "bay-1", TechnicianIDs: []string{"t1"}})
		var validationErr *bizerror.ErrValidation
		Expect(errors.As(err, &validationErr)).To(BeTrue())
		Expect(validationErr.Code).To(Equal("bay.principal_required"))
		Expect(client.exitCalls).To(BeEmpty())
	})

	t.Run("should leave state untouched on remote failure", func(t *testing.T) {
		client := &fakeBayClient{
			bays: []domain.ServiceBay{twoTechs()},
			exitFunc: func(workOrderID string, req *workshop.ExitBayRequest) (*workshop.ExitBayResult, error) {
				return nil, &bizerror.ErrServer{Status: 500, Message: "boom"}
			},
		}
		m, n := newManager(client)
		before := m.Bays()
		_, err := m.Release(context.Background(), bay.ReleaseCommand{WorkOrderID: "wo-1", BayID: "bay-1", TechnicianIDs: []string{"t1", "t2"}})
		Expect(bizerror.CategoryOf(err)).To(Equal(bizerror.CategoryServer))
		Expect(m.Bays()).To(Equal(before))
		Expect(n.failures).To(HaveLen(1))
	})
}

func TestOccupancyMinutes(t *testing.T) {
	RegisterTestingT(t)

	a := &domain.BayAssignment{Technicians: []domain.AssignedTechnician{
		{Technician: t1, EntryTime: entry.Add(10 * time.Minute)},
		{Technician: t2, EntryTime: entry},
	}}
	Expect(bay.OccupancyMinutes(a, entry.Add(90*time.Minute+30*time.Second))).To(Equal(int64(90)))
	Expect(bay.OccupancyMinutes(a, entry.Add(-time.Hour))).To(BeZero())
	Expect(bay.OccupancyMinutes(nil, entry)).To(BeZero())
}
