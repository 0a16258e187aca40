package board_test

import (
	"context"
	"testing"
	"time"

	"workshop/client/workshop"
	"workshop/domain"
	"workshop/domain/bay"
	"workshop/domain/board"

	. "github.com/onsi/gomega"
)

type fakeBays struct {
	bays       []domain.ServiceBay
	loads      int
	enterCalls int
}

func (f *fakeBays) GetServiceBays(ctx context.Context) ([]domain.ServiceBay, error) {
	f.loads++
	return f.bays, nil
}

func (f *fakeBays) GetServiceBay(ctx context.Context, bayID string) (*domain.ServiceBay, error) {
	for i := range f.bays {
		if f.bays[i].ID == bayID {
			return f.bays[i].Clone(), nil
		}
	}
	return nil, nil
}

func (f *fakeBays) EnterBay(ctx context.Context, workOrderID string, req *workshop.EnterBayRequest) (*workshop.EnterBayResult, error) {
	f.enterCalls++
	return &workshop.EnterBayResult{Ok: true}, nil
}

func (f *fakeBays) ExitBay(ctx context.Context, workOrderID string, req *workshop.ExitBayRequest) (*workshop.ExitBayResult, error) {
	return &workshop.ExitBayResult{}, nil
}

func (f *fakeBays) GetBayHistory(ctx context.Context, bayID string) (*workshop.BayHistory, error) {
	return &workshop.BayHistory{}, nil
}

func (f *fakeBays) GetTallerDashboard(ctx context.Context) (*workshop.TallerDashboard, error) {
	return &workshop.TallerDashboard{}, nil
}

var principal = domain.Technician{ID: "t1", Name: "Ana"}

func setupWithBays() (*board.Controller, *fakeBays, *bay.Manager) {
	c, _, _, _ := setup([]domain.WorkOrder{
		{ID: "wo-1", OrderNumber: "OT-1", Status: "RECIBIDO"},
		{ID: "wo-2", OrderNumber: "OT-2", Status: "RECIBIDO"},
	})
	client := &fakeBays{bays: []domain.ServiceBay{{
		ID: "bay-1", Code: "B1", MaxTechnicians: 2, Status: domain.BayOccupied,
		CurrentAssignment: &domain.BayAssignment{
			WorkOrder:   domain.WorkOrderRef{ID: "wo-1", OrderNumber: "OT-1"},
			Technicians: []domain.AssignedTechnician{{Technician: principal, Role: domain.RolePrincipal, EntryTime: time.Now()}},
		},
	}}}
	bays := bay.NewManager(client, nil, nil, nil)
	c.ReloadWith(func(ctx context.Context) error {
		_, err := bays.Load(ctx)
		return err
	})
	return c, client, bays
}

func assignSecondOrder(bays *bay.Manager) error {
	_, err := bays.Assign(context.Background(), bay.AssignCommand{
		WorkOrder: domain.WorkOrderRef{ID: "wo-2", OrderNumber: "OT-2"}, BayID: "bay-1",
		Technicians: []bay.TechnicianAssignment{{Technician: principal, Role: domain.RolePrincipal}},
	})
	return err
}

func TestReloadFollowers(t *testing.T) {
	RegisterTestingT(t)

	t.Run("should see a bay freed on the server after a board load", func(t *testing.T) {
		c, client, bays := setupWithBays()
		_, err := c.Load(context.Background())
		Expect(err).To(BeNil())
		Expect(client.loads).To(Equal(1))
		Expect(assignSecondOrder(bays)).ToNot(BeNil())
		Expect(client.enterCalls).To(BeZero())

		client.bays = []domain.ServiceBay{{ID: "bay-1", Code: "B1", MaxTechnicians: 2, Status: domain.BayAvailable}}
		_, err = c.Load(context.Background())
		Expect(err).To(BeNil())
		Expect(client.loads).To(Equal(2))

		Expect(assignSecondOrder(bays)).To(BeNil())
		Expect(client.enterCalls).To(Equal(1))
	})

	t.Run("should reload bays on a manual refresh and after a confirmed change", func(t *testing.T) {
		c, client, _ := setupWithBays()
		r := board.NewRefresher(c, time.Second, nil, nil)

		_, err := r.RefreshNow(context.Background())
		Expect(err).To(BeNil())
		Expect(client.loads).To(Equal(1))

		req, err := c.OnDrop(context.Background(), "wo-2", "EN_DIAGNOSTICO")
		Expect(err).To(BeNil())
		_, err = c.Confirm(context.Background(), req.ID, map[string]string{"puestoTaller": "B1", "tecnicoAsignado": "Ana"})
		Expect(err).To(BeNil())
		Expect(client.loads).To(Equal(2))
	})

	t.Run("should skip followers once the context is done", func(t *testing.T) {
		c, client, _ := setupWithBays()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, _ = c.Load(ctx)
		Expect(client.loads).To(BeZero())
	})
}
