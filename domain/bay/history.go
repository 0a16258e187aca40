package bay

import (
	"context"
	"sort"
	"time"

	"workshop/bizerror"
	"workshop/client/workshop"
	"workshop/domain"
	"workshop/event"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type TimelineEventType string

const (
	TimelineCreated  TimelineEventType = "created"
	TimelineAssigned TimelineEventType = "assigned"
	TimelineReleased TimelineEventType = "released"
	TimelineCurrent  TimelineEventType = "current"
)

type TimelineEvent struct {
	Type          TimelineEventType    `json:"type"`
	Timestamp     time.Time            `json:"timestamp"`
	WorkOrder     *domain.WorkOrderRef `json:"workOrder,omitempty"`
	Technicians   []domain.Technician  `json:"technicians,omitempty"`
	DurationHours *decimal.Decimal     `json:"durationHours,omitempty"`
	Notes         string               `json:"notes,omitempty"`
}

type History struct {
	BayID   string                     `json:"bayId"`
	Events  []TimelineEvent            `json:"events"`
	Summary workshop.BayHistorySummary `json:"summary"`
	// set when the timeline was built locally because the history could not be fetched
	Degraded bool `json:"degraded"`
}

// History builds a timeline of the bay, newest first. When the history cannot be fetched a
// minimal timeline is derived from the projection instead of returning nothing.
func (m *Manager) History(ctx context.Context, bayID string) (*History, error) {
	raw, err := m.client.GetBayHistory(ctx, bayID)
	if err != nil {
		logrus.WithField("bay", bayID).Warn("bay history unavailable, using fallback timeline: ", err)
		if ensureErr := m.ensureBay(ctx, bayID); ensureErr != nil {
			return nil, err
		}
		bay, _ := m.Bay(bayID)
		return fallbackHistory(bay, m.now()), nil
	}

	bay, _ := m.Bay(bayID)
	return buildHistory(bayID, bay, raw, m.now()), nil
}

func buildHistory(bayID string, bay *domain.ServiceBay, raw *workshop.BayHistory, now time.Time) *History {
	h := &History{BayID: bayID, Summary: raw.Summary}
	if bay != nil && !bay.CreatedAt.IsZero() {
		h.Events = append(h.Events, TimelineEvent{Type: TimelineCreated, Timestamp: bay.CreatedAt})
	}
	for i := range raw.History {
		entry := raw.History[i]
		ref := entry.WorkOrder
		techs := technicians(entry.Technicians)
		h.Events = append(h.Events, TimelineEvent{
			Type: TimelineAssigned, Timestamp: entry.EntryTime, WorkOrder: &ref, Technicians: techs, Notes: entry.Notes,
		})
		if entry.ExitTime != nil {
			hours := entry.DurationHours
			if hours.IsZero() {
				hours = hoursBetween(entry.EntryTime, *entry.ExitTime)
			}
			h.Events = append(h.Events, TimelineEvent{
				Type: TimelineReleased, Timestamp: *entry.ExitTime, WorkOrder: &ref, Technicians: techs, DurationHours: &hours,
			})
		}
	}
	if current := currentEvent(bay, now); current != nil {
		h.Events = append(h.Events, *current)
	}
	sortTimeline(h.Events)

	if h.Summary.TotalOrders == 0 && len(raw.History) > 0 {
		h.Summary = summarize(raw.History)
	}
	return h
}

func fallbackHistory(bay *domain.ServiceBay, now time.Time) *History {
	h := &History{BayID: bay.ID, Degraded: true, Summary: workshop.BayHistorySummary{TotalHours: decimal.Zero, AverageDuration: decimal.Zero}}
	h.Events = append(h.Events, TimelineEvent{Type: TimelineCreated, Timestamp: bay.CreatedAt})
	if current := currentEvent(bay, now); current != nil {
		h.Events = append(h.Events, *current)
	}
	sortTimeline(h.Events)
	return h
}

func currentEvent(bay *domain.ServiceBay, now time.Time) *TimelineEvent {
	if bay == nil {
		return nil
	}
	active := bay.ActiveAssignment()
	if active == nil || len(active.Technicians) == 0 {
		return nil
	}
	ref := active.WorkOrder
	hours := decimal.NewFromInt(OccupancyMinutes(active, now)).Div(decimal.NewFromInt(60)).Round(2)
	return &TimelineEvent{
		Type: TimelineCurrent, Timestamp: active.EntryTime(), WorkOrder: &ref,
		Technicians: technicians(active.Technicians), DurationHours: &hours, Notes: active.Notes,
	}
}

func sortTimeline(events []TimelineEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}

func summarize(entries []workshop.BayHistoryEntry) workshop.BayHistorySummary {
	orders := map[string]bool{}
	total := decimal.Zero
	for _, e := range entries {
		orders[e.WorkOrder.ID] = true
		hours := e.DurationHours
		if hours.IsZero() && e.ExitTime != nil {
			hours = hoursBetween(e.EntryTime, *e.ExitTime)
		}
		total = total.Add(hours)
	}
	summary := workshop.BayHistorySummary{TotalOrders: len(orders), TotalHours: total, AverageDuration: decimal.Zero}
	if len(orders) > 0 {
		summary.AverageDuration = total.Div(decimal.NewFromInt(int64(len(orders)))).Round(2)
	}
	return summary
}

func hoursBetween(from, to time.Time) decimal.Decimal {
	if to.Before(from) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(to.Sub(from).Hours()).Round(2)
}

func technicians(assigned []domain.AssignedTechnician) []domain.Technician {
	r := make([]domain.Technician, 0, len(assigned))
	for _, t := range assigned {
		r = append(r, t.Technician)
	}
	return r
}

type Dashboard struct {
	workshop.TallerDashboard
	// true when the figures are not the server's current answer
	Degraded bool      `json:"degraded"`
	Reason   string    `json:"reason,omitempty"`
	AsOf     time.Time `json:"asOf"`
}

const lastGoodDashboardKey = "dashboard"

// Dashboard reads the workshop dashboard. On server or network failure it answers the last good
// dashboard, or one derived from the local projection, always flagged as degraded.
func (m *Manager) Dashboard(ctx context.Context) (*Dashboard, error) {
	raw, err := m.client.GetTallerDashboard(ctx)
	if err == nil {
		d := &Dashboard{TallerDashboard: *raw, AsOf: m.now()}
		m.lastGood.SetDefault(lastGoodDashboardKey, *d)
		if m.publisher != nil {
			m.publisher.Publish(event.TopicDashboard, d)
		}
		return d, nil
	}

	category := bizerror.CategoryOf(err)
	if category != bizerror.CategoryServer && category != bizerror.CategoryNetwork {
		return nil, m.fail("Dashboard", err)
	}
	logrus.Warn("dashboard unavailable, serving degraded data: ", err)

	if v, found := m.lastGood.Get(lastGoodDashboardKey); found {
		d := v.(Dashboard)
		d.Degraded = true
		d.Reason = "showing last known figures, the server is unavailable"
		return &d, nil
	}
	return m.localDashboard(), nil
}

func (m *Manager) localDashboard() *Dashboard {
	bays := m.Bays()
	d := &Dashboard{Degraded: true, Reason: "figures derived from the local bay list, the server is unavailable", AsOf: m.now()}
	d.ActiveBays = []domain.ServiceBay{}
	active := map[string]bool{}
	for _, b := range bays {
		d.Summary.TotalBays++
		switch b.Status {
		case domain.BayAvailable:
			d.Summary.AvailableBays++
		case domain.BayOccupied:
			d.Summary.OccupiedBays++
		case domain.BayMaintenance:
			d.Summary.MaintenanceBays++
		case domain.BayOutOfService:
			d.Summary.OutOfServiceBays++
		}
		if a := b.ActiveAssignment(); a != nil {
			d.ActiveBays = append(d.ActiveBays, b)
			for _, t := range a.Technicians {
				active[t.Technician.ID] = true
			}
		}
	}
	d.Technicians.Active = len(active)
	return d
}
