package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BayStatus string

const (
	BayAvailable    BayStatus = "available"
	BayOccupied     BayStatus = "occupied"
	BayMaintenance  BayStatus = "maintenance"
	BayOutOfService BayStatus = "out_of_service"
)

// Accepts reports whether technicians may enter a bay in this status.
func (s BayStatus) Accepts() bool {
	return s == BayAvailable || s == BayOccupied
}

type TechnicianRole string

const (
	RolePrincipal TechnicianRole = "principal"
	RoleAssistant TechnicianRole = "assistant"
)

func (r TechnicianRole) IsValid() bool {
	return r == RolePrincipal || r == RoleAssistant
}

type ServiceBay struct {
	ID             string    `json:"_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Area           string    `json:"area"`
	MaxTechnicians int       `json:"maxTechnicians"`
	Status         BayStatus `json:"status"`

	CurrentAssignment *BayAssignment `json:"currentAssignment,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

type AssignedTechnician struct {
	Technician     Technician      `json:"technician"`
	Role           TechnicianRole  `json:"role"`
	EntryTime      time.Time       `json:"entryTime"`
	EstimatedHours decimal.Decimal `json:"estimatedHours"`
}

type BayAssignment struct {
	WorkOrder   WorkOrderRef         `json:"workOrder"`
	Technicians []AssignedTechnician `json:"technicians"`
	ExitTime    *time.Time           `json:"exitTime,omitempty"`
	Notes       string               `json:"notes,omitempty"`
}

func (a *BayAssignment) IsActive() bool {
	return a != nil && a.ExitTime == nil
}

func (a *BayAssignment) HasPrincipal() bool {
	for _, t := range a.Technicians {
		if t.Role == RolePrincipal {
			return true
		}
	}
	return false
}

func (a *BayAssignment) HasTechnician(id string) bool {
	for _, t := range a.Technicians {
		if t.Technician.ID == id {
			return true
		}
	}
	return false
}

// EntryTime is the earliest entry of the current technicians.
func (a *BayAssignment) EntryTime() time.Time {
	var entry time.Time
	for _, t := range a.Technicians {
		if entry.IsZero() || t.EntryTime.Before(entry) {
			entry = t.EntryTime
		}
	}
	return entry
}

// Validate checks the roster against the capacity of its bay.
func (a *BayAssignment) Validate(maxTechnicians int) error {
	if len(a.Technicians) > maxTechnicians {
		return ErrCapacityExceeded
	}
	seen := map[string]bool{}
	for _, t := range a.Technicians {
		if seen[t.Technician.ID] {
			return ErrDuplicateTechnician
		}
		seen[t.Technician.ID] = true
		if !t.Role.IsValid() {
			return ErrInvalidRole
		}
		if a.ExitTime != nil && a.ExitTime.Before(t.EntryTime) {
			return ErrExitBeforeEntry
		}
	}
	if a.IsActive() && !a.HasPrincipal() {
		return ErrNoPrincipal
	}
	return nil
}

func (a *BayAssignment) Clone() *BayAssignment {
	if a == nil {
		return nil
	}
	c := *a
	c.Technicians = append([]AssignedTechnician(nil), a.Technicians...)
	if a.ExitTime != nil {
		exit := *a.ExitTime
		c.ExitTime = &exit
	}
	return &c
}

func (b *ServiceBay) Clone() *ServiceBay {
	if b == nil {
		return nil
	}
	c := *b
	c.CurrentAssignment = b.CurrentAssignment.Clone()
	return &c
}

// ActiveAssignment returns nil when the bay holds nobody.
func (b *ServiceBay) ActiveAssignment() *BayAssignment {
	if b.CurrentAssignment.IsActive() {
		return b.CurrentAssignment
	}
	return nil
}

func (b *ServiceBay) FreeSlots() int {
	used := 0
	if a := b.ActiveAssignment(); a != nil {
		used = len(a.Technicians)
	}
	if free := b.MaxTechnicians - used; free > 0 {
		return free
	}
	return 0
}

// Release drops the closed assignment from the projection and frees the bay.
func (b *ServiceBay) Release() {
	b.CurrentAssignment = nil
	b.Status = BayAvailable
}
