package domain

import (
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "baja"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "alta"
	PriorityUrgent Priority = "urgente"
)

type WorkOrder struct {
	ID          string `json:"_id"`
	OrderNumber string `json:"numeroOrden"`

	// status code, one of the status graph nodes
	Status     string      `json:"estado"`
	Priority   Priority    `json:"prioridad"`
	Technician *Technician `json:"tecnicoAsignado,omitempty"`
	Customer   string      `json:"cliente,omitempty"`
	Vehicle    string      `json:"vehiculo,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type WorkOrderRef struct {
	ID          string `json:"_id"`
	OrderNumber string `json:"numeroOrden,omitempty"`
}

type Technician struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}
