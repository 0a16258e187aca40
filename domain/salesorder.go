package domain

import "time"

type SalesOrderStatus string

const (
	SalesOrderDraft     SalesOrderStatus = "borrador"
	SalesOrderConfirmed SalesOrderStatus = "confirmada"
	SalesOrderPartial   SalesOrderStatus = "enviada_parcial"
	SalesOrderShipped   SalesOrderStatus = "enviada"
	SalesOrderCancelled SalesOrderStatus = "cancelada"
)

type SalesOrderItem struct {
	ID              string `json:"_id"`
	Product         string `json:"producto,omitempty"`
	Quantity        int    `json:"cantidad"`
	QuantityShipped int    `json:"cantidadEnviada"`
}

// Pending is the quantity still to ship, never negative.
func (i SalesOrderItem) Pending() int {
	if p := i.Quantity - i.QuantityShipped; p > 0 {
		return p
	}
	return 0
}

type SalesOrder struct {
	ID          string           `json:"_id"`
	OrderNumber string           `json:"numeroOrden"`
	Status      SalesOrderStatus `json:"estado"`
	Warehouse   string           `json:"almacen,omitempty"`
	Items       []SalesOrderItem `json:"items"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func (o *SalesOrder) PendingTotal() int {
	total := 0
	for _, i := range o.Items {
		total += i.Pending()
	}
	return total
}
