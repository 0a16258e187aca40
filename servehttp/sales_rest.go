package servehttp

import (
	"net/http"

	"workshop/bizerror"
	"workshop/domain/sales"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

func RegisterSalesOrderHandler(r *gin.Engine, commands sales.SalesCommandTraits, middleWares ...gin.HandlerFunc) {
	handler := &salesOrderHandler{commands: commands}

	g := r.Group("/v1/sales-orders", middleWares...)
	g.POST(":id/confirmation", handler.handleConfirm)
	g.POST(":id/shipments", handler.handleShip)
}

type salesOrderHandler struct {
	commands sales.SalesCommandTraits
}

// field validation happens in the commands so that failures also raise a toast
func (h *salesOrderHandler) handleConfirm(c *gin.Context) {
	cmd := sales.ConfirmCommand{}
	if err := c.ShouldBindBodyWith(&cmd, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	cmd.OrderID = c.Param("id")

	order, err := h.commands.Confirm(c.Request.Context(), cmd)
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, order)
}

func (h *salesOrderHandler) handleShip(c *gin.Context) {
	cmd := sales.ShipCommand{}
	// an absent body ships everything still pending
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindBodyWith(&cmd, binding.JSON); err != nil {
			panic(&bizerror.ErrBadParam{Cause: err})
		}
	}
	cmd.OrderID = c.Param("id")

	order, err := h.commands.Ship(c.Request.Context(), cmd)
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, order)
}
