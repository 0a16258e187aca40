package servehttp

import (
	"context"
	"net/http"

	"workshop/bizerror"
	"workshop/domain/board"

	"github.com/fundwit/go-commons/types"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type RefreshTraits interface {
	RefreshNow(ctx context.Context) (*board.Board, error)
	Pause()
	Resume()
	Paused() bool
}

type DropCreation struct {
	WorkOrderID  string `json:"workOrderId" validate:"required"`
	TargetStatus string `json:"targetStatus" validate:"required"`
}

type TransitionConfirmation struct {
	Values map[string]string `json:"values"`
}

type AutoRefreshUpdating struct {
	Paused *bool `json:"paused" validate:"required"`
}

type AutoRefreshState struct {
	Paused bool `json:"paused"`
}

func RegisterBoardHandler(r *gin.Engine, boardSvc board.BoardTraits, refresher RefreshTraits, middleWares ...gin.HandlerFunc) {
	handler := &boardHandler{validator: validator.New(), board: boardSvc, refresher: refresher}

	g := r.Group("/v1/board", middleWares...)
	g.GET("", handler.handleGetBoard)
	g.POST("refreshes", handler.handleRefresh)
	g.GET("auto-refresh", handler.handleGetAutoRefresh)
	g.PUT("auto-refresh", handler.handleUpdateAutoRefresh)
	g.POST("drops", handler.handleDrop)
	g.GET("cards/:id/next-statuses", handler.handleNextStatuses)

	tg := r.Group("/v1/transition-requests", middleWares...)
	tg.POST(":id/confirmation", handler.handleConfirmTransition)
	tg.DELETE(":id", handler.handleCancelTransition)
}

type boardHandler struct {
	validator *validator.Validate
	board     board.BoardTraits
	refresher RefreshTraits
}

func (h *boardHandler) handleGetBoard(c *gin.Context) {
	c.JSON(http.StatusOK, h.board.Board())
}

func (h *boardHandler) handleRefresh(c *gin.Context) {
	b, err := h.refresher.RefreshNow(c.Request.Context())
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, b)
}

func (h *boardHandler) handleGetAutoRefresh(c *gin.Context) {
	c.JSON(http.StatusOK, &AutoRefreshState{Paused: h.refresher.Paused()})
}

func (h *boardHandler) handleUpdateAutoRefresh(c *gin.Context) {
	updating := AutoRefreshUpdating{}
	if err := c.ShouldBindBodyWith(&updating, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	if err := h.validator.Struct(updating); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	if *updating.Paused {
		h.refresher.Pause()
	} else {
		h.refresher.Resume()
	}
	c.JSON(http.StatusOK, &AutoRefreshState{Paused: h.refresher.Paused()})
}

func (h *boardHandler) handleDrop(c *gin.Context) {
	creation := DropCreation{}
	if err := c.ShouldBindBodyWith(&creation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	if err := h.validator.Struct(creation); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	req, err := h.board.OnDrop(c.Request.Context(), creation.WorkOrderID, creation.TargetStatus)
	if err != nil {
		panic(err)
	}
	// dropped onto its own column
	if req == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, req)
}

// an unknown card has no drop targets
func (h *boardHandler) handleNextStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, h.board.NextStatuses(c.Param("id")))
}

func (h *boardHandler) handleConfirmTransition(c *gin.Context) {
	id := parseID(c, "id")
	confirmation := TransitionConfirmation{}
	if err := c.ShouldBindBodyWith(&confirmation, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}

	workOrder, err := h.board.Confirm(c.Request.Context(), id, confirmation.Values)
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, workOrder)
}

func (h *boardHandler) handleCancelTransition(c *gin.Context) {
	id := parseID(c, "id")
	if !h.board.Cancel(id) {
		panic(&bizerror.ErrNotFound{Message: "transition request " + id.String() + " not found"})
	}
	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context, param string) types.ID {
	id, err := types.ParseID(c.Param(param))
	if err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	return id
}
