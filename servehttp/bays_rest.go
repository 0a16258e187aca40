package servehttp

import (
	"net/http"

	"workshop/bizerror"
	"workshop/domain/bay"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

func RegisterBayHandler(r *gin.Engine, bays bay.BayAllocationTraits, middleWares ...gin.HandlerFunc) {
	handler := &bayHandler{bays: bays}

	g := r.Group("/v1/bays", middleWares...)
	g.GET("", handler.handleQueryBays)
	g.GET(":id/history", handler.handleBayHistory)
	g.POST(":id/assignments", handler.handleAssign)
	g.POST(":id/releases", handler.handleRelease)

	r.GET("/v1/dashboard", append(middleWares, handler.handleDashboard)...)
}

// commands are validated by the manager so that rejections also raise a toast
type bayHandler struct {
	bays bay.BayAllocationTraits
}

func (h *bayHandler) handleQueryBays(c *gin.Context) {
	bays, err := h.bays.Load(c.Request.Context())
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, bays)
}

func (h *bayHandler) handleBayHistory(c *gin.Context) {
	history, err := h.bays.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, history)
}

func (h *bayHandler) handleAssign(c *gin.Context) {
	cmd := bay.AssignCommand{}
	if err := c.ShouldBindBodyWith(&cmd, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	cmd.BayID = c.Param("id")

	updated, err := h.bays.Assign(c.Request.Context(), cmd)
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusCreated, updated)
}

func (h *bayHandler) handleRelease(c *gin.Context) {
	cmd := bay.ReleaseCommand{}
	if err := c.ShouldBindBodyWith(&cmd, binding.JSON); err != nil {
		panic(&bizerror.ErrBadParam{Cause: err})
	}
	cmd.BayID = c.Param("id")

	outcome, err := h.bays.Release(c.Request.Context(), cmd)
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *bayHandler) handleDashboard(c *gin.Context) {
	dashboard, err := h.bays.Dashboard(c.Request.Context())
	if err != nil {
		panic(err)
	}
	c.JSON(http.StatusOK, dashboard)
}
