package servehttp

import (
	"net/http"

	"workshop/notify"

	"github.com/fundwit/go-commons/types"
	"github.com/gin-gonic/gin"
)

type NotificationTraits interface {
	Active() []notify.Toast
	Dismiss(id types.ID)
}

func RegisterNotificationHandler(r *gin.Engine, toasts NotificationTraits, middleWares ...gin.HandlerFunc) {
	g := r.Group("/v1/notifications", middleWares...)
	g.GET("", func(c *gin.Context) {
		c.JSON(http.StatusOK, toasts.Active())
	})
	g.DELETE(":id", func(c *gin.Context) {
		toasts.Dismiss(parseID(c, "id"))
		c.Status(http.StatusNoContent)
	})
}
