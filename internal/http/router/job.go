package router

import (
	"github.com/gin-gonic/gin"

	"masterchain.app/orchestrator/internal/http/handler"
)

func JobRouter(rg *gin.RouterGroup, h *handler.JobHandler, events *handler.JobEventsHandler) {
	rg.POST("", h.Submit)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.DELETE("/:id", h.Cancel)
	rg.GET("/:id/events", events.Stream)
}
