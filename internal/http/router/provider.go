package router

import (
	"github.com/gin-gonic/gin"

	"masterchain.app/orchestrator/internal/http/handler"
)

func ProviderRouter(rg *gin.RouterGroup, h *handler.ProviderHandler) {
	rg.GET("", h.List)
}
