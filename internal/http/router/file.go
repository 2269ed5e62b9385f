package router

import (
	"github.com/gin-gonic/gin"

	"masterchain.app/orchestrator/internal/http/handler"
)

func FileRouter(rg *gin.RouterGroup, h *handler.FileHandler) {
	rg.POST("", h.Upload)
	rg.GET("", h.Download)
}
