package router

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"masterchain.app/orchestrator/internal/engine"
	"masterchain.app/orchestrator/internal/http/handler"
	"masterchain.app/orchestrator/internal/registry"
	"masterchain.app/orchestrator/internal/storage"
)

type RouterConfig struct {
	IsProduction bool
}

func SetupRoutes(router *gin.Engine, eng *engine.Engine, reg *registry.Registry, st storage.Storage, redisClient *redis.Client, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		jobHandler := handler.NewJobHandler(eng)
		eventsHandler := handler.NewJobEventsHandler(eng, redisClient)
		JobRouter(v1.Group("/jobs"), jobHandler, eventsHandler)

		providerHandler := handler.NewProviderHandler(reg)
		ProviderRouter(v1.Group("/providers"), providerHandler)

		fileHandler := handler.NewFileHandler(st)
		FileRouter(v1.Group("/files"), fileHandler)
	}
}
