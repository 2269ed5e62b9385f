package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"masterchain.app/orchestrator/internal/model"
	"masterchain.app/orchestrator/internal/registry"
)

type ProviderHandler struct {
	registry *registry.Registry
}

func NewProviderHandler(reg *registry.Registry) *ProviderHandler {
	return &ProviderHandler{registry: reg}
}

// List exposes the provider catalog with live reliability and health, the
// same view the planner ranks candidates from.
func (h *ProviderHandler) List(c *gin.Context) {
	names := h.registry.Names()
	providers := make([]model.ModelDescriptor, 0, len(names))
	for _, name := range names {
		d, err := h.registry.Descriptor(name)
		if err != nil {
			continue
		}
		providers = append(providers, d)
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}
