package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/openipc-ragbot/internal/service"
)

// HealthCheck probes one collaborator. A nil check means not configured.
type HealthCheck func(ctx context.Context) error

// SourcesHandler serves the configured sources and collaborator health.
type SourcesHandler struct {
	catalog *service.SourceCatalog
	checks  map[string]HealthCheck
}

// NewSourcesHandler creates a new sources handler.
func NewSourcesHandler(catalog *service.SourceCatalog, checks map[string]HealthCheck) *SourcesHandler {
	return &SourcesHandler{catalog: catalog, checks: checks}
}

// Register sets up source and health routes.
func (h *SourcesHandler) Register(router fiber.Router) {
	router.Get("/sources", h.List)
	router.Get("/health", h.Health)
}

// List returns every configured source.
func (h *SourcesHandler) List(c fiber.Ctx) error {
	return c.JSON(h.catalog.Descriptors())
}

// Health reports each collaborator as ok, unavailable or not configured.
func (h *SourcesHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	components := make(fiber.Map, len(h.checks))
	for name, check := range h.checks {
		if check == nil {
			components[name] = "not configured"
			continue
		}
		if err := check(ctx); err != nil {
			components[name] = "unavailable: " + err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	return c.JSON(fiber.Map{
		"status":     status,
		"components": components,
	})
}
