package admin

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"profile-backend/internal/engine"
	"profile-backend/internal/instrument"
	"profile-backend/internal/metadata"
	"profile-backend/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	oracle   *engine.SchemaOracle
	log      *zap.Logger
}

func NewHandler(s *store.Store, reg *metadata.Registry, oracle *engine.SchemaOracle, log *zap.Logger) *Handler {
	return &Handler{store: s, registry: reg, oracle: oracle, log: instrument.OrNop(log)}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/sections", h.ListSections)
	admin.Post("/sections/reload", h.ReloadSections)
}

// ListSections handles GET /api/_admin/sections
func (h *Handler) ListSections(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": BuildReport(c.UserContext(), h.registry, h.oracle)})
}

// ReloadSections handles POST /api/_admin/sections/reload
func (h *Handler) ReloadSections(c *fiber.Ctx) error {
	ctx := c.UserContext()
	log := instrument.FromContext(ctx, h.log)
	if err := metadata.LoadSections(ctx, h.store.DB, h.registry, log); err != nil {
		return err
	}
	report := BuildReport(ctx, h.registry, h.oracle)
	log.Info("section catalog reloaded",
		zap.Int("sections", len(report.Sections)), zap.Int("drifted", report.Drifted))
	return c.JSON(fiber.Map{"data": report})
}
