package engine

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the profile and section routes behind middleware.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api", middleware...)

	api.Get("/sections", h.ListSectionTypes)

	api.Get("/profiles", h.ListProfiles)
	api.Get("/profiles/expanded", h.ListExpandedProfiles)
	api.Get("/profiles/me", h.GetMyProfile)
	api.Get("/profiles/me/sections", h.ListMySections)
	api.Post("/profiles/me/sections", h.AddSection)
	api.Put("/profiles/me/sections/:instanceId", h.UpdateSection)
	api.Delete("/profiles/me/sections/:instanceId", h.RemoveSection)
	api.Get("/profiles/:id/expanded", h.GetExpandedProfile)
	api.Get("/profiles/:id", h.GetProfile)
}
