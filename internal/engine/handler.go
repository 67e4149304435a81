package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"profile-backend/internal/instrument"
	"profile-backend/internal/metadata"
)

type Handler struct {
	registry *metadata.Registry
	profiles *Profiles
	sections *Sections
	validate *validator.Validate
}

func NewHandler(reg *metadata.Registry, profiles *Profiles, sections *Sections) *Handler {
	return &Handler{registry: reg, profiles: profiles, sections: sections, validate: NewValidator()}
}

type addSectionRequest struct {
	SectionID int64  `json:"id_seccion" validate:"required,gt=0"`
	Order     *int   `json:"orden" validate:"omitempty,gte=0"`
	Visible   *bool  `json:"visible"`
	Data      Record `json:"datos"`
}

// updateSectionRequest keeps orden raw so an explicit null can clear it.
type updateSectionRequest struct {
	Order   json.RawMessage `json:"orden"`
	Visible *bool           `json:"visible"`
	Data    Record          `json:"datos"`
}

// ListSectionTypes handles GET /api/sections
func (h *Handler) ListSectionTypes(c *fiber.Ctx) error {
	userType := ""
	if user := getUser(c); user != nil && c.Query("all") != "true" {
		userType = user.UserType
	}
	return c.JSON(fiber.Map{"data": h.registry.ListAvailable(userType)})
}

// ListProfiles handles GET /api/profiles
func (h *Handler) ListProfiles(c *fiber.Ctx) error {
	page, err := h.profiles.List(c.UserContext(), c.QueryInt("page", 1), c.QueryInt("per_page", DefaultPerPage))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// ListExpandedProfiles handles GET /api/profiles/expanded
func (h *Handler) ListExpandedProfiles(c *fiber.Ctx) error {
	page, err := h.profiles.ListExpanded(c.UserContext(), c.QueryInt("page", 1), c.QueryInt("per_page", DefaultPerPage))
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// GetMyProfile handles GET /api/profiles/me
func (h *Handler) GetMyProfile(c *fiber.Ctx) error {
	userID, err := callerID(c)
	if err != nil {
		return err
	}
	profile, err := h.profiles.GetExpandedByUser(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFoundError("profile for user", strconv.FormatInt(userID, 10))
		}
		return err
	}
	return c.JSON(fiber.Map{"data": profile})
}

// GetExpandedProfile handles GET /api/profiles/:id/expanded
func (h *Handler) GetExpandedProfile(c *fiber.Ctx) error {
	id, err := ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	profile, err := h.profiles.GetExpanded(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFoundError("profile", c.Params("id"))
		}
		return err
	}

	view := *profile
	if userID, err := callerID(c); err != nil || userID != profile.OwnerID {
		view = profile.VisibleOnly()
	}
	return c.JSON(fiber.Map{"data": view})
}

// GetProfile handles GET /api/profiles/:id
func (h *Handler) GetProfile(c *fiber.Ctx) error {
	id, err := ParseID(c.Params("id"), "id")
	if err != nil {
		return err
	}
	profile, err := h.profiles.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFoundError("profile", c.Params("id"))
		}
		return err
	}
	return c.JSON(fiber.Map{"data": profile})
}

// ListMySections handles GET /api/profiles/me/sections
func (h *Handler) ListMySections(c *fiber.Ctx) error {
	profileID, err := h.callerProfile(c)
	if err != nil {
		return err
	}
	entries, err := h.sections.List(c.UserContext(), nil, profileID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

// AddSection handles POST /api/profiles/me/sections
func (h *Handler) AddSection(c *fiber.Ctx) error {
	profileID, err := h.callerProfile(c)
	if err != nil {
		return err
	}

	var body addSectionRequest
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError()
	}
	if err := ValidateStruct(h.validate, body); err != nil {
		return err
	}

	added, err := h.sections.Add(c.UserContext(), AddSectionInput{
		ProfileID: profileID,
		SectionID: body.SectionID,
		Order:     body.Order,
		Visible:   body.Visible,
		Data:      body.Data,
		UserType:  getUser(c).UserType,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": added})
}

// UpdateSection handles PUT /api/profiles/me/sections/:instanceId
func (h *Handler) UpdateSection(c *fiber.Ctx) error {
	instanceID, err := ParseID(c.Params("instanceId"), "instanceId")
	if err != nil {
		return err
	}
	profileID, err := h.callerProfile(c)
	if err != nil {
		return err
	}

	var body updateSectionRequest
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError()
	}
	changes, err := body.changes()
	if err != nil {
		return err
	}

	updated, err := h.sections.Update(c.UserContext(), instanceID, profileID, changes)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFoundError("section", c.Params("instanceId"))
		}
		return err
	}
	return c.JSON(fiber.Map{"data": updated})
}

// RemoveSection handles DELETE /api/profiles/me/sections/:instanceId
func (h *Handler) RemoveSection(c *fiber.Ctx) error {
	instanceID, err := ParseID(c.Params("instanceId"), "instanceId")
	if err != nil {
		return err
	}
	profileID, err := h.callerProfile(c)
	if err != nil {
		return err
	}

	removed, err := h.sections.Remove(c.UserContext(), instanceID, profileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return NotFoundError("section", c.Params("instanceId"))
		}
		return err
	}
	return c.JSON(fiber.Map{"data": removed})
}

func (r updateSectionRequest) changes() (SectionChanges, error) {
	ch := SectionChanges{Visible: r.Visible, Data: r.Data}
	switch {
	case len(r.Order) == 0:
	case bytes.Equal(bytes.TrimSpace(r.Order), []byte("null")):
		ch.ClearOrder = true
	default:
		var order int
		if err := json.Unmarshal(r.Order, &order); err != nil || order < 0 {
			return ch, invalidField("orden", "gte", "Must be a non-negative integer or null")
		}
		ch.Order = &order
	}
	return ch, nil
}

// ParseID parses a positive numeric id from a path segment. Anything else
// is a validation failure, raised before storage is touched.
func ParseID(raw, field string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, invalidField(field, "numeric", "Must be a positive integer")
	}
	return id, nil
}

func (h *Handler) callerProfile(c *fiber.Ctx) (int64, error) {
	userID, err := callerID(c)
	if err != nil {
		return 0, err
	}
	id, err := h.profiles.ProfileIDForUser(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, NotFoundError("profile for user", strconv.FormatInt(userID, 10))
		}
		return 0, err
	}
	return id, nil
}

func callerID(c *fiber.Ctx) (int64, error) {
	user := getUser(c)
	if user == nil {
		return 0, UnauthorizedError("Missing auth token")
	}
	id, ok := user.UserID()
	if !ok {
		return 0, UnauthorizedError("Invalid user id in token")
	}
	return id, nil
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

// ErrorHandler renders handler errors as ErrorResponse. Unclassified
// errors are logged with the request logger and hidden behind a 500.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		appErr := ToAppError(err)
		if appErr.Status >= fiber.StatusInternalServerError {
			instrument.FromContext(c.UserContext(), log).Error("request failed",
				zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}
}
