package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"profile-backend/internal/engine"
	"profile-backend/internal/instrument"
	"profile-backend/internal/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store     *store.Store
	jwtSecret string
	validate  *validator.Validate
	log       *zap.Logger
}

func NewAuthHandler(s *store.Store, jwtSecret string, log *zap.Logger) *AuthHandler {
	return &AuthHandler{store: s, jwtSecret: jwtSecret, validate: engine.NewValidator(), log: instrument.OrNop(log)}
}

type registerRequest struct {
	UserType string `json:"tipo" validate:"required,oneof=Estudiante Universidad"`
	Username string `json:"nombreusuario" validate:"required,max=100"`
	Mail     string `json:"mail" validate:"required,email"`
	Password string `json:"contrasena" validate:"required,min=6"`
}

type loginRequest struct {
	Mail     string `json:"mail" validate:"required,email"`
	Password string `json:"contrasena" validate:"required"`
}

type session struct {
	UserID    int64  `json:"id_usuario"`
	ProfileID int64  `json:"id_perfil"`
	UserType  string `json:"tipo"`
	*Token
}

// Register handles POST /api/auth/register. The user and its empty profile
// are created in one transaction.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var body registerRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError()
	}
	body.Mail = strings.ToLower(strings.TrimSpace(body.Mail))
	if err := engine.ValidateStruct(h.validate, body); err != nil {
		return err
	}

	hash, err := HashPassword(body.Password)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	out := session{UserType: body.UserType}
	err = h.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO usuarios (tipo, nombreusuario, mail, contrasena_hash) VALUES ($1, $2, $3, $4) RETURNING id`,
			body.UserType, body.Username, body.Mail, hash).Scan(&out.UserID); err != nil {
			return store.MapError(err)
		}
		return store.MapError(tx.QueryRowContext(ctx,
			`INSERT INTO perfiles (idusuario) VALUES ($1) RETURNING id`, out.UserID).Scan(&out.ProfileID))
	})
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return engine.ConflictError("Mail is already registered")
		}
		return err
	}

	out.Token, err = h.issue(ctx, out.UserID, out.UserType)
	if err != nil {
		return err
	}
	instrument.FromContext(ctx, h.log).Info("user registered",
		zap.Int64("user_id", out.UserID), zap.String("user_type", out.UserType))
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": out})
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body loginRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError()
	}
	body.Mail = strings.ToLower(strings.TrimSpace(body.Mail))
	if err := engine.ValidateStruct(h.validate, body); err != nil {
		return err
	}

	ctx := c.UserContext()
	var (
		out  session
		hash string
	)
	err := h.store.DB.QueryRowContext(ctx, `
		SELECT u.id, u.tipo, u.contrasena_hash, COALESCE(p.id, 0)
		FROM usuarios u
		LEFT JOIN perfiles p ON p.idusuario = u.id
		WHERE u.mail = $1`, body.Mail).Scan(&out.UserID, &out.UserType, &hash, &out.ProfileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return engine.UnauthorizedError("Invalid mail or password")
		}
		return store.MapError(err)
	}
	if !CheckPassword(body.Password, hash) {
		return engine.UnauthorizedError("Invalid mail or password")
	}

	out.Token, err = h.issue(ctx, out.UserID, out.UserType)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": out})
}

func (h *AuthHandler) issue(ctx context.Context, userID int64, userType string) (*Token, error) {
	token, err := GenerateAccessToken(userID, userType, h.jwtSecret)
	if err != nil {
		instrument.FromContext(ctx, h.log).Error("issue token", zap.Error(err))
		return nil, engine.NewAppError("INTERNAL_ERROR", fiber.StatusInternalServerError, "Failed to generate access token")
	}
	return token, nil
}

// RegisterAuthRoutes registers auth routes on the given Fiber app.
func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	auth := app.Group("/api/auth")
	auth.Post("/register", h.Register)
	auth.Post("/login", h.Login)
}
