package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"profile-backend/internal/engine"
	"profile-backend/internal/metadata"
)

const callerLocal = "user"

// RequireCaller admits requests carrying a signed access token whose subject
// is a usuarios id and whose claims name a user type. The caller is stored in
// Locals for GetUser and the engine handlers.
func RequireCaller(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return engine.UnauthorizedError("Bearer token required")
		}
		claims, err := ParseAccessToken(raw, secret)
		if err != nil {
			return engine.UnauthorizedError("Invalid or expired token")
		}

		caller := &metadata.UserContext{ID: claims.Subject, UserType: claims.UserType}
		if _, ok := caller.UserID(); !ok || caller.UserType == "" {
			return engine.UnauthorizedError("Token does not identify a user")
		}
		c.Locals(callerLocal, caller)
		return c.Next()
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireUserType admits callers of one of the given user types. It runs
// after RequireCaller.
func RequireUserType(userTypes ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := GetUser(c)
		if caller == nil {
			return engine.UnauthorizedError("Bearer token required")
		}
		for _, t := range userTypes {
			if caller.Is(t) {
				return c.Next()
			}
		}
		return engine.ForbiddenError(strings.Join(userTypes, " or ") + " access required")
	}
}

// GetUser returns the caller stored by RequireCaller, or nil.
func GetUser(c *fiber.Ctx) *metadata.UserContext {
	caller, _ := c.Locals(callerLocal).(*metadata.UserContext)
	return caller
}
