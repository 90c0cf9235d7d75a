package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserIDKey is the request local holding the authenticated user id.
const UserIDKey = "user_id"

// Authenticator resolves a raw token to a user id.
type Authenticator interface {
	Authenticate(token string) (int64, error)
}

// JWTAuth guards a route with the token found in the Authorization header.
// The header carries the raw token; a "Bearer " prefix is accepted and stripped.
func JWTAuth(authn Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if len(token) > len("bearer ") && strings.EqualFold(token[:len("bearer ")], "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		id, err := authn.Authenticate(token)
		if err != nil {
			return err
		}
		c.Locals(UserIDKey, id)
		return c.Next()
	}
}

// UserID returns the id stored by JWTAuth.
func UserID(c *fiber.Ctx) (int64, bool) {
	id, ok := c.Locals(UserIDKey).(int64)
	return id, ok && id > 0
}
