package middleware

import (
	"context"
	"strings"

	"waster/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// AuthRequired enforces a bearer JWT whose subject is the caller's user id.
// Identity is issued elsewhere; this only verifies the signature.
func AuthRequired(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return unauthorized(c, "Authorization header required")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return unauthorized(c, "Invalid authorization header format")
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return unauthorized(c, "Invalid or expired token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return unauthorized(c, "Invalid token structure - missing subject")
	}
	if len(sub) > 64 {
		return unauthorized(c, "Invalid user ID in token")
	}

	c.Locals("userID", sub)
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, sub))

	return c.Next()
}

// CurrentUserID returns the authenticated user id set by AuthRequired.
func CurrentUserID(c *fiber.Ctx) (string, bool) {
	uid, ok := c.Locals("userID").(string)
	return uid, ok && uid != ""
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": msg,
		"code":  "UNAUTHORIZED",
	})
}
