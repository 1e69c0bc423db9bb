// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ServiceTokenAuth guards operator routes with the shared SERVICE_TOKEN.
// The token is read from X-Service-Token, or from a Bearer header.
// With no token configured every request is refused.
func ServiceTokenAuth(expected string, log logrus.FieldLogger) fiber.Handler {
	if expected == "" {
		log.Warn("SERVICE_TOKEN is not set, internal routes are disabled")
	}

	return func(c *fiber.Ctx) error {
		if expected == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   "internal routes are disabled",
			})
		}

		token := c.Get("X-Service-Token")
		if token == "" {
			token = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		}
		if token == "" {
			log.WithField("path", c.Path()).Warn("🚫 service token missing")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "service token missing",
			})
		}

		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			log.WithField("path", c.Path()).Warn("❌ invalid service token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "invalid service token",
			})
		}
		return c.Next()
	}
}
