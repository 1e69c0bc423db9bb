// middleware/auth.go
package middleware

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const userIDKey = "user_id"

// JWTAuth verifies the HS256 bearer token issued by the auth collaborator and
// stores the caller's user id in c.Locals("user_id").
func JWTAuth(secret string, log logrus.FieldLogger) fiber.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if header == "" || token == "" || token == header {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success": false,
				"error":   "Access token required",
			})
		}

		claims := jwt.MapClaims{}
		parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil || !parsed.Valid {
			log.WithError(err).WithField("path", c.Path()).Debug("rejected bearer token")
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid or expired token",
			})
		}

		userID := userIDFromClaims(claims)
		if userID == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid or expired token",
			})
		}

		c.Locals(userIDKey, userID)
		return c.Next()
	}
}

// UserID returns the id set by JWTAuth, or "".
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(userIDKey).(string)
	return id
}

// userIDFromClaims reads "userid" (string or number), falling back to "sub".
func userIDFromClaims(claims jwt.MapClaims) string {
	for _, name := range []string{"userid", "user_id", "sub"} {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}
