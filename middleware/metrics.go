package middleware

import (
	"errors"
	"strconv"

	"guild-quest-rewards/metrics"

	"github.com/gofiber/fiber/v2"
)

// Metrics counts requests by method, matched route and status.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		metrics.RecordHTTPRequest(c.Method(), route, strconv.Itoa(status))
		return err
	}
}
