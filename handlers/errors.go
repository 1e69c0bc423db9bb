// handlers/errors.go
package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"guild-quest-rewards/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// writeError maps service errors onto HTTP status codes.
func writeError(c *fiber.Ctx, log logrus.FieldLogger, err error) error {
	status, code, msg := classify(err)
	if status >= fiber.StatusInternalServerError {
		log.WithError(err).WithFields(logrus.Fields{
			"path":   c.Path(),
			"method": c.Method(),
		}).Error("request failed")
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

func classify(err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, services.ErrAlreadyClaimed):
		return fiber.StatusConflict, "already_claimed", "Reward already claimed"
	case errors.Is(err, services.ErrNotCompleted):
		return fiber.StatusBadRequest, "not_completed", "Not completed yet"
	case errors.Is(err, services.ErrLedgerRejected):
		return fiber.StatusBadRequest, "ledger_rejected", ledgerMessage(err, "Blockchain operation failed")
	case errors.Is(err, services.ErrLedgerUnavailable):
		return fiber.StatusServiceUnavailable, "ledger_unavailable", "Blockchain service unavailable, please retry"
	case errors.Is(err, services.ErrAccountUnavailable):
		return fiber.StatusServiceUnavailable, "account_unavailable", "Blockchain account unavailable, please retry"
	}
	return fiber.StatusInternalServerError, "internal_error", "Internal server error"
}

func ledgerMessage(err error, fallback string) string {
	var le *services.LedgerError
	if errors.As(err, &le) && le.Message != "" {
		return le.Message
	}
	return fallback
}

// uintParam reads a positive integer route parameter.
func uintParam(c *fiber.Ctx, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: invalid %s", services.ErrValidation, name)
	}
	return uint(v), nil
}

// fiberErrorHandler renders errors that escape handlers (unknown routes,
// body limits, panics caught by recover).
func fiberErrorHandler(log logrus.FieldLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			msg := fe.Message
			if fe.Code == fiber.StatusNotFound {
				msg = "Route not found"
			}
			return c.Status(fe.Code).JSON(fiber.Map{"success": false, "error": msg})
		}
		return writeError(c, log, err)
	}
}
