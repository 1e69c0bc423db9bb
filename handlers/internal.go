package handlers

import (
	"guild-quest-rewards/config"
	"guild-quest-rewards/models"
	"guild-quest-rewards/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// SetupInternalRoutes mounts operator routes; the router is already guarded
// by the service token.
func SetupInternalRoutes(internal fiber.Router, claims *services.ClaimEngine, cfg config.ReconcileConfig, log logrus.FieldLogger) {
	internal.Post("/reconcile", func(c *fiber.Ctx) error {
		report, err := claims.Reconcile(c.UserContext(), services.ReconcileOptions{
			StaleAfter:  cfg.StaleAfter,
			MaxAttempts: cfg.MaxAttempts,
			BatchSize:   cfg.BatchSize,
		})
		if err != nil {
			// Partial sweeps still report what they did.
			log.WithError(err).Warn("reconcile sweep had errors")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   err.Error(),
				"report":  report,
			})
		}
		return c.JSON(fiber.Map{"success": true, "report": report})
	})

	internal.Get("/intents", func(c *fiber.Ctx) error {
		intents, err := claims.ListIntents(c.UserContext(), models.IntentStatus(c.Query("status")), c.QueryInt("limit", 100))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"success": true, "intents": intents})
	})
}
