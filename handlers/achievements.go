package handlers

import (
	"guild-quest-rewards/middleware"
	"guild-quest-rewards/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func SetupAchievementRoutes(api fiber.Router, auth fiber.Handler, achievements *services.AchievementService, claims *services.ClaimEngine, log logrus.FieldLogger) {
	api.Get("/achievements", auth, func(c *fiber.Ctx) error {
		list, err := achievements.List(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"success": true, "achievements": list})
	})

	// Unlocking twice is a silent success.
	api.Post("/achievements/unlock/:achievementId", auth, func(c *fiber.Ctx) error {
		id, err := uintParam(c, "achievementId")
		if err != nil {
			return writeError(c, log, err)
		}
		created, err := achievements.Unlock(c.UserContext(), middleware.UserID(c), id)
		if err != nil {
			return writeError(c, log, err)
		}
		msg := "Achievement unlocked!"
		if !created {
			msg = "Achievement already unlocked"
		}
		return c.JSON(fiber.Map{
			"success":          true,
			"message":          msg,
			"already_unlocked": !created,
		})
	})

	api.Post("/achievements/claim/:achievementId", auth, func(c *fiber.Ctx) error {
		id, err := uintParam(c, "achievementId")
		if err != nil {
			return writeError(c, log, err)
		}
		res, err := claims.ClaimAchievement(c.UserContext(), middleware.UserID(c), id)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"success":     true,
			"message":     res.Message,
			"new_balance": res.NewBalance,
		})
	})
}
