// handlers/objectives.go
package handlers

import (
	"guild-quest-rewards/middleware"
	"guild-quest-rewards/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func SetupObjectiveRoutes(api fiber.Router, auth fiber.Handler, progress *services.ProgressService, claims *services.ClaimEngine, log logrus.FieldLogger) {
	// 🔐 All objective routes need a bearer token
	api.Get("/objectives/daily", auth, func(c *fiber.Ctx) error {
		objectives, err := progress.ListDaily(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"success":    true,
			"day":        progress.Today(),
			"objectives": objectives,
		})
	})

	api.Post("/objectives/progress", auth, func(c *fiber.Ctx) error {
		var req struct {
			ObjectiveID uint   `json:"objectiveId"`
			Progress    *int64 `json:"progress"`
			Mode        string `json:"mode"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
		}
		if req.Progress == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "progress is required"})
		}

		res, err := progress.UpdateProgress(c.UserContext(), services.ProgressUpdate{
			UserID:      middleware.UserID(c),
			ObjectiveID: req.ObjectiveID,
			Progress:    *req.Progress,
			Mode:        services.ProgressMode(req.Mode),
		})
		if err != nil {
			return writeError(c, log, err)
		}

		unlocked := make([]uint, 0, len(res.Unlocked))
		for _, a := range res.Unlocked {
			unlocked = append(unlocked, a.ID)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"progress": fiber.Map{
				"objective_id":     res.Objective.ID,
				"day":              res.Progress.Day,
				"current_progress": res.Progress.CurrentProgress,
				"requirement":      res.Objective.Requirement,
				"state":            res.Progress.State,
				"is_completed":     res.Progress.State.IsCompleted(),
				"can_claim":        res.Progress.State.CanClaim(),
			},
			"newly_completed":       res.NewlyCompleted,
			"unlocked_achievements": unlocked,
		})
	})

	api.Post("/objectives/claim/:objectiveId", auth, func(c *fiber.Ctx) error {
		objectiveID, err := uintParam(c, "objectiveId")
		if err != nil {
			return writeError(c, log, err)
		}
		res, err := claims.ClaimObjective(c.UserContext(), middleware.UserID(c), objectiveID)
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
