package handlers

import (
	"guild-quest-rewards/middleware"
	"guild-quest-rewards/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func SetupBlockchainRoutes(api fiber.Router, auth fiber.Handler, wallet *services.WalletService, log logrus.FieldLogger) {
	// 🔓 Public: ledger status passthrough
	api.Get("/blockchain/info", func(c *fiber.Ctx) error {
		info, err := wallet.Info(c.UserContext())
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"success": true, "blockchain_service": info})
	})

	// Reads as zero while the ledger is down; balance_available tells the two apart.
	api.Get("/blockchain/balance", auth, func(c *fiber.Ctx) error {
		view, err := wallet.Balance(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"success":           true,
			"balance":           view.Balance,
			"balance_available": view.Available,
		})
	})

	api.Post("/blockchain/spend", auth, func(c *fiber.Ctx) error {
		var req struct {
			Item string `json:"item"`
			Cost int64  `json:"cost"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid request body"})
		}
		receipt, err := wallet.Spend(c.UserContext(), middleware.UserID(c), req.Item, req.Cost)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"success":     true,
			"message":     receipt.Message,
			"new_balance": receipt.Balance,
		})
	})
}
