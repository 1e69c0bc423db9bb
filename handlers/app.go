// handlers/app.go
package handlers

import (
	"strings"
	"time"

	"guild-quest-rewards/config"
	"guild-quest-rewards/metrics"
	"guild-quest-rewards/middleware"
	"guild-quest-rewards/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

// Deps are the components the HTTP surface is built from.
type Deps struct {
	Config       config.Config
	Progress     *services.ProgressService
	Achievements *services.AchievementService
	Claims       *services.ClaimEngine
	Wallet       *services.WalletService
	Log          logrus.FieldLogger
}

// NewApp builds the fiber app with every route mounted.
func NewApp(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "guild-quest-rewards",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          fiberErrorHandler(d.Log),
	})

	app.Use(recover.New())
	app.Use(middleware.Metrics())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(d.Config.AllowedOrigins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Service-Token",
		MaxAge:       86400,
	}))

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        d.Config.RateLimitMax,
		Expiration: d.Config.RateLimitWindow,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests from this IP, please try again later.",
			})
		},
	}))

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "OK",
			"message":   "Server is running",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	auth := middleware.JWTAuth(d.Config.JWTSecret, d.Log)
	SetupObjectiveRoutes(api, auth, d.Progress, d.Claims, d.Log)
	SetupAchievementRoutes(api, auth, d.Achievements, d.Claims, d.Log)
	SetupBlockchainRoutes(api, auth, d.Wallet, d.Log)

	serviceAuth := middleware.ServiceTokenAuth(d.Config.ServiceToken, d.Log)
	SetupInternalRoutes(app.Group("/internal", serviceAuth), d.Claims, d.Config.Reconcile, d.Log)
	app.Get("/metrics", serviceAuth, adaptor.HTTPHandler(metrics.Handler()))

	return app
}
