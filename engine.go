package main

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediadesk/mediadesk/gateway"
)

// GetMainEngine function responsible for getting all of our routes to be delivered for fiber
func GetMainEngine() *fiber.App {
	route := fiber.New(fiber.Config{
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})
	route.Use(gateway.RequestID())
	route.Use(gateway.RequestLogger(logrusLogger, logSampling))
	route.Use(gateway.Instrumentation())
	route.Use(gateway.Cors(cfg.Cors))

	route.Get("/test", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{"message": true})
	})
	route.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	route.Static("/media", cfg.MediaDir)

	// Pub/Sub push deliveries carry no user token; the handler acks by
	// envelope content alone.
	route.Post("/pubsub/push", wrapHandler(mailService.PubSubPush))

	authGroup := route.Group("/auth")
	{
		authGroup.Post("/register", wrapHandler(studioService.Register))
		authGroup.Post("/login", wrapHandler(studioService.Login))
		authGroup.Post("/otp/generate", wrapHandler(studioService.GenerateOTP))
		authGroup.Post("/otp/verify", wrapHandler(studioService.VerifyOTP))
		authGroup.Post("/refresh", wrapHandler(studioService.Refresh))
		authGroup.Get("/me", auth.AuthMiddleware(), wrapHandler(studioService.Me))
		authGroup.Patch("/me", auth.AuthMiddleware(), wrapHandler(studioService.UpdateMe))
	}

	route.Post("/generate-image", auth.AuthMiddleware(), wrapHandler(studioService.GenerateImage))
	route.Post("/generate-video", auth.AuthMiddleware(), wrapHandler(studioService.GenerateVideo))
	route.Post("/generate-avatar", auth.AuthMiddleware(), wrapHandler(studioService.GenerateAvatar))
	route.Post("/generate-prompt", auth.AuthMiddleware(), wrapHandler(studioService.GeneratePrompt))
	route.Get("/image-status/:job_id", auth.AuthMiddleware(), wrapHandler(studioService.ImageStatus))
	route.Get("/video-status/:job_id", auth.AuthMiddleware(), wrapHandler(studioService.VideoStatus))
	route.Get("/avatar-status/:job_id", auth.AuthMiddleware(), wrapHandler(studioService.AvatarStatus))
	route.Get("/jobs", auth.AuthMiddleware(), wrapHandler(studioService.ListJobs))
	route.Post("/retry-job/:job_id", auth.AuthMiddleware(), wrapHandler(studioService.RetryJob))
	route.Delete("/delete-job/:job_id", auth.AuthMiddleware(), wrapHandler(studioService.DeleteJob))
	route.Post("/batch-generate", auth.AuthMiddleware(), wrapHandler(studioService.BatchGenerate))

	oauthGroup := route.Group("/oauth", auth.AuthMiddleware())
	{
		oauthGroup.Post("/google/callback", wrapHandler(mailService.GoogleCallback))
	}

	automationGroup := route.Group("/email-automation", auth.AuthMiddleware())
	{
		automationGroup.Post("/setup", wrapHandler(mailService.SetupWatch))
	}

	// Ops surface. Bearer tokens by default, dedicated admin credentials
	// when configured so operators can curl it without a user account.
	dashboardGuard := auth.AuthMiddleware()
	adminCfg := gateway.AdminAuthConfig{
		Key:      cfg.AdminKey,
		User:     cfg.AdminUser,
		Password: cfg.AdminPassword,
		Debug:    cfg.IsDebug,
	}
	if adminCfg.Configured() {
		dashboardGuard = gateway.RequireAdmin(adminCfg)
	}
	dashboardGroup := route.Group("/dashboard", dashboardGuard)
	{
		dashboardGroup.Get("/jobs", wrapHandler(dashService.ListJobs))
		dashboardGroup.Get("/count", wrapHandler(dashService.Counts))
		dashboardGroup.Get("/status", wrapHandler(dashService.Status))
	}

	return route
}

func wrapHandler(h interface{}) fiber.Handler {
	switch v := h.(type) {
	case func(*fiber.Ctx) error:
		return v
	case func(*fiber.Ctx):
		return func(c *fiber.Ctx) error {
			v(c)
			return nil
		}
	default:
		return func(c *fiber.Ctx) error {
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"code": "invalid_handler", "message": "unsupported handler type"})
		}
	}
}
