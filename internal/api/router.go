package api

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/contrib/otelfiber/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forum-api/internal/jwt"
)

type Handlers struct {
	Auth     *AuthHandler
	OAuth    *OAuthHandler
	Identity *IdentityHandler
	File     *FileHandler
	Cache    *CacheHandler
}

type RouterConfig struct {
	ServiceName    string
	AllowedOrigins []string
	StripAPIPrefix bool
	// RatePerMinute of zero disables the per-IP limiter.
	RatePerMinute  int
	TrustedProxies []string
}

func NewRouter(cfg RouterConfig, tokens *jwt.Manager, revoked RevocationChecker, h Handlers) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:                 cfg.ServiceName,
		ErrorHandler:            jsonErrorHandler,
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          cfg.TrustedProxies,
		EnableIPValidation:      true,
	})

	if cfg.StripAPIPrefix {
		app.Use(StripAPIPrefix())
	}
	app.Use(otelfiber.Middleware())
	app.Use(PrometheusMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowCredentials: true,
	}))
	if cfg.RatePerMinute > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:          cfg.RatePerMinute,
			Expiration:   time.Minute,
			KeyGenerator: ClientIP(cfg.TrustedProxies),
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == "/health" || c.Path() == "/metrics"
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many requests"})
			},
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.ServiceName})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	authRequired := AuthMiddleware(tokens, revoked)
	adminOnly := AdminMiddleware()

	authRoutes := app.Group("/auth")
	authRoutes.Post("/register", h.Auth.Register)
	authRoutes.Post("/verify-email", h.Auth.VerifyEmail)
	authRoutes.Post("/resend-verification", h.Auth.ResendVerification)
	authRoutes.Post("/forgot-password", h.Auth.ForgotPassword)
	authRoutes.Post("/reset-password", h.Auth.ResetPassword)
	authRoutes.Post("/login", h.Auth.Login)
	authRoutes.Post("/refresh", h.Auth.Refresh)
	authRoutes.Post("/logout", authRequired, h.Auth.Logout)

	userRoutes := app.Group("/users")
	userRoutes.Get("/public/:id", h.Auth.GetPublicProfile)
	userRoutes.Get("/me", authRequired, h.Auth.GetUserProfile)
	userRoutes.Put("/me", authRequired, h.Auth.UpdateProfile)
	userRoutes.Delete("/me", authRequired, h.Auth.DeleteAccount)
	userRoutes.Post("/me/device-token", authRequired, h.Auth.RegisterDeviceToken)
	userRoutes.Put("/:id/role", authRequired, adminOnly, h.Auth.ChangeRole)

	oauthRoutes := app.Group("/oauth")
	oauthRoutes.Get("/authorize", authRequired, h.OAuth.Authorize)
	oauthRoutes.Post("/authorize", authRequired, h.OAuth.Consent)
	oauthRoutes.Post("/token", h.OAuth.Token)
	oauthRoutes.Get("/userinfo", h.OAuth.UserInfo)
	oauthRoutes.Post("/userinfo", h.OAuth.UserInfo)
	oauthRoutes.Post("/revoke", h.OAuth.Revoke)
	oauthRoutes.Get("/clients", authRequired, adminOnly, h.OAuth.ListClients)
	oauthRoutes.Post("/clients", authRequired, adminOnly, h.OAuth.CreateClient)

	identityRoutes := app.Group("/identities")
	identityRoutes.Get("/types", h.Identity.ListTypes)
	identityRoutes.Post("/request", authRequired, h.Identity.Request)
	identityRoutes.Get("/my-requests", authRequired, h.Identity.MyRequests)
	identityRoutes.Get("/my-verified", authRequired, h.Identity.MyVerified)
	identityRoutes.Put("/:id/update", authRequired, h.Identity.Update)

	identityAdmin := identityRoutes.Group("/admin", authRequired, adminOnly)
	identityAdmin.Get("/pending", h.Identity.ListPending)
	identityAdmin.Post("/:id/approve", h.Identity.Approve)
	identityAdmin.Post("/:id/reject", h.Identity.Reject)
	identityAdmin.Post("/:id/revoke", h.Identity.Revoke)

	fileRoutes := app.Group("/files", authRequired)
	fileRoutes.Post("/upload", h.File.RequestUpload)
	fileRoutes.Get("/:id", h.File.ViewURL)

	cacheRoutes := app.Group("/admin/cache", authRequired, adminOnly)
	cacheRoutes.Get("/stats", h.Cache.Stats)
	cacheRoutes.Post("/clear", h.Cache.Clear)
	cacheRoutes.Post("/warm", h.Cache.Warm)
	cacheRoutes.Post("/refresh", h.Cache.Refresh)

	return app
}

func jsonErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
