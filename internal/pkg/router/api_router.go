package router

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/wavecrate/wavecrate/app/controllers"
	"github.com/wavecrate/wavecrate/internal/pkg/cache"
	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
	"github.com/wavecrate/wavecrate/internal/pkg/env"
	"github.com/wavecrate/wavecrate/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:     120,
		Storage: newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "wavecrate api",
		})
	})

	store := contentstore.NewClientFromEnv()
	requireAuth := middleware.AuthMiddleware(store)
	optionalAuth := middleware.OptionalAuthMiddleware(store)

	v1 := api.Group("/v1")

	v1.Get("/credits/balance", requireAuth, controllers.HandleGetBalance)
	v1.Post("/credits/spend", requireAuth, controllers.HandleSpendCredits)

	v1.Get("/tracks/:id/entitlement", optionalAuth, controllers.HandleGetEntitlement)
	v1.Get("/tracks/:id/download", requireAuth, controllers.HandleDownloadTrack)
	v1.Get("/tracks/:id/stats", controllers.HandleGetTrackStats)

	v1.Post("/checkout/sessions", requireAuth, controllers.HandleCreateCheckoutSession)

	// The gateway authenticates through the signed payload, not a bearer token.
	v1.Post("/webhooks/payment", controllers.HandlePaymentWebhook)
}

// newLimiterStorage backs the rate limiter with Redis database 1 (the cache
// uses DB 0) so limits are shared between instances.
func newLimiterStorage() fiber.Storage {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
