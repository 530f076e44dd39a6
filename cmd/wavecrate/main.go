package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/wavecrate/wavecrate/app/repository"
	"github.com/wavecrate/wavecrate/internal/pkg/cache"
	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
	"github.com/wavecrate/wavecrate/internal/pkg/database"
	"github.com/wavecrate/wavecrate/internal/pkg/env"
	"github.com/wavecrate/wavecrate/internal/pkg/metrics/counter"
	"github.com/wavecrate/wavecrate/internal/pkg/purchase"
	"github.com/wavecrate/wavecrate/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		AppName: "wavecrate",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "test"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app)

	startBackgroundJobs()

	return app
}

// startBackgroundJobs runs the periodic maintenance loops: draining the
// Redis track counters into MySQL and sweeping stale purchase attempts.
func startBackgroundJobs() {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if err := counter.FlushAll(); err != nil {
				log.Printf("track stats flush failed: %v", err)
			}
		}
	}()

	go func() {
		rec := purchase.NewReconciler(
			contentstore.NewClientFromEnv(),
			repository.NewPurchaseAttemptRepository(database.GetDB()),
		)
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			n, err := rec.Run(ctx)
			cancel()
			if err != nil {
				log.Printf("purchase attempt reconciliation failed: %v", err)
			} else if n > 0 {
				log.Printf("reconciled %d stale purchase attempts", n)
			}
		}
	}()
}
