package controllers

import (
	"log"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/wavecrate/wavecrate/internal/pkg/assets"
)

var validate = validator.New()

var (
	signerOnce sync.Once
	signer     *assets.Signer
)

// sharedSigner lazily builds the S3 presigner. Returns nil when the asset
// bucket is not configured; download URLs then fall back to the raw links
// on the track record.
func sharedSigner() *assets.Signer {
	signerOnce.Do(func() {
		s, err := assets.NewSignerFromEnv()
		if err != nil {
			log.Printf("asset signer unavailable: %v", err)
			return
		}
		signer = s
	})
	return signer
}

func errorJSON(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}
