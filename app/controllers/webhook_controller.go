package controllers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wavecrate/wavecrate/internal/pkg/database"
	"github.com/wavecrate/wavecrate/internal/pkg/env"
	"github.com/wavecrate/wavecrate/internal/pkg/payment"
)

// HandlePaymentWebhook receives payment gateway events. The raw body is
// verified against the signing secret before any parsing happens; once the
// signature checks out the event is acknowledged with 200 no matter how
// reconciliation goes, so the gateway never retries an event we already
// stored.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Webhook-Signature")
	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")

	event, err := payment.ConstructEvent(rawBody, signature, secret)
	if err != nil {
		log.Printf("webhook rejected: %v", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	bridge := payment.NewBridgeFromDB(database.GetDB())
	created, stored, err := bridge.RecordEvent(event, rawBody, true)
	if err != nil {
		// A signature-valid event is always acked with 200; failures land
		// in the log, never in the response.
		log.Printf("webhook persist failed for event %s: %v", event.ID, err)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "stored": false})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	reconcileErr := bridge.Reconcile(ctx, event)
	if reconcileErr != nil {
		log.Printf("webhook reconciliation failed for event %s (%s): %v", event.ID, event.Type, reconcileErr)
	}
	if err := bridge.MarkProcessed(stored.ID, reconcileErr); err != nil {
		log.Printf("failed to mark webhook event %s processed: %v", event.ID, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
