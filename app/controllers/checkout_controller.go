package controllers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/wavecrate/wavecrate/internal/pkg/env"
	"github.com/wavecrate/wavecrate/internal/pkg/payment"
	"github.com/wavecrate/wavecrate/internal/pkg/usercontext"
)

// CreateCheckoutSessionRequest is the body for POST /api/v1/checkout/sessions.
type CreateCheckoutSessionRequest struct {
	PriceRef   string `json:"price_ref" validate:"required"`
	Mode       string `json:"mode" validate:"required,oneof=payment subscription"`
	SuccessURL string `json:"success_url" validate:"omitempty,url"`
	CancelURL  string `json:"cancel_url" validate:"omitempty,url"`
}

// HandleCreateCheckoutSession opens a hosted checkout session at the payment
// gateway. The buyer's email rides along as metadata so webhook events can
// be mapped back to the content store account later.
func HandleCreateCheckoutSession(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req CreateCheckoutSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = env.GetEnv("CHECKOUT_SUCCESS_URL", "")
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = env.GetEnv("CHECKOUT_CANCEL_URL", "")
	}
	if successURL == "" || cancelURL == "" {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "success_url and cancel_url are required")
	}

	gateway := payment.NewGatewayFromEnv()
	session, err := gateway.CreateCheckoutSession(c.Context(), payment.CheckoutSessionParams{
		PriceRef:          req.PriceRef,
		Mode:              req.Mode,
		SuccessURL:        successURL,
		CancelURL:         cancelURL,
		CustomerEmail:     userCtx.Email,
		ClientReferenceID: uuid.NewString(),
		Metadata: map[string]string{
			payment.BuyerEmailMetadataKey: userCtx.Email,
		},
	})
	if err != nil {
		log.Printf("checkout session creation failed for user %s: %v", userCtx.UserID, err)
		return errorJSON(c, fiber.StatusBadGateway, "upstream_unavailable", "Failed to create checkout session")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": session.ID,
		"url":        session.URL,
	})
}
