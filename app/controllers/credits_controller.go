package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
	"github.com/wavecrate/wavecrate/internal/pkg/credits"
	"github.com/wavecrate/wavecrate/internal/pkg/database"
	"github.com/wavecrate/wavecrate/internal/pkg/purchase"
	"github.com/wavecrate/wavecrate/internal/pkg/usercontext"
)

// SpendCreditsRequest is the body for POST /api/v1/credits/spend.
type SpendCreditsRequest struct {
	TrackID string `json:"track_id" validate:"required"`
	Amount  int    `json:"amount" validate:"required,gt=0"`
}

// HandleSpendCredits runs the purchase sequence for the authenticated user.
func HandleSpendCredits(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	var req SpendCreditsRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Invalid JSON body")
	}
	if err := validate.Struct(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	svc := purchase.NewServiceFromDB(database.GetDB(), sharedSigner())
	result, err := svc.SpendCredits(c.Context(), userCtx.Token, userCtx.UserID, req.TrackID, req.Amount)
	if err != nil {
		return spendErrorResponse(c, err)
	}

	return c.JSON(result)
}

func spendErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, purchase.ErrInsufficientCredits):
		return errorJSON(c, fiber.StatusUnprocessableEntity, "insufficient_credits", "Not enough credits for this purchase")
	case errors.Is(err, purchase.ErrPurchaseInProgress):
		return errorJSON(c, fiber.StatusConflict, "purchase_in_progress", "Another purchase for this user is still running")
	case errors.Is(err, purchase.ErrTrackAlreadyOwned):
		return errorJSON(c, fiber.StatusConflict, "track_owned", "Producers cannot purchase their own tracks")
	case errors.Is(err, purchase.ErrTrackAlreadyPurchased):
		return errorJSON(c, fiber.StatusConflict, "already_purchased", "Track is already fully purchased")
	}

	var stepErr *purchase.StepError
	if errors.As(err, &stepErr) {
		log.Printf("spend credits failed at step %s: %v", stepErr.Step, stepErr.Err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "upstream_write_failed",
			"message": "Purchase could not be completed",
			"step":    stepErr.Step,
		})
	}

	log.Printf("spend credits failed: %v", err)
	return errorJSON(c, fiber.StatusBadRequest, "invalid_request", err.Error())
}

// HandleGetBalance returns the caller's current credit balances, read fresh
// from the content store.
func HandleGetBalance(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	store := contentstore.NewClientFromEnv()
	user, err := store.GetUser(c.Context(), userCtx.Token, userCtx.UserID)
	if err != nil {
		if contentstore.IsNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		log.Printf("balance lookup failed for user %s: %v", userCtx.UserID, err)
		return errorJSON(c, fiber.StatusBadGateway, "upstream_unavailable", "Failed to load balance")
	}

	return c.JSON(fiber.Map{
		"user_id":             user.ID.String(),
		"regular_credits":     user.RegularCredits,
		"sub_credits":         user.SubCredits,
		"total_credits":       credits.TotalCredits(user),
		"subscription_active": user.SubscriptionActive(),
	})
}
