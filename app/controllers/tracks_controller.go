package controllers

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/wavecrate/wavecrate/app/repository"
	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
	"github.com/wavecrate/wavecrate/internal/pkg/entitlements"
	"github.com/wavecrate/wavecrate/internal/pkg/metrics/counter"
	"github.com/wavecrate/wavecrate/internal/pkg/usercontext"
)

// HandleGetEntitlement reports the caller's access tier for a track. Works
// for anonymous callers too, who always get the plain purchase state.
func HandleGetEntitlement(c *fiber.Ctx) error {
	trackID := strings.TrimSpace(c.Params("id"))
	if trackID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Track id is required")
	}

	userCtx := usercontext.GetUserContext(c)
	store := contentstore.NewClientFromEnv()

	track, err := store.GetTrack(c.Context(), userCtx.Token, trackID)
	if err != nil {
		if contentstore.IsNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Track not found")
		}
		log.Printf("track lookup failed for %s: %v", trackID, err)
		return errorJSON(c, fiber.StatusBadGateway, "upstream_unavailable", "Failed to load track")
	}

	if !userCtx.IsLoggedIn {
		status := entitlements.Resolve(track, nil, entitlements.Tier{})
		return c.JSON(fiber.Map{"track_id": trackID, "entitlement": status})
	}

	user, err := store.GetUser(c.Context(), userCtx.Token, userCtx.UserID)
	if err != nil {
		log.Printf("user lookup failed for %s: %v", userCtx.UserID, err)
		return errorJSON(c, fiber.StatusBadGateway, "upstream_unavailable", "Failed to load user")
	}

	status := resolveEntitlement(c, store, track, user)
	return c.JSON(fiber.Map{"track_id": trackID, "entitlement": status})
}

// resolveEntitlement recomputes the tier from the ledger on every call and
// falls back to the user record's purchased-track list when the ledger is
// unavailable.
func resolveEntitlement(c *fiber.Ctx, store *contentstore.Client, track *contentstore.Track, user *contentstore.User) entitlements.Status {
	txs, err := store.ListTransactionsByUser(c.Context(), usercontext.GetToken(c), user.ID.String())
	if err != nil {
		log.Printf("transaction history unavailable for user %s: %v", user.ID, err)
		return entitlements.ResolveLegacy(track, user)
	}
	tier := entitlements.PurchaseTier(txs, track.ID.String())
	return entitlements.Resolve(track, user, tier)
}

// HandleDownloadTrack hands out a short-lived download URL for a tier the
// caller is entitled to. Producers get their own assets without a purchase.
func HandleDownloadTrack(c *fiber.Ctx) error {
	trackID := strings.TrimSpace(c.Params("id"))
	if trackID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Track id is required")
	}

	tierParam := strings.ToLower(strings.TrimSpace(c.Query("tier", "audio")))
	if tierParam != "audio" && tierParam != "stems" {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "tier must be audio or stems")
	}
	wantStems := tierParam == "stems"

	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return errorJSON(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
	}

	store := contentstore.NewClientFromEnv()
	track, err := store.GetTrack(c.Context(), userCtx.Token, trackID)
	if err != nil {
		if contentstore.IsNotFound(err) {
			return errorJSON(c, fiber.StatusNotFound, "not_found", "Track not found")
		}
		log.Printf("track lookup failed for %s: %v", trackID, err)
		return errorJSON(c, fiber.StatusBadGateway, "upstream_unavailable", "Failed to load track")
	}
	user, err := store.GetUser(c.Context(), userCtx.Token, userCtx.UserID)
	if err != nil {
		log.Printf("user lookup failed for %s: %v", userCtx.UserID, err)
		return errorJSON(c, fiber.StatusBadGateway, "upstream_unavailable", "Failed to load user")
	}

	status := resolveEntitlement(c, store, track, user)
	allowed := status.IsOwned ||
		(wantStems && status.HasStemsPurchased) ||
		(!wantStems && status.HasAudioPurchased)
	if !allowed {
		return errorJSON(c, fiber.StatusForbidden, "forbidden", "Track tier not purchased")
	}

	url := ""
	if signer := sharedSigner(); signer != nil {
		url, err = signer.DownloadURL(c.Context(), track, wantStems)
		if err != nil {
			log.Printf("failed to presign asset for track %s: %v", trackID, err)
		}
	}
	if url == "" {
		url = track.AudioURL
		if wantStems {
			url = track.StemsURL
		}
	}
	if url == "" {
		return errorJSON(c, fiber.StatusNotFound, "not_found", "No asset available for this tier")
	}

	if err := counter.AddTrackDownload(trackID); err != nil {
		log.Printf("failed to count download for track %s: %v", trackID, err)
	}

	return c.JSON(fiber.Map{"track_id": trackID, "tier": tierParam, "url": url})
}

// HandleGetTrackStats returns the locally aggregated counters for a track.
// Counts lag real time by one flush interval.
func HandleGetTrackStats(c *fiber.Ctx) error {
	trackID := strings.TrimSpace(c.Params("id"))
	if trackID == "" {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_request", "Track id is required")
	}

	repo := repository.GetGlobalFactory().GetTrackStatRepository()
	stat, err := repo.GetByTrackID(trackID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"track_id": trackID, "download_count": 0, "sale_count": 0})
		}
		log.Printf("track stats lookup failed for %s: %v", trackID, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load track stats")
	}

	return c.JSON(fiber.Map{
		"track_id":       trackID,
		"download_count": stat.DownloadCount,
		"sale_count":     stat.SaleCount,
	})
}
