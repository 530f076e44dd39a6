package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/wavecrate/wavecrate/internal/pkg/cache"
	"github.com/wavecrate/wavecrate/internal/pkg/contentstore"
	"github.com/wavecrate/wavecrate/internal/pkg/usercontext"
)

// userLookup is the slice of the content store client the middleware needs.
type userLookup interface {
	GetMe(ctx context.Context, token string) (*contentstore.User, error)
}

const (
	authCachePrefix = "auth:token:"
	authCacheTTL    = 60 * time.Second
)

// cachedIdentity is what we keep in Redis between token verifications.
type cachedIdentity struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Subscribed bool   `json:"subscribed"`
}

// AuthMiddleware authenticates requests carrying a bearer token issued by the
// content store. The token is verified against the store's /users/me endpoint
// and the resulting identity cached briefly so hot endpoints do not hammer it.
func AuthMiddleware(store userLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing bearer token"})
		}

		userCtx, err := resolveToken(c.Context(), store, token)
		if err != nil {
			if contentstore.IsNotFound(err) || isUnauthorized(err) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid bearer token"})
			}
			log.Printf("token verification failed: %v", err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_unavailable", "message": "Token verification failed"})
		}

		usercontext.SetUserContext(c, userCtx)
		return c.Next()
	}
}

// OptionalAuthMiddleware resolves the bearer token when one is present but
// lets anonymous requests through with the default context.
func OptionalAuthMiddleware(store userLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return c.Next()
		}
		userCtx, err := resolveToken(c.Context(), store, token)
		if err != nil {
			// Treat a bad token on an optional route like no token at all.
			return c.Next()
		}
		usercontext.SetUserContext(c, userCtx)
		return c.Next()
	}
}

func resolveToken(ctx context.Context, store userLookup, token string) (usercontext.UserContext, error) {
	cacheKey := authCachePrefix + hashToken(token)

	if raw, err := cache.Get(cacheKey); err == nil {
		var ident cachedIdentity
		if jsonErr := json.Unmarshal([]byte(raw), &ident); jsonErr == nil && ident.UserID != "" {
			return usercontext.UserContext{
				UserID:     ident.UserID,
				Email:      ident.Email,
				Token:      token,
				IsLoggedIn: true,
				Subscribed: ident.Subscribed,
			}, nil
		}
	} else if !cache.IsNotFound(err) {
		log.Printf("auth cache read failed: %v", err)
	}

	user, err := store.GetMe(ctx, token)
	if err != nil {
		return usercontext.UserContext{}, err
	}

	ident := cachedIdentity{
		UserID:     user.ID.String(),
		Email:      user.Email,
		Subscribed: user.SubscriptionActive(),
	}
	if data, err := json.Marshal(ident); err == nil {
		if err := cache.Set(cacheKey, data, authCacheTTL); err != nil {
			log.Printf("auth cache write failed: %v", err)
		}
	}

	return usercontext.UserContext{
		UserID:     ident.UserID,
		Email:      ident.Email,
		Token:      token,
		IsLoggedIn: true,
		Subscribed: ident.Subscribed,
	}, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func isUnauthorized(err error) bool {
	var apiErr *contentstore.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == fiber.StatusUnauthorized || apiErr.StatusCode == fiber.StatusForbidden
	}
	return false
}
