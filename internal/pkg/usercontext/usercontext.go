package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	Token      string `json:"-"`
	IsLoggedIn bool   `json:"is_logged_in"`
	Subscribed bool   `json:"subscribed"`
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals(KeyUserContext); ctx != nil {
		return ctx.(UserContext)
	}
	return UserContext{IsLoggedIn: false}
}

// SetUserContext stores the user context in fiber Locals for downstream handlers.
func SetUserContext(c *fiber.Ctx, ctx UserContext) {
	c.Locals(KeyUserContext, ctx)
	c.Locals(KeyUserID, ctx.UserID)
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// GetUserID returns the current user's ID, or empty string if not logged in
func GetUserID(c *fiber.Ctx) string {
	return GetUserContext(c).UserID
}

// GetToken returns the bearer token the current request authenticated with.
func GetToken(c *fiber.Ctx) string {
	return GetUserContext(c).Token
}
