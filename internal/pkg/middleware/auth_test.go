package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "plain bearer", header: "Bearer abc123", want: "abc123"},
		{name: "case insensitive scheme", header: "bearer abc123", want: "abc123"},
		{name: "surrounding whitespace", header: "  Bearer   abc123  ", want: "abc123"},
		{name: "missing header", header: "", want: ""},
		{name: "wrong scheme", header: "Basic abc123", want: ""},
		{name: "scheme only", header: "Bearer ", want: ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				assert.Equal(t, tc.want, extractBearerToken(c))
				return c.SendStatus(fiber.StatusNoContent)
			})

			req := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
		})
	}
}

func TestHashTokenIsStableAndOpaque(t *testing.T) {
	a := hashToken("token-a")
	b := hashToken("token-b")

	assert.Equal(t, a, hashToken("token-a"))
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
	assert.NotContains(t, a, "token-a")
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	app := fiber.New()
	app.Get("/secure", AuthMiddleware(nil), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/secure", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
