package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavecrate/wavecrate/internal/pkg/purchase"
)

func TestSpendErrorResponseStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "insufficient credits",
			err:        purchase.ErrInsufficientCredits,
			wantStatus: fiber.StatusUnprocessableEntity,
			wantCode:   "insufficient_credits",
		},
		{
			name:       "purchase in progress",
			err:        purchase.ErrPurchaseInProgress,
			wantStatus: fiber.StatusConflict,
			wantCode:   "purchase_in_progress",
		},
		{
			name:       "own track",
			err:        purchase.ErrTrackAlreadyOwned,
			wantStatus: fiber.StatusConflict,
			wantCode:   "track_owned",
		},
		{
			name:       "already purchased",
			err:        purchase.ErrTrackAlreadyPurchased,
			wantStatus: fiber.StatusConflict,
			wantCode:   "already_purchased",
		},
		{
			name:       "step failure surfaces as bad gateway",
			err:        &purchase.StepError{Step: purchase.StepUpdateBuyer, Err: errors.New("store down")},
			wantStatus: fiber.StatusBadGateway,
			wantCode:   "upstream_write_failed",
		},
		{
			name:       "anything else is a bad request",
			err:        errors.New("amount must be positive"),
			wantStatus: fiber.StatusBadRequest,
			wantCode:   "invalid_request",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/spend", func(c *fiber.Ctx) error {
				return spendErrorResponse(c, tc.err)
			})

			req := httptest.NewRequest(http.MethodPost, "/spend", nil)
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			var parsed map[string]interface{}
			require.NoError(t, json.Unmarshal(body, &parsed))
			assert.Equal(t, tc.wantCode, parsed["error"])
		})
	}
}

func TestSpendErrorResponseIncludesFailedStep(t *testing.T) {
	app := fiber.New()
	app.Post("/spend", func(c *fiber.Ctx) error {
		return spendErrorResponse(c, &purchase.StepError{Step: purchase.StepCreateSale, Err: errors.New("boom")})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/spend", nil), -1)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &parsed))
	assert.Equal(t, purchase.StepCreateSale, parsed["step"])
}

func TestHandleSpendCreditsRequiresAuth(t *testing.T) {
	app := fiber.New()
	app.Post("/spend", HandleSpendCredits)

	req := httptest.NewRequest(http.MethodPost, "/spend", strings.NewReader(`{"track_id":"t1","amount":2}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestSpendCreditsRequestValidation(t *testing.T) {
	assert.Error(t, validate.Struct(&SpendCreditsRequest{TrackID: "", Amount: 2}))
	assert.Error(t, validate.Struct(&SpendCreditsRequest{TrackID: "t1", Amount: 0}))
	assert.Error(t, validate.Struct(&SpendCreditsRequest{TrackID: "t1", Amount: -3}))
	assert.NoError(t, validate.Struct(&SpendCreditsRequest{TrackID: "t1", Amount: 2}))
}
