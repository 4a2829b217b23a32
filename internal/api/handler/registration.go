// Package handler provides HTTP handlers for the crmpush API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/crmpush/crmpush/internal/api/middleware"
	"github.com/crmpush/crmpush/internal/api/models"
	"github.com/crmpush/crmpush/internal/api/response"
	"github.com/crmpush/crmpush/internal/device"
)

const (
	maxRegistrationBody = 64 << 10

	msgMissingFields = "Missing user_id or fcm_token"
	msgInvalidBody   = "Invalid request body"
	msgInternal      = "Internal Server Error"
)

// TokenRegistrar stores device tokens.
type TokenRegistrar interface {
	Register(ctx context.Context, userID, token, platform string) (*device.DeviceToken, bool, error)
}

// RegistrationHandler handles device token registration.
type RegistrationHandler struct {
	tokens TokenRegistrar
	logger zerolog.Logger
}

// NewRegistrationHandler creates a new RegistrationHandler.
func NewRegistrationHandler(tokens TokenRegistrar, logger zerolog.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		tokens: tokens,
		logger: logger.With().Str("component", "registration").Logger(),
	}
}

// RegisterToken handles POST /api/v1/notifications/register-token.
// The api-key check runs in middleware before this handler.
func (h *RegistrationHandler) RegisterToken(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With().Str("request_id", middleware.GetRequestID(r.Context())).Logger()

	r.Body = http.MaxBytesReader(w, r.Body, maxRegistrationBody)
	var req models.RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Debug().Err(err).Msg("invalid registration body")
		response.BadRequest(w, r, "request body must be a JSON object", msgInvalidBody, nil)
		return
	}

	if fieldErrors := validateRegistration(req); len(fieldErrors) > 0 {
		response.BadRequest(w, r, "user_id and fcm_token are required", msgMissingFields, fieldErrors)
		return
	}

	_, created, err := h.tokens.Register(r.Context(), string(req.UserID), req.FCMToken, req.Platform)
	switch {
	case errors.Is(err, device.ErrUserIDRequired), errors.Is(err, device.ErrTokenRequired):
		response.BadRequest(w, r, err.Error(), msgMissingFields, nil)
		return
	case err != nil:
		logger.Error().Err(err).Str("user_id", string(req.UserID)).Msg("failed to register token")
		response.InternalError(w, r, "failed to store token", msgInternal)
		return
	}

	logger.Info().
		Str("user_id", string(req.UserID)).
		Str("token_last4", device.Last4(req.FCMToken)).
		Bool("created", created).
		Msg("token registered")

	response.JSON(w, r, http.StatusOK, models.RegisterTokenResponse{
		Success: true,
		Message: models.RegisterTokenMessage,
	})
}

func validateRegistration(req models.RegisterTokenRequest) []models.FieldError {
	var errs []models.FieldError
	if strings.TrimSpace(string(req.UserID)) == "" {
		errs = append(errs, models.FieldError{Field: "user_id", Message: "is required", Code: "REQUIRED"})
	}
	if strings.TrimSpace(req.FCMToken) == "" {
		errs = append(errs, models.FieldError{Field: "fcm_token", Message: "is required", Code: "REQUIRED"})
	}
	return errs
}
