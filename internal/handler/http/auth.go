package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fwb-labs/langlab_service/internal/errors"
	"github.com/fwb-labs/langlab_service/internal/service"
	"github.com/fwb-labs/langlab_service/pkg/response"
)

// AuthHandler handles teacher activation.
type AuthHandler struct {
	log         zerolog.Logger
	authService *service.AuthService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(log zerolog.Logger, authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		log:         log,
		authService: authService,
	}
}

type activateRequest struct {
	LicenseKey string `json:"license_key"`
}

// Activate handles POST /api/v1/auth/activate
//
// Request: { "license_key": "..." }
// Response: { "account_name": "...", "token": "..." }
func (h *AuthHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, errors.Validation("invalid request body"))
		return
	}

	resp, err := h.authService.Activate(r.Context(), req.LicenseKey)
	if err != nil {
		h.log.Warn().Err(err).Msg("Activation failed")
		h.handleError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) handleError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		details := appErr.Details
		if appErr.Recoverable() {
			if details == nil {
				details = map[string]interface{}{}
			}
			details["retryable"] = true
		}
		response.Error(w, appErr.HTTPStatus(), &response.ErrorBody{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Details: details,
		})
		return
	}
	response.InternalError(w, "unexpected error")
}
