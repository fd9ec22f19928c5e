package http

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/fwb-labs/langlab_service/internal/errors"
	"github.com/fwb-labs/langlab_service/internal/repository"
	"github.com/fwb-labs/langlab_service/pkg/response"
)

// ShareHandler builds shareable deep links for a configured exercise, plus
// the QR code teachers project for the class.
type ShareHandler struct {
	log           zerolog.Logger
	publicBaseURL string
}

// NewShareHandler creates a new share handler.
func NewShareHandler(log zerolog.Logger, publicBaseURL string) *ShareHandler {
	return &ShareHandler{
		log:           log,
		publicBaseURL: publicBaseURL,
	}
}

type shareLinkResponse struct {
	URL string `json:"url"`
}

// Link handles GET /api/v1/share/link
//
// The exercise config is read from the query parameters (lang, level,
// focus, mode, scenario); missing ones fall back to the defaults. The
// returned URL pre-configures a student session without teacher input.
func (h *ShareHandler) Link(w http.ResponseWriter, r *http.Request) {
	cfg := repository.ConfigFromQuery(r.URL.Query())
	if err := cfg.Validate(); err != nil {
		h.handleError(w, errors.Wrap(errors.ErrValidation, "invalid exercise config", err))
		return
	}

	response.JSON(w, http.StatusOK, shareLinkResponse{URL: h.shareURL(cfg)})
}

// QR handles GET /api/v1/share/qr
//
// Same parameters as Link, rendered as a PNG QR code.
func (h *ShareHandler) QR(w http.ResponseWriter, r *http.Request) {
	cfg := repository.ConfigFromQuery(r.URL.Query())
	if err := cfg.Validate(); err != nil {
		h.handleError(w, errors.Wrap(errors.ErrValidation, "invalid exercise config", err))
		return
	}

	png, err := qrcode.Encode(h.shareURL(cfg), qrcode.Medium, 256)
	if err != nil {
		h.handleError(w, errors.InternalWrap("failed to render QR code", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *ShareHandler) shareURL(cfg repository.ExerciseConfig) string {
	return fmt.Sprintf("%s/?%s", h.publicBaseURL, cfg.EncodeQuery().Encode())
}

func (h *ShareHandler) handleError(w http.ResponseWriter, err error) {
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
