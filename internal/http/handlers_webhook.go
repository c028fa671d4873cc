package httpx

import (
	"errors"
	"net/http"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service"
)

// WebhookHandlers provides HTTP handlers for webhook delivery operations.
type WebhookHandlers struct {
	Svc *service.WebhookService
}

// ResendCapture handles HTTP requests to re-deliver a capture notification.
func (h *WebhookHandlers) ResendCapture(w http.ResponseWriter, r *http.Request) {
	captureID, ok := parseInt64Path(w, r, "id")
	if !ok {
		return
	}

	result, err := h.Svc.Send(r.Context(), captureID)
	if err != nil {
		if errors.Is(err, model.ErrCaptureNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "resend_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// testConnectionRequest is the optional body for TestWebhook.
type testConnectionRequest struct {
	DestinationURL string `json:"destination_url,omitempty"`
}

// TestWebhook handles HTTP requests to ping a webhook destination.
func (h *WebhookHandlers) TestWebhook(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if r.ContentLength > 0 && !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.Svc.TestConnection(r.Context(), req.DestinationURL)
	if err != nil {
		if model.IsValidation(err) {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "validation_failed", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "test_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
