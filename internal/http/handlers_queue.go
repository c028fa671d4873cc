package httpx

import (
	"net/http"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service"
)

// QueueHandlers provides HTTP handlers for queue observability.
type QueueHandlers struct {
	Dispatcher *service.DispatcherService
	Webhook    *service.WebhookService
}

// GetStatus handles HTTP requests for the live queue snapshot.
func (h *QueueHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Dispatcher.Status(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "status_failed", Err: err})
		return
	}

	resp := queueStatusResponse{QueueStatus: status}
	if h.Webhook != nil {
		if pending, countErr := h.Webhook.PendingCount(r.Context()); countErr == nil {
			resp.PendingDeliveries = &pending
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

type queueStatusResponse struct {
	*model.QueueStatus
	PendingDeliveries *int `json:"pending_deliveries,omitempty"`
}

// GetStats handles HTTP requests for aggregate queue statistics.
func (h *QueueHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Dispatcher.Stats(r.Context())
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "stats_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}
