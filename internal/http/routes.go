package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Dispatcher *service.DispatcherService
	Webhook    *service.WebhookService
	Logger     *slog.Logger
}

// NewRouter creates and configures the management API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Dispatcher}
	queueHandlers := &QueueHandlers{Dispatcher: services.Dispatcher, Webhook: services.Webhook}
	webhookHandlers := &WebhookHandlers{Svc: services.Webhook}

	mux.HandleFunc("POST /api/jobs", jobHandlers.DispatchJob)
	mux.HandleFunc("GET /api/jobs/{id}", jobHandlers.GetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", jobHandlers.CancelJob)
	mux.HandleFunc("GET /api/subjects/{id}/result", jobHandlers.GetSubjectResult)

	mux.HandleFunc("GET /api/queue/status", queueHandlers.GetStatus)
	mux.HandleFunc("GET /api/queue/stats", queueHandlers.GetStats)

	mux.HandleFunc("POST /api/captures/{id}/resend", webhookHandlers.ResendCapture)
	mux.HandleFunc("POST /api/webhook/test", webhookHandlers.TestWebhook)

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))

	return requestLogging(services.Logger)(mux)
}

// parseInt64Path extracts a positive int64 path value, writing a 400 on
// failure.
func parseInt64Path(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New(name + " must be a positive integer"),
		})
		return 0, false
	}
	return value, true
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// requestLogging logs one line per request at debug level.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.DebugContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}
