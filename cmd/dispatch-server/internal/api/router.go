package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/coregx/dispatch"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// NewRouter wires the API routes. metrics, when non-nil, is served at /metrics.
func NewRouter(h *Handler, logger dispatch.Logger, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RealIP,
		middleware.Recoverer,
		requestLogging(logger),
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", h.HandleCreateAlert)
			r.Get("/{id}", h.HandleGetAlert)
			r.Delete("/{id}", h.HandleDeleteAlert)
		})
		r.Get("/users/{userID}/alerts", h.HandleListUserAlerts)
		r.Post("/unsubscribe/{token}", h.HandleUnsubscribe)

		r.Route("/events", func(r chi.Router) {
			r.Post("/product-changed", h.HandleProductChanged)
			r.Post("/order-delivered", h.HandleOrderDelivered)
		})
		r.Post("/jobs/review-sweep", h.HandleReviewSweep)
		r.Post("/jobs/alert-sweep", h.HandleAlertSweep)
		r.Get("/health", h.HandleHealth)
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}

// requestLogging logs HTTP requests and tags them with a request id.
func requestLogging(logger dispatch.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Infof("%s %s status=%d duration=%v request_id=%s",
				r.Method, r.URL.Path, ww.Status(), time.Since(start), requestID)
		})
	}
}
