package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_cart/reservation-service/internal/metrics"
)

const maxRequestBodySize = 1 << 20

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	JWTSecret      []byte
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
	HealthChecks   map[string]HealthCheck
}

type Handlers struct {
	Carts         *CartHandler
	Reservations  *ReservationHandler
	Notifications *NotificationHandler
	Products      *ProductHandler
}

func NewRouter(cfg RouterConfig, h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cfg.Metrics.Middleware)

	r.Get("/health", healthHandler(cfg.HealthChecks))
	r.Handle("/metrics", cfg.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		// long lived, so kept away from the timeout and compression middleware
		r.Get("/notifications/stream", h.Notifications.Stream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequestSize(maxRequestBodySize))
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Use(middleware.Compress(5))

			r.Get("/products/{product_id}", h.Products.GetProduct)
			r.Put("/admin/products/{product_id}", h.Products.SaveProduct)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Carts.GetCart)
				r.Delete("/", h.Carts.ClearCart)
				r.Post("/items", h.Carts.AddItem)
				r.Put("/items/{line_id}", h.Carts.UpdateQuantity)
				r.Delete("/items/{line_id}", h.Carts.RemoveItem)
			})

			r.Route("/reservations", func(r chi.Router) {
				r.Post("/", h.Reservations.Create)
				r.Get("/", h.Reservations.List)
				r.Get("/{reservation_id}", h.Reservations.Get)
				r.Patch("/{reservation_id}/status", h.Reservations.UpdateStatus)
				r.Patch("/{reservation_id}/notes", h.Reservations.UpdateNotes)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", h.Notifications.List)
				r.Get("/unread-count", h.Notifications.UnreadCount)
				r.Post("/read-all", h.Notifications.MarkAllRead)
				r.Post("/{notification_id}/read", h.Notifications.MarkRead)
				r.Delete("/{notification_id}", h.Notifications.Delete)
			})
		})
	})

	return otelhttp.NewHandler(r, "reservation-service",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	)
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		respondJSON(w, status, map[string]any{"status": overall, "dependencies": deps})
	}
}
