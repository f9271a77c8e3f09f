package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter assembles the HTTP API.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", h.HandleUploadCSV)
			r.Get("/", h.HandleListJobs)
			r.Get("/{jobID}", h.HandleJobStatus)
			r.Post("/{jobID}/cancel", h.HandleJobCancel)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.HandleListProducts)
			r.Post("/", h.HandleCreateProduct)
			r.Get("/{productID}", h.HandleGetProduct)
			r.Patch("/{productID}", h.HandleUpdateProduct)
			r.Delete("/{productID}", h.HandleDeleteProduct)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/", h.HandleListWebhooks)
			r.Post("/", h.HandleCreateWebhook)
			r.Put("/{webhookID}", h.HandleUpdateWebhook)
			r.Delete("/{webhookID}", h.HandleDeleteWebhook)
		})
	})

	return r
}
