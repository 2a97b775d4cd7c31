package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediaforge/internal/http/handlers"
	"mediaforge/internal/infra"
	"mediaforge/internal/middleware"
)

func NewRouter(app *handlers.App, cfg *infra.Config) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.Logger(app.Logger))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/v1/webhooks/credits", app.CreditsWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
			r.Post("/v1/generate", app.Generate)
		})

		r.Route("/v1/generations", func(r chi.Router) {
			r.Get("/", app.ListGenerations)
			r.Get("/{id}", app.GetGeneration)
		})
	})

	return r
}
