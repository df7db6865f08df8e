package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// Options carries the router's cross-cutting knobs.
type Options struct {
	JWTSecret       string
	RateLimitPerMin int
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Logger,
	)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/catalog", app.Catalog)
	r.Get("/v1/stats", app.StatsSummary)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}

		r.Route("/v1/videos", func(r chi.Router) {
			r.Post("/", app.VideosCreate)
			r.Get("/", app.VideosList)
			r.Get("/{job_id}", app.VideoDetail)
			r.Get("/{job_id}/download", app.VideoDownload)
			r.Post("/{job_id}/cancel", app.VideoCancel)
			r.Delete("/{job_id}", app.VideoDelete)
		})
		r.Get("/v1/usage", app.UsageSummary)
	})

	return r
}
