package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func NewRouter(log *zap.Logger, health *HealthHandler, jobsH *JobHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logging(log))

	r.Get("/healthz", health.Live)
	r.Get("/readyz", health.Ready)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", jobsH.Submit)
		r.Get("/jobs/{id}", jobsH.Get)
	})

	return r
}
