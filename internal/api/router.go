package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crop-planner/internal/telemetry"
)

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.Middleware)

	r.Get("/healthz", h.Healthz)
	if h.cfg.EnableAnalytics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/", h.Index)
	r.Get("/login", h.LoginPage)
	r.Post("/login", h.PasswordLogin)
	r.Post("/auth/google", h.GoogleLogin)
	r.Post("/logout", h.Logout)
	r.Post("/theme", h.ToggleTheme)

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.Require)
		r.Get("/app", h.AppPage)
		r.Post("/app/predict", h.SubmitPrediction)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.RequireToken)
		r.Post("/api/predict", h.APIPredict)
	})

	return r
}
