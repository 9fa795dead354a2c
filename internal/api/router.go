// Package api exposes the HTTP surface: participant submission endpoints,
// manager review endpoints, and an admin surface for manager provisioning.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"adherence/internal/auth"
	"adherence/internal/config"
	"adherence/internal/middleware"
	"adherence/internal/models"
	"adherence/internal/rate"
	"adherence/internal/service"
	"adherence/internal/store"
	"adherence/internal/util"
	"adherence/internal/version"
)

type Handlers struct {
	cfg      config.Config
	svc      *service.Service
	limiter  *rate.Limiter
	validate *validator.Validate
}

func NewRouter(cfg config.Config, svc *service.Service) http.Handler {
	h := &Handlers{
		cfg:      cfg,
		svc:      svc,
		limiter:  rate.NewLimiter(),
		validate: validator.New(),
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := h.svc.Store().Ping(r.Context()); err != nil {
			util.WriteJSON(w, 503, map[string]any{"status": "degraded", "error": err.Error()})
			return
		}
		util.WriteJSON(w, 200, map[string]any{
			"status":     "ready",
			"version":    version.Current(),
			"checked_at": time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Participant surface. Courses are addressed by their opaque IDs;
		// activation is the invite-code exchange.
		r.With(middleware.RateLimit(h.limiter, "activate", 10, time.Minute, cfg.TrustProxy)).
			Post("/courses/activate", h.ActivateCourse)
		// Submission endpoints carry both a per-minute and an hourly cap.
		submitLimits := chi.Chain(
			middleware.RateLimit(h.limiter, "intake_m", h.cfg.SubmitRatePerMinute, time.Minute, cfg.TrustProxy),
			middleware.RateLimit(h.limiter, "intake_h", h.cfg.SubmitRateBurstPerHour, time.Hour, cfg.TrustProxy),
		)
		r.With(submitLimits...).Post("/courses/{id}/intake", h.SubmitIntake)
		r.With(submitLimits...).Post("/intake/{logID}/reshoot", h.ResubmitReshoot)
		r.With(middleware.RateLimit(h.limiter, "appeal", 5, time.Minute, cfg.TrustProxy)).
			Post("/courses/{id}/appeal", h.SubmitAppeal)
		r.Post("/courses/{id}/refuse", h.RefuseCourse)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ManagerAuth(h.authenticateManager))
			r.Post("/users", h.CreateUser)
			r.Post("/courses", h.CreateCourse)
			r.Get("/courses/{id}", h.GetCourse)
			r.Post("/courses/{id}/invite", h.ReissueInvite)
			r.Post("/courses/{id}/extend", h.ExtendCourse)
			r.Post("/courses/{id}/documents", h.AddDocument)
			r.Post("/courses/{id}/receipts", h.AddReceipt)
			r.Post("/reviews/{logID}/confirm", h.ConfirmReview)
			r.Post("/reviews/{logID}/reject", h.RejectReview)
			r.Post("/courses/{id}/appeal/approve", h.ApproveAppeal)
			r.Post("/courses/{id}/appeal/decline", h.DeclineAppeal)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminAuth(cfg.AdminToken))
			r.Get("/managers", h.ListManagers)
			r.Post("/managers", h.CreateManager)
		})
	})

	return r
}

// authenticateManager resolves a bearer token to a manager account. Tokens
// are stored as argon2id hashes; every configured manager is checked so a
// miss costs the same as a hit.
func (h *Handlers) authenticateManager(r *http.Request, token string) (models.Manager, bool) {
	managers, err := h.svc.Store().ListManagers(r.Context())
	if err != nil {
		return models.Manager{}, false
	}
	var found models.Manager
	var ok bool
	for _, cand := range managers {
		if auth.VerifyToken(cand.TokenHash, token) {
			found, ok = cand, true
		}
	}
	return found, ok
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		util.WriteError(w, 400, "validation_failed", err.Error(), middleware.RequestID(r.Context()))
		return false
	}
	return true
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.RequestID(r.Context())
	switch {
	case errors.Is(err, store.ErrNotFound):
		util.WriteError(w, 404, "not_found", "resource not found", reqID)
	case errors.Is(err, store.ErrConflict):
		util.WriteError(w, 409, "conflict", "state changed underneath the request; refetch and retry", reqID)
	case errors.Is(err, service.ErrHasOpenCourse):
		util.WriteError(w, 409, "open_course_exists", err.Error(), reqID)
	case errors.Is(err, service.ErrNotEligible):
		util.WriteError(w, 409, "not_eligible", err.Error(), reqID)
	case errors.Is(err, service.ErrTooEarly):
		util.WriteError(w, 422, "too_early", err.Error(), reqID)
	case errors.Is(err, service.ErrWindowClosed):
		util.WriteError(w, 422, "window_closed", err.Error(), reqID)
	default:
		util.WriteError(w, 500, "internal_error", err.Error(), reqID)
	}
}
