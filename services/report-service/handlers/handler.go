// Package handlers exposes the lifecycle engine over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"civic-issue-tracker/pkg/identity"
	"civic-issue-tracker/pkg/middleware"
	"civic-issue-tracker/pkg/response"
	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/sink"
)

const (
	conflictRetryDelay = 50 * time.Millisecond
	maxBodyBytes       = 1 << 20
)

// Uploader stores appeal evidence and returns its URL.
type Uploader interface {
	Put(ctx context.Context, prefix, contentType string, r io.Reader, size int64) (string, error)
}

// Archive answers summary queries over archived audit events.
type Archive interface {
	ActionCounts(ctx context.Context, since time.Time) ([]sink.ActionCount, error)
}

type Options struct {
	JWTSecret       []byte
	ConflictRetries int
	Uploader        Uploader
	Archive         Archive
	// Health reports whether backing stores are reachable.
	Health func(ctx context.Context) error
}

type Handler struct {
	engine   *lifecycle.Engine
	opts     Options
	logger   *zap.Logger
	validate *validator.Validate
}

func New(engine *lifecycle.Engine, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		engine:   engine,
		opts:     opts,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes builds the service router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RequestLogger(h.logger))

	r.Get("/health", h.health)
	r.Handle("/metrics", middleware.GetMetricsHandler())

	admin := middleware.RequireRole(identity.RoleAdmin)
	staff := middleware.RequireRole(identity.RoleAdmin, identity.RoleOfficer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(h.opts.JWTSecret))

		r.Route("/reports", func(r chi.Router) {
			r.Post("/", h.createReport)
			r.Get("/", h.listReports)
			r.With(admin).Post("/bulk", h.bulk)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getReport)
				r.Get("/appeals", h.listAppeals)
				r.Post("/appeals", h.submitAppeal)
				r.With(staff).Get("/history", h.history)
				r.With(staff).Get("/escalations", h.listEscalations)
				r.With(admin).Get("/audit", h.auditTrail)

				r.With(admin).Post("/classify", h.classify)
				r.With(admin).Post("/department", h.assignDepartment)
				r.With(admin).Post("/officer", h.assignOfficer)
				r.With(admin).Post("/status", h.transition)
				r.With(admin).Post("/severity", h.changeSeverity)
				r.With(admin).Post("/duplicate", h.markDuplicate)
				r.With(admin).Post("/escalations", h.createEscalation)

				r.With(middleware.RequireRole(identity.RoleOfficer)).Post("/acknowledge", h.acknowledge)
				r.With(middleware.RequireRole(identity.RoleOfficer)).Post("/start", h.startWork)
			})
		})

		r.Route("/appeals", func(r chi.Router) {
			r.Post("/evidence", h.uploadEvidence)
			r.With(admin).Post("/{id}/review", h.reviewAppeal)
			r.Post("/{id}/withdraw", h.withdrawAppeal)
		})

		r.Route("/escalations", func(r chi.Router) {
			r.With(staff).Post("/{id}/acknowledge", h.acknowledgeEscalation)
			r.With(admin).Post("/{id}/status", h.updateEscalation)
			r.With(admin).Post("/{id}/raise", h.escalateFurther)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(admin)
			r.Post("/escalations/sweep", h.sweepOverdue)
			r.Get("/audit/summary", h.auditSummary)
		})
	})
	return r
}

// withRetry runs fn again after a ConflictError, up to the configured number
// of retries. Every other error is returned at once.
func (h *Handler) withRetry(ctx context.Context, fn func() error) error {
	op := func() error {
		err := fn()
		if err != nil && !errors.Is(err, lifecycle.ErrConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(conflictRetryDelay), uint64(h.opts.ConflictRetries))
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// decode reads a JSON body into dst and validates its struct tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request payload", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			response.ErrorWithDetails(w, http.StatusBadRequest, "Validation failed", fe.Error(), map[string]any{
				"kind":  lifecycle.KindValidation,
				"field": fe.Field(),
				"rule":  fe.Tag(),
			})
			return false
		}
		response.Error(w, http.StatusBadRequest, "Validation failed", err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, http.StatusBadRequest, "Invalid id", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func claims(r *http.Request) *middleware.UserClaims {
	c, _ := middleware.ClaimsFrom(r.Context())
	return c
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "UP",
		"service": "report-service",
	}
	if h.opts.Health != nil {
		if err := h.opts.Health(r.Context()); err != nil {
			status["status"] = "DOWN"
			status["error"] = err.Error()
			response.JSON(w, http.StatusServiceUnavailable, status)
			return
		}
	}
	response.JSON(w, http.StatusOK, status)
}
