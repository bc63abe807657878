package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-intake/internal/intake"
	"github.com/JakeFAU/lead-intake/internal/lead"
	"github.com/JakeFAU/lead-intake/internal/metrics"
	"github.com/JakeFAU/lead-intake/internal/middleware"
	"github.com/JakeFAU/lead-intake/internal/throttle"
)

// DefaultMaxBodyBytes caps submission bodies.
const DefaultMaxBodyBytes = 64 << 10

const businessMessage = "Business inquiry submitted successfully"

// Submitter runs a submission through the intake pipeline.
type Submitter interface {
	Submit(ctx context.Context, req intake.Request) (intake.Receipt, error)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Options configures the HTTP surface.
type Options struct {
	// Development adds error details to 500 responses.
	Development bool
	// RequestTimeout bounds the checks ahead of dispatch. Dispatch itself
	// runs detached and is bounded per sink.
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	CORSOrigins    []string
	Readiness      []ReadinessCheck
}

// Server wires HTTP handlers to the intake service.
type Server struct {
	router chi.Router
	svc    Submitter
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Submitter, ids lead.IDGenerator, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{svc: svc, opts: opts, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID(ids))
	r.Use(middleware.ClientAddr)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recover(s.logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.CORS(opts.CORSOrigins))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Post("/submit-form", s.submitForm)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failing := map[string]string{}
	for _, c := range s.opts.Readiness {
		if err := c.Check(ctx); err != nil {
			failing[c.Name] = err.Error()
		}
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitResponse struct {
	Success bool   `json:"success"`
	LeadID  string `json:"leadId"`
	Message string `json:"message,omitempty"`
}

func (s *Server) submitForm(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	receipt, err := s.svc.Submit(r.Context(), intake.Request{
		Body: body,
		Meta: lead.Meta{
			RequestID:      middleware.RequestIDFrom(r.Context()),
			ClientAddr:     middleware.ClientAddrFrom(r.Context()),
			UserAgent:      r.UserAgent(),
			AcceptLanguage: r.Header.Get("Accept-Language"),
		},
	})
	if err != nil {
		s.writeSubmitError(w, r, err)
		return
	}

	resp := submitResponse{Success: true, LeadID: receipt.LeadID}
	if receipt.Kind == lead.KindBusiness {
		resp.Message = businessMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		throttled *lead.ThrottleError
		invalid   *lead.ValidationError
		badPhone  *lead.PhoneInvalidError
	)
	switch {
	case errors.As(err, &throttled):
		seconds := throttle.Decision{RetryAfter: throttled.RetryAfter}.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "Too many requests", "retryAfter": seconds})
	case errors.Is(err, lead.ErrParse):
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body")
	case errors.Is(err, lead.ErrBotCheckFailed):
		writeError(w, http.StatusBadRequest, "reCAPTCHA verification failed")
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.As(err, &badPhone):
		writeError(w, http.StatusBadRequest, badPhone.Error())
	default:
		s.logger.Error("submission failed",
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.Error(err),
		)
		payload := map[string]string{"error": "internal server error"}
		if s.opts.Development {
			payload["details"] = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, payload)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
