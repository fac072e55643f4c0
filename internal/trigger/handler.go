package trigger

import (
	"net/http"

	"github.com/bissquit/pushgarden/internal/notifications"
	"github.com/bissquit/pushgarden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrUnauthorized, Status: http.StatusUnauthorized, Message: "invalid push token"},
	{Error: notifications.ErrEventNotFound, Status: http.StatusNotFound, Message: "push event not found"},
}

// Handler handles HTTP requests for the push trigger endpoint.
type Handler struct {
	service   *Service
	verifier  *TokenVerifier
	limiter   *rate.Limiter
	validator *validator.Validate
}

// NewHandler creates a new push handler. The limiter bounds the accepted
// trigger rate across all callers.
func NewHandler(service *Service, verifier *TokenVerifier, limiter *rate.Limiter) *Handler {
	return &Handler{
		service:   service,
		verifier:  verifier,
		limiter:   limiter,
		validator: validator.New(),
	}
}

// RegisterRoutes registers the push endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/notifications/push", h.Push)
}

// pushRequest represents the push endpoint query parameters.
type pushRequest struct {
	Auth   string `validate:"required"`
	PushID string `validate:"required"`
}

// Push handles GET /notifications/push. The call is idempotent under retry:
// a duplicate trigger reports already_processed and delivers nothing.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow() {
		httputil.Error(w, http.StatusTooManyRequests, "push rate limit exceeded")
		return
	}

	req := pushRequest{
		Auth:   r.URL.Query().Get("auth"),
		PushID: r.URL.Query().Get("push_id"),
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if err := h.verifier.Verify(req.Auth); err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	result, err := h.service.Process(r.Context(), req.PushID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, result)
}
