package longpoll

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/pushgarden/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrUnknownKey, Status: http.StatusNotFound, Message: "unknown session key"},
	{Error: ErrSuperseded, Status: http.StatusConflict, Message: "superseded by a newer connection"},
}

// Handler handles HTTP requests for the long-poll wait endpoint.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new long-poll handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers the wait endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/notifications/wait", h.Wait)
}

// waitRequest represents the wait endpoint query parameters.
type waitRequest struct {
	Key string `validate:"required"`
}

// waitResponse mirrors the wire format long-poll clients consume.
type waitResponse struct {
	Notification []string `json:"notification"`
}

// Wait handles GET /notifications/wait. The response is written when fresh
// notifications exist, when a push resolves the suspended wait, or when the
// wait times out (empty list, client retries). Nothing is written when the
// client disconnected while suspended.
func (h *Handler) Wait(w http.ResponseWriter, r *http.Request) {
	req := waitRequest{Key: r.URL.Query().Get("key")}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	fragments, err := h.service.Await(r.Context(), req.Key)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Connection is gone; there is nobody to reply to.
			return
		}
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	if fragments == nil {
		fragments = []string{}
	}
	httputil.JSON(w, http.StatusOK, waitResponse{Notification: fragments})
}
