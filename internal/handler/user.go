package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/userbase/userbase/internal/handler/dto"
	"github.com/userbase/userbase/internal/service"
)

// Plain-text bodies for user-facing failures.
const (
	msgUserNotFound   = "User not found"
	msgDuplicateEmail = "A user with this email already exists."
)

// UserHandler handles HTTP requests for user operations.
type UserHandler struct {
	svc      *service.UserService
	logger   *slog.Logger
	validate *validator.Validate
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(svc *service.UserService, logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{
		svc:      svc,
		logger:   logger,
		validate: newValidator(),
	}
}

// Routes registers the user endpoints on r.
func (h *UserHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// List handles GET /users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToUserListResponse(users))
}

// Get handles GET /users/{id}.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		http.Error(w, msgUserNotFound, http.StatusNotFound)
		return
	}

	user, found, err := h.svc.GetUser(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if !found {
		http.Error(w, msgUserNotFound, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUserResponse(user))
}

// Create handles POST /users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleDecodeError(w, err)
		return
	}

	if err := validateRequest(h.validate, req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	user, err := h.svc.CreateUser(r.Context(), req.ToInput())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("user_created", "user_id", user.ID)

	writeJSON(w, http.StatusCreated, dto.ToUserResponse(user))
}

// Update handles PATCH /users/{id}.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		http.Error(w, msgUserNotFound, http.StatusNotFound)
		return
	}

	var req dto.UpdateUserRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.handleDecodeError(w, err)
		return
	}

	if err := validateRequest(h.validate, req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	user, found, err := h.svc.UpdateUser(r.Context(), id, req.ToPatch())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if !found {
		http.Error(w, msgUserNotFound, http.StatusNotFound)
		return
	}

	h.logger.Info("user_updated", "user_id", user.ID)

	writeJSON(w, http.StatusOK, dto.ToUserResponse(user))
}

// Delete handles DELETE /users/{id}.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		// Nothing with a malformed id can exist.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.svc.DeleteUser(r.Context(), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("user_deleted", "user_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// parseID reads a positive integer id from the path.
func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *UserHandler) handleDecodeError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		h.writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
		return
	}

	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		writeJSON(w, http.StatusBadRequest, dto.ValidationErrorResponse{
			Error:  "validation failed",
			Code:   "VALIDATION_FAILED",
			Fields: map[string]string{strings.Trim(field, `"`): "unknown field"},
		})
		return
	}

	h.writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
}

// handleServiceError maps service errors to HTTP responses.
func (h *UserHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, dto.ValidationErrorResponse{
			Error:  "validation failed",
			Code:   "VALIDATION_FAILED",
			Fields: verr.Fields,
		})
	case errors.Is(err, service.ErrDuplicateEmail):
		http.Error(w, msgDuplicateEmail, http.StatusConflict)
	default:
		h.logger.ErrorContext(r.Context(), "internal_error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// writeError writes an error response.
func (h *UserHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
