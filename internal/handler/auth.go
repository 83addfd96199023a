package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/outs/outs-auth-go/internal/middleware"
	"github.com/outs/outs-auth-go/internal/model"
	"github.com/outs/outs-auth-go/internal/service"
)

// AuthService is the subset of service.AuthService the handlers call.
type AuthService interface {
	Login(ctx context.Context, req model.LoginRequest) (model.AuthResponse, error)
	Refresh(ctx context.Context, req model.RefreshRequest) (model.AuthResponse, error)
	Logout(ctx context.Context, userID string) error
	Me(ctx context.Context, userID string) (model.UserResponse, error)
}

// AuthHandler handles HTTP requests for authentication.
type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// HandleLogin handles POST /login requests.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp, err := h.service.Login(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingCredentials):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			h.serverError(w, r, "Login failed", err)
		}
		return
	}

	writeData(w, resp)
}

// HandleRefresh handles POST /refresh requests.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req model.RefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp, err := h.service.Refresh(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingRefreshToken),
			errors.Is(err, service.ErrInvalidRefreshToken),
			errors.Is(err, service.ErrUserNotFound),
			errors.Is(err, service.ErrNoRefreshTokenOnRecord):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			h.serverError(w, r, "Token refresh failed", err)
		}
		return
	}

	writeData(w, resp)
}

// HandleLogout handles POST /logout requests.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthenticated request")
		return
	}

	if err := h.service.Logout(r.Context(), userID); err != nil {
		h.serverError(w, r, "Logout failed", err)
		return
	}

	writeMessage(w, "Logged out successfully")
}

// HandleMe handles GET /me requests.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthenticated request")
		return
	}

	user, err := h.service.Me(r.Context(), userID)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.serverError(w, r, "Failed to fetch user data", err)
		return
	}

	writeData(w, model.MeResponse{User: user})
}

// serverError logs the cause and answers 500 with a generic message.
func (h *AuthHandler) serverError(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.logger.ErrorContext(r.Context(), "request failed",
		"request_id", chimw.GetReqID(r.Context()),
		"path", r.URL.Path,
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, message)
}
