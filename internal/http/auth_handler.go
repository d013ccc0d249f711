package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/fjod/template_shop/internal/identity"
	"github.com/fjod/template_shop/internal/logger"
	"github.com/go-chi/render"
)

type Authenticator interface {
	GetUser(ctx context.Context) (*domain.User, error)
	GetSession(ctx context.Context) (*domain.Session, error)
	SignUp(ctx context.Context, email, password, fullName string) (*domain.Session, error)
	SignIn(ctx context.Context, email, password string) (*domain.Session, error)
	SignOut(ctx context.Context) error
}

type AuthHandler struct {
	auth    Authenticator
	timeout time.Duration
}

func NewAuthHandler(auth Authenticator, timeout time.Duration) *AuthHandler {
	return &AuthHandler{auth: auth, timeout: timeout}
}

type CredentialsDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

func (d *CredentialsDTO) Bind(*http.Request) error {
	if d.Email == "" || d.Password == "" {
		return errors.New("email and password are required")
	}
	return nil
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CredentialsDTO
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	session, err := h.auth.SignUp(ctx, req.Email, req.Password, req.FullName)
	switch {
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword):
		respondError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, identity.ErrEmailTaken):
		respondError(w, r, http.StatusConflict, "already_exists", err.Error())
	case err != nil:
		logger.FromContext(ctx).WithError(err).Error("sign up failed")
		respondError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	default:
		respondJSON(w, r, http.StatusCreated, session)
	}
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CredentialsDTO
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	session, err := h.auth.SignIn(ctx, req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		respondError(w, r, http.StatusUnauthorized, "unauthenticated", err.Error())
		return
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("sign in failed")
		respondError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, r, http.StatusOK, session)
}

func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context()); err != nil {
		respondError(w, r, http.StatusUnauthorized, "unauthenticated", "no active session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.auth.GetSession(ctx)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "unauthenticated", "no active session")
		return
	}
	respondJSON(w, r, http.StatusOK, session)
}
