package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/fjod/template_shop/internal/logger"
	"github.com/fjod/template_shop/internal/repository"
	"github.com/fjod/template_shop/internal/service"
	"github.com/go-chi/chi/v5"
)

type Catalog interface {
	List(ctx context.Context, userID string) ([]service.CatalogItem, error)
	Get(ctx context.Context, id string) (*domain.Template, error)
}

type CatalogHandler struct {
	catalog Catalog
	auth    Authenticator
	timeout time.Duration
}

func NewCatalogHandler(catalog Catalog, auth Authenticator, timeout time.Duration) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, auth: auth, timeout: timeout}
}

func (h *CatalogHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var userID string
	if user, err := h.auth.GetUser(ctx); err == nil {
		userID = user.ID
	}

	items, err := h.catalog.List(ctx, userID)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("list templates failed")
		respondError(w, r, http.StatusServiceUnavailable, "service_unavailable", "catalog is unavailable")
		return
	}
	respondJSON(w, r, http.StatusOK, items)
}

func (h *CatalogHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	t, err := h.catalog.Get(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, repository.ErrTemplateNotFound) {
		respondError(w, r, http.StatusNotFound, "not_found", "template not found")
		return
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("get template failed")
		respondError(w, r, http.StatusServiceUnavailable, "service_unavailable", "catalog is unavailable")
		return
	}
	respondJSON(w, r, http.StatusOK, t)
}
