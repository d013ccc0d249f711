package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/template_shop/internal/cart"
	"github.com/fjod/template_shop/internal/domain"
	"github.com/fjod/template_shop/internal/logger"
	"github.com/fjod/template_shop/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type CartHandler struct {
	carts   *cart.Registry
	catalog Catalog
	timeout time.Duration
}

func NewCartHandler(carts *cart.Registry, catalog Catalog, timeout time.Duration) *CartHandler {
	return &CartHandler{carts: carts, catalog: catalog, timeout: timeout}
}

type AddItemRequestDTO struct {
	TemplateID string `json:"template_id"`
}

func (d *AddItemRequestDTO) Bind(*http.Request) error {
	if d.TemplateID == "" {
		return errors.New("template_id is required")
	}
	return nil
}

type CartResponseDTO struct {
	ProfileID string             `json:"profile_id"`
	Items     []domain.CartEntry `json:"items"`
	Total     int64              `json:"total"`
	Count     int                `json:"count"`
}

func cartResponse(profileID string, s *cart.Store) CartResponseDTO {
	items := s.Entries()
	if items == nil {
		items = []domain.CartEntry{}
	}
	return CartResponseDTO{
		ProfileID: profileID,
		Items:     items,
		Total:     s.GetCartTotal(),
		Count:     s.GetCartCount(),
	}
}

// profileCart returns the request profile's cart. Carts of freshly issued
// profiles and carts only being read are not cached.
func profileCart(ctx context.Context, carts *cart.Registry, mutate bool) *cart.Store {
	profileID := getProfileID(ctx)
	if !mutate || isNewProfile(ctx) {
		return carts.Peek(profileID)
	}
	return carts.Get(profileID)
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, cartResponse(getProfileID(r.Context()), profileCart(r.Context(), h.carts, false)))
}

// AddItem snapshots the template as it is now; later price changes do not reach the cart.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	t, err := h.catalog.Get(ctx, req.TemplateID)
	if errors.Is(err, repository.ErrTemplateNotFound) {
		respondError(w, r, http.StatusNotFound, "not_found", "template not found")
		return
	}
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("template lookup failed")
		respondError(w, r, http.StatusServiceUnavailable, "service_unavailable", "catalog is unavailable")
		return
	}
	if !t.IsActive {
		respondError(w, r, http.StatusNotFound, "not_found", "template not found")
		return
	}

	profileID := getProfileID(ctx)
	store := h.carts.Get(profileID)
	status := http.StatusOK
	if store.AddToCart(t.Snapshot()) {
		status = http.StatusCreated
	}
	respondJSON(w, r, status, cartResponse(profileID, store))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	store := profileCart(r.Context(), h.carts, true)
	store.RemoveFromCart(chi.URLParam(r, "id"))
	respondJSON(w, r, http.StatusOK, cartResponse(getProfileID(r.Context()), store))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	store := profileCart(r.Context(), h.carts, true)
	store.ClearCart()
	respondJSON(w, r, http.StatusOK, cartResponse(getProfileID(r.Context()), store))
}
