package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/template_shop/internal/cart"
	"github.com/fjod/template_shop/internal/checkout"
	"github.com/fjod/template_shop/internal/domain"
	"github.com/fjod/template_shop/internal/logger"
	"github.com/fjod/template_shop/internal/repository"
	"github.com/go-chi/render"
)

type Reconciler interface {
	Checkout(ctx context.Context, c checkout.Cart, items []domain.CartEntry) domain.CheckoutResult
	CheckoutCart(ctx context.Context, c checkout.Cart) domain.CheckoutResult
}

// PurchaseCache drops a user's shared purchase listing so the next refresh
// reads the ledger again.
type PurchaseCache interface {
	Invalidate(userID string)
}

type CheckoutHandler struct {
	reconciler Reconciler
	carts      *cart.Registry
	catalog    Catalog
	purchases  PurchaseCache
	timeout    time.Duration
}

func NewCheckoutHandler(reconciler Reconciler, carts *cart.Registry, catalog Catalog, purchases PurchaseCache, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{reconciler: reconciler, carts: carts, catalog: catalog, purchases: purchases, timeout: timeout}
}

type PurchaseRequestDTO struct {
	TemplateID string `json:"template_id"`
}

func (d *PurchaseRequestDTO) Bind(*http.Request) error {
	if d.TemplateID == "" {
		return errors.New("template_id is required")
	}
	return nil
}

type CheckoutResponseDTO struct {
	State     domain.CheckoutState    `json:"state"`
	Reason    domain.FailureReason    `json:"reason,omitempty"`
	Message   string                  `json:"message"`
	Retriable bool                    `json:"retriable"`
	Purchased []domain.PurchaseRecord `json:"purchased,omitempty"`
	Owned     []string                `json:"owned,omitempty"`
}

// Checkout purchases the whole cart of the request's browser profile.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	store := profileCart(r.Context(), h.carts, true)
	h.respond(w, r, h.reconciler.CheckoutCart(r.Context(), store))
}

// Purchase buys a single template directly. If the template is also in the
// cart it is removed from there on success.
func (h *CheckoutHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequestDTO
	if err := render.Bind(r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	lookupCtx, cancel := context.WithTimeout(r.Context(), h.timeout)
	t, err := h.catalog.Get(lookupCtx, req.TemplateID)
	cancel()
	if errors.Is(err, repository.ErrTemplateNotFound) || (err == nil && !t.IsActive) {
		respondError(w, r, http.StatusNotFound, "not_found", "template not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).WithError(err).Error("template lookup failed")
		respondError(w, r, http.StatusServiceUnavailable, "service_unavailable", "catalog is unavailable")
		return
	}

	store := profileCart(r.Context(), h.carts, true)
	h.respond(w, r, h.reconciler.Checkout(r.Context(), store, []domain.CartEntry{t.Snapshot()}))
}

func (h *CheckoutHandler) respond(w http.ResponseWriter, r *http.Request, res domain.CheckoutResult) {
	if res.IsSuccess() && len(res.Purchased) > 0 && h.purchases != nil {
		h.purchases.Invalidate(res.Purchased[0].UserID)
	}

	respondJSON(w, r, checkoutStatus(res), CheckoutResponseDTO{
		State:     res.State,
		Reason:    res.Reason,
		Message:   res.Message(),
		Retriable: res.Reason.Retriable(),
		Purchased: res.Purchased,
		Owned:     res.Owned,
	})
}

func checkoutStatus(res domain.CheckoutResult) int {
	if res.IsSuccess() {
		return http.StatusCreated
	}
	switch res.Reason {
	case domain.ReasonUnauthenticated:
		return http.StatusUnauthorized
	case domain.ReasonAlreadyOwned, domain.ReasonInProgress:
		return http.StatusConflict
	case domain.ReasonEmptyCart:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}
