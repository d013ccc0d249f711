package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/fjod/template_shop/internal/logger"
)

type PurchaseLister interface {
	ListUserPurchases(ctx context.Context, userID string) ([]domain.PurchaseRecord, error)
}

type PurchasesHandler struct {
	purchases PurchaseLister
	auth      Authenticator
	timeout   time.Duration
}

func NewPurchasesHandler(purchases PurchaseLister, auth Authenticator, timeout time.Duration) *PurchasesHandler {
	return &PurchasesHandler{purchases: purchases, auth: auth, timeout: timeout}
}

// ListPurchases returns the signed-in user's purchases, newest first.
func (h *PurchasesHandler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, err := h.auth.GetUser(ctx)
	if err != nil {
		respondError(w, r, http.StatusUnauthorized, "unauthenticated", "please sign in")
		return
	}

	records, err := h.purchases.ListUserPurchases(ctx, user.ID)
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField("user_id", user.ID).Error("list purchases failed")
		respondError(w, r, http.StatusServiceUnavailable, "service_unavailable", "purchases are unavailable, please try again")
		return
	}
	if records == nil {
		records = []domain.PurchaseRecord{}
	}
	respondJSON(w, r, http.StatusOK, records)
}
