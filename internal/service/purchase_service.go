package service

import (
	"context"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/fjod/template_shop/internal/repository"
	"golang.org/x/sync/singleflight"
)

type PurchaseLister interface {
	ListByUser(ctx context.Context, userID string) ([]domain.PurchaseRecord, error)
}

const defaultListTimeout = 5 * time.Second

// PurchaseService serves a user's purchases to the listing screens.
type PurchaseService struct {
	repo    PurchaseLister
	sfg     singleflight.Group // a refresh burst after checkout hits the ledger once
	timeout time.Duration
}

func NewPurchaseService(repo PurchaseLister) *PurchaseService {
	return &PurchaseService{repo: repo, timeout: defaultListTimeout}
}

// ListUserPurchases returns the user's purchases, newest first. Concurrent
// callers share one ledger read, which does not end when any single caller
// goes away.
func (s *PurchaseService) ListUserPurchases(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		listCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.repo.ListByUser(listCtx, userID)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	shared := res.Val.([]domain.PurchaseRecord)
	out := make([]domain.PurchaseRecord, len(shared))
	copy(out, shared)
	return out, nil
}

// Invalidate makes the next listing for userID read the ledger even if an
// earlier read is still in flight. Call it once a purchase is written.
func (s *PurchaseService) Invalidate(userID string) {
	s.sfg.Forget(userID)
}

// OwnedTemplateIDs returns the set of template ids with a completed purchase.
func (s *PurchaseService) OwnedTemplateIDs(ctx context.Context, userID string) (map[string]bool, error) {
	records, err := s.ListUserPurchases(ctx, userID)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.Status == domain.PurchaseStatusCompleted {
			owned[rec.TemplateID] = true
		}
	}
	return owned, nil
}

// CatalogItem is a template as shown in the storefront.
type CatalogItem struct {
	domain.Template
	Owned bool `json:"owned"`
}

type CatalogService struct {
	templates repository.TemplateRepository
	purchases *PurchaseService
}

func NewCatalogService(templates repository.TemplateRepository, purchases *PurchaseService) *CatalogService {
	return &CatalogService{templates: templates, purchases: purchases}
}

// List returns active templates. With a non-empty userID the owned flag is set;
// a failing ledger leaves every flag false rather than hiding the catalog.
func (s *CatalogService) List(ctx context.Context, userID string) ([]CatalogItem, error) {
	templates, err := s.templates.List(ctx)
	if err != nil {
		return nil, err
	}

	owned := map[string]bool{}
	if userID != "" {
		if o, err := s.purchases.OwnedTemplateIDs(ctx, userID); err == nil {
			owned = o
		}
	}

	items := make([]CatalogItem, 0, len(templates))
	for _, t := range templates {
		items = append(items, CatalogItem{Template: t, Owned: owned[t.ID]})
	}
	return items, nil
}

func (s *CatalogService) Get(ctx context.Context, id string) (*domain.Template, error) {
	return s.templates.Get(ctx, id)
}
