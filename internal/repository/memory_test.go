package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completed(userID, templateID string, price int64, at time.Time) domain.PurchaseRecord {
	return domain.PurchaseRecord{
		UserID:       userID,
		TemplateID:   templateID,
		PricePaid:    price,
		PurchaseDate: at,
		AccessURL:    "/demo/" + templateID,
		Status:       domain.PurchaseStatusCompleted,
	}
}

func TestMemoryPurchase_FindCompleted(t *testing.T) {
	repo := NewMemoryPurchaseRepository()
	ctx := context.Background()

	_, err := repo.FindCompleted(ctx, "user-1", "tpl-1")
	assert.ErrorIs(t, err, ErrPurchaseNotFound)

	pending := completed("user-1", "tpl-1", 100, time.Now())
	pending.Status = domain.PurchaseStatusPending
	require.NoError(t, repo.InsertPurchases(ctx, []domain.PurchaseRecord{pending}))

	_, err = repo.FindCompleted(ctx, "user-1", "tpl-1")
	assert.ErrorIs(t, err, ErrPurchaseNotFound, "pending rows do not count as owned")

	require.NoError(t, repo.InsertPurchases(ctx, []domain.PurchaseRecord{completed("user-1", "tpl-1", 100, time.Now())}))
	rec, err := repo.FindCompleted(ctx, "user-1", "tpl-1")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, int64(100), rec.PricePaid)

	_, err = repo.FindCompleted(ctx, "user-2", "tpl-1")
	assert.ErrorIs(t, err, ErrPurchaseNotFound)
}

func TestMemoryPurchase_BatchIsAllOrNothing(t *testing.T) {
	repo := NewMemoryPurchaseRepository()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.InsertPurchases(ctx, []domain.PurchaseRecord{completed("user-1", "tpl-2", 250000, now)}))

	err := repo.InsertPurchases(ctx, []domain.PurchaseRecord{
		completed("user-1", "tpl-1", 150000, now),
		completed("user-1", "tpl-2", 250000, now),
	})
	assert.ErrorIs(t, err, ErrDuplicatePurchase)

	list, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMemoryPurchase_DuplicateWithinBatch(t *testing.T) {
	repo := NewMemoryPurchaseRepository()
	now := time.Now()

	err := repo.InsertPurchases(context.Background(), []domain.PurchaseRecord{
		completed("user-1", "tpl-1", 1, now),
		completed("user-1", "tpl-1", 1, now),
	})
	assert.ErrorIs(t, err, ErrDuplicatePurchase)
}

func TestMemoryPurchase_ListByUserNewestFirst(t *testing.T) {
	repo := NewMemoryPurchaseRepository()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.InsertPurchases(ctx, []domain.PurchaseRecord{
		completed("user-1", "tpl-1", 1, base),
		completed("user-1", "tpl-2", 1, base.Add(time.Hour)),
		completed("user-2", "tpl-3", 1, base.Add(2*time.Hour)),
	}))

	list, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "tpl-2", list[0].TemplateID)
	assert.Equal(t, "tpl-1", list[1].TemplateID)
}

func TestMemoryPurchase_CancelledContext(t *testing.T) {
	repo := NewMemoryPurchaseRepository()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.InsertPurchases(ctx, []domain.PurchaseRecord{completed("u", "t", 1, time.Now())})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryTemplate_CRUD(t *testing.T) {
	repo := NewMemoryTemplateRepository()
	ctx := context.Background()

	tpl := &domain.Template{Title: "Rustic", Price: 250000, IsActive: true}
	require.NoError(t, repo.Create(ctx, tpl))
	require.NotEmpty(t, tpl.ID)

	got, err := repo.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rustic", got.Title)

	tpl.Price = 200000
	require.NoError(t, repo.Update(ctx, tpl))
	got, err = repo.Get(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200000), got.Price)

	require.NoError(t, repo.Delete(ctx, tpl.ID))
	_, err = repo.Get(ctx, tpl.ID)
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, tpl.ID), ErrTemplateNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &domain.Template{ID: "missing"}), ErrTemplateNotFound)
}

func TestMemoryTemplate_ListHidesInactive(t *testing.T) {
	repo := NewMemoryTemplateRepository(
		domain.Template{ID: "tpl-1", IsActive: true},
		domain.Template{ID: "tpl-2", IsActive: false},
	)

	list, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "tpl-1", list[0].ID)
}
