package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/google/uuid"
)

type MemoryPurchaseRepository struct {
	mu      sync.RWMutex
	records []domain.PurchaseRecord
}

func NewMemoryPurchaseRepository() *MemoryPurchaseRepository {
	return &MemoryPurchaseRepository{}
}

func (r *MemoryPurchaseRepository) FindCompleted(ctx context.Context, userID, templateID string) (*domain.PurchaseRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.UserID == userID && rec.TemplateID == templateID && rec.Status == domain.PurchaseStatusCompleted {
			found := rec
			return &found, nil
		}
	}
	return nil, ErrPurchaseNotFound
}

func (r *MemoryPurchaseRepository) InsertPurchases(ctx context.Context, records []domain.PurchaseRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	for _, rec := range r.records {
		if rec.Status == domain.PurchaseStatusCompleted {
			seen[rec.UserID+"\x00"+rec.TemplateID] = true
		}
	}
	batch := make([]domain.PurchaseRecord, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.PurchaseDate.IsZero() {
			rec.PurchaseDate = time.Now().UTC()
		}
		if rec.Status == domain.PurchaseStatusCompleted {
			k := rec.UserID + "\x00" + rec.TemplateID
			if seen[k] {
				return ErrDuplicatePurchase
			}
			seen[k] = true
		}
		batch = append(batch, rec)
	}
	r.records = append(r.records, batch...)
	return nil
}

func (r *MemoryPurchaseRepository) ListByUser(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.PurchaseRecord
	for _, rec := range r.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].PurchaseDate.After(out[j].PurchaseDate)
	})
	return out, nil
}

type MemoryTemplateRepository struct {
	mu        sync.RWMutex
	templates map[string]domain.Template
}

func NewMemoryTemplateRepository(seed ...domain.Template) *MemoryTemplateRepository {
	r := &MemoryTemplateRepository{templates: make(map[string]domain.Template)}
	for _, t := range seed {
		r.templates[t.ID] = t
	}
	return r
}

func (r *MemoryTemplateRepository) List(ctx context.Context) ([]domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Template, 0, len(r.templates))
	for _, t := range r.templates {
		if t.IsActive {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryTemplateRepository) Get(ctx context.Context, id string) (*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[id]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return &t, nil
}

func (r *MemoryTemplateRepository) Create(ctx context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	r.templates[t.ID] = *t
	return nil
}

func (r *MemoryTemplateRepository) Update(ctx context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.templates[t.ID]
	if !ok {
		return ErrTemplateNotFound
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	r.templates[t.ID] = *t
	return nil
}

func (r *MemoryTemplateRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.templates[id]; !ok {
		return ErrTemplateNotFound
	}
	delete(r.templates, id)
	return nil
}
