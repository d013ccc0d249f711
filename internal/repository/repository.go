// Package repository holds the purchase ledger and template catalog backends.
package repository

import (
	"context"
	"errors"

	"github.com/fjod/template_shop/internal/domain"
)

var (
	ErrPurchaseNotFound  = errors.New("purchase not found")
	ErrDuplicatePurchase = errors.New("completed purchase already exists for this template")
	ErrTemplateNotFound  = errors.New("template not found")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// PurchaseRepository is the purchases table. InsertPurchases is all-or-nothing:
// on error no record of the batch remains visible.
type PurchaseRepository interface {
	FindCompleted(ctx context.Context, userID, templateID string) (*domain.PurchaseRecord, error)
	InsertPurchases(ctx context.Context, records []domain.PurchaseRecord) error
	ListByUser(ctx context.Context, userID string) ([]domain.PurchaseRecord, error)
}

// TemplateRepository is the wedding_templates table.
type TemplateRepository interface {
	// List returns active templates, newest first.
	List(ctx context.Context) ([]domain.Template, error)
	Get(ctx context.Context, id string) (*domain.Template, error)
	Create(ctx context.Context, t *domain.Template) error
	Update(ctx context.Context, t *domain.Template) error
	Delete(ctx context.Context, id string) error
}
