package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const templateColumns = `id, title, category, description, price, thumbnail_url, demo_url, is_active, created_at, updated_at`

type SQLiteTemplateRepository struct {
	db *sql.DB
}

func NewSQLiteTemplateRepository(dbPath string) (*SQLiteTemplateRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// every connection to :memory: would see its own empty database
	db.SetMaxOpenConns(1)
	return &SQLiteTemplateRepository{db: db}, nil
}

func (r *SQLiteTemplateRepository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *SQLiteTemplateRepository) List(ctx context.Context) ([]domain.Template, error) {
	query := `SELECT ` + templateColumns + `
		FROM wedding_templates
		WHERE is_active = 1
		ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return templates, nil
}

func (r *SQLiteTemplateRepository) Get(ctx context.Context, id string) (*domain.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM wedding_templates WHERE id = ?`

	t, err := scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	return t, nil
}

func (r *SQLiteTemplateRepository) Create(ctx context.Context, t *domain.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO wedding_templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Category, t.Description, t.Price, t.ThumbnailURL, t.DemoURL, t.IsActive, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert template: %w", err)
	}
	return nil
}

func (r *SQLiteTemplateRepository) Update(ctx context.Context, t *domain.Template) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE wedding_templates
		 SET title = ?, category = ?, description = ?, price = ?, thumbnail_url = ?, demo_url = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		t.Title, t.Category, t.Description, t.Price, t.ThumbnailURL, t.DemoURL, t.IsActive, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteTemplateRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM wedding_templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteTemplateRepository) Close() error {
	return r.db.Close()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func scanTemplate(row rowScanner) (*domain.Template, error) {
	t := &domain.Template{}
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Category,
		&t.Description,
		&t.Price,
		&t.ThumbnailURL,
		&t.DemoURL,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}
