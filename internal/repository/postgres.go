package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

type PostgresPurchaseRepository struct {
	db *sql.DB
}

func NewPostgresPurchaseRepository(cred *Credentials) (*PostgresPurchaseRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	log.WithFields(log.Fields{"host": cred.Host, "db": cred.DBName}).Info("Connected to postgres")
	return &PostgresPurchaseRepository{db: db}, nil
}

func (r *PostgresPurchaseRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "purchases_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresPurchaseRepository) FindCompleted(ctx context.Context, userID, templateID string) (*domain.PurchaseRecord, error) {
	query := `SELECT id, user_id, template_id, price_paid, purchase_date, access_url, status
	          FROM purchases WHERE user_id = $1 AND template_id = $2 AND status = $3
	          LIMIT 1`

	rec, err := scanPurchase(r.db.QueryRowContext(ctx, query, userID, templateID, domain.PurchaseStatusCompleted))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query completed purchase: %w", err)
	}
	return rec, nil
}

// InsertPurchases writes the whole batch in one transaction.
func (r *PostgresPurchaseRepository) InsertPurchases(ctx context.Context, records []domain.PurchaseRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO purchases (id, user_id, template_id, price_paid, purchase_date, access_url, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		date := rec.PurchaseDate
		if date.IsZero() {
			date = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, id, rec.UserID, rec.TemplateID, rec.PricePaid, date, rec.AccessURL, rec.Status); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return ErrDuplicatePurchase
			}
			return fmt.Errorf("insert purchase %s: %w", rec.TemplateID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purchases: %w", err)
	}
	return nil
}

func (r *PostgresPurchaseRepository) ListByUser(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	query := `SELECT id, user_id, template_id, price_paid, purchase_date, access_url, status
	          FROM purchases WHERE user_id = $1 ORDER BY purchase_date DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query purchases by user id: %w", err)
	}
	defer rows.Close()

	var out []domain.PurchaseRecord
	for rows.Next() {
		rec, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (r *PostgresPurchaseRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (*domain.PurchaseRecord, error) {
	var rec domain.PurchaseRecord
	var status string
	if err := row.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.TemplateID,
		&rec.PricePaid,
		&rec.PurchaseDate,
		&rec.AccessURL,
		&status,
	); err != nil {
		return nil, err
	}
	rec.Status = domain.PurchaseStatus(status)
	return &rec, nil
}
