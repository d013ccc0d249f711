package main

import (
	"fmt"

	"github.com/fjod/template_shop/internal/repository"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	var skipPurchases bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply catalog and purchase ledger migrations, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg

			catalog, err := repository.NewSQLiteTemplateRepository(cfg.CatalogDBPath)
			if err != nil {
				return err
			}
			defer catalog.Close()
			if err := catalog.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
				return fmt.Errorf("catalog: %w", err)
			}
			log.WithField("path", cfg.CatalogDBPath).Info("catalog migrations applied")

			if skipPurchases || cfg.PurchaseStore != "postgres" {
				return nil
			}

			creds := credentials(cfg)
			repo, err := repository.NewPostgresPurchaseRepository(creds)
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.RunMigrations(creds); err != nil {
				return fmt.Errorf("purchases: %w", err)
			}
			log.WithField("db", cfg.DBName).Info("purchase ledger migrations applied")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipPurchases, "catalog-only", false, "only migrate the template catalog")
	return cmd
}
