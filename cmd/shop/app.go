package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fjod/template_shop/internal/breaker"
	"github.com/fjod/template_shop/internal/cart"
	"github.com/fjod/template_shop/internal/checkout"
	"github.com/fjod/template_shop/internal/config"
	h "github.com/fjod/template_shop/internal/http"
	"github.com/fjod/template_shop/internal/identity"
	"github.com/fjod/template_shop/internal/publisher"
	"github.com/fjod/template_shop/internal/repository"
	"github.com/fjod/template_shop/internal/service"
	"github.com/fjod/template_shop/internal/storage"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type eventPublisher interface {
	checkout.EventPublisher
	io.Closer
}

type app struct {
	handlers h.Handlers
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.WithError(err).Warn("close failed")
		}
	}
}

func credentials(cfg *config.Config) *repository.Credentials {
	return &repository.Credentials{
		Host:              cfg.DBHost,
		Port:              cfg.DBPort,
		User:              cfg.DBUser,
		Password:          cfg.DBPassword,
		DBName:            cfg.DBName,
		MigrationsDirPath: cfg.MigrationsPath,
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	cartStorage, err := buildCartStorage(ctx, cfg, a)
	if err != nil {
		return fail(err)
	}

	purchases, err := buildPurchaseStore(ctx, cfg, a)
	if err != nil {
		return fail(err)
	}
	ledger := breaker.NewLedger(purchases, breaker.DefaultSettings())

	templates, err := buildTemplateStore(cfg, a)
	if err != nil {
		return fail(err)
	}

	var events eventPublisher = publisher.Nop{}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		events = publisher.NewKafkaPublisher(cfg.PurchaseTopic, brokers...)
		log.WithFields(log.Fields{"brokers": brokers, "topic": cfg.PurchaseTopic}).Info("Publishing purchase events to kafka")
	}
	a.closers = append(a.closers, events.Close)

	provider := identity.NewProvider(identity.NewMemoryUserStore(), []byte(cfg.JWTSecret), cfg.SessionTTL)
	provider.OnAuthStateChange(func(c identity.AuthStateChange) {
		log.WithFields(log.Fields{"event": c.Event, "user_id": c.UserID}).Info("auth state changed")
	})

	carts := cart.NewRegistry(cartStorage, cfg.CartCacheSize, cfg.CartCacheTTL)
	purchaseSvc := service.NewPurchaseService(ledger)
	catalog := service.NewCatalogService(templates, purchaseSvc)
	reconciler := checkout.NewReconciler(provider, ledger, events, cfg.CheckoutTimeout)

	a.handlers = h.Handlers{
		Catalog:   h.NewCatalogHandler(catalog, provider, cfg.RequestTimeout),
		Cart:      h.NewCartHandler(carts, catalog, cfg.RequestTimeout),
		Checkout:  h.NewCheckoutHandler(reconciler, carts, catalog, purchaseSvc, cfg.RequestTimeout),
		Purchases: h.NewPurchasesHandler(purchaseSvc, provider, cfg.RequestTimeout),
		Auth:      h.NewAuthHandler(provider, cfg.RequestTimeout),
	}
	return a, nil
}

func buildCartStorage(ctx context.Context, cfg *config.Config, a *app) (storage.Storage, error) {
	opts := storage.Options{Kind: cfg.CartStorage, Path: cfg.CartStoragePath, TTL: cfg.CartTTL}
	if cfg.CartStorage == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		opts.RedisClient = client
	}
	return storage.New(opts)
}

func buildPurchaseStore(ctx context.Context, cfg *config.Config, a *app) (repository.PurchaseRepository, error) {
	switch cfg.PurchaseStore {
	case "postgres":
		creds := credentials(cfg)
		repo, err := repository.NewPostgresPurchaseRepository(creds)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		if err := repo.RunMigrations(creds); err != nil {
			return nil, err
		}
		return repo, nil
	case "mongo":
		repo, err := repository.ConnectMongoPurchases(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		log.WithField("uri", cfg.MongoURI).Info("Connected to MongoDB")
		return repo, nil
	default:
		log.Warn("Using in-memory purchase ledger, purchases are lost on restart")
		return repository.NewMemoryPurchaseRepository(), nil
	}
}

func buildTemplateStore(cfg *config.Config, a *app) (repository.TemplateRepository, error) {
	repo, err := repository.NewSQLiteTemplateRepository(cfg.CatalogDBPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)
	if err := repo.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		return nil, err
	}
	return repo, nil
}
