package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const purchasesCollection = "purchases"

type MongoPurchaseRepository struct {
	collection *mongo.Collection
}

func NewMongoPurchaseRepository(db *mongo.Database) *MongoPurchaseRepository {
	return &MongoPurchaseRepository{collection: db.Collection(purchasesCollection)}
}

// mongoClientOptions configures the ledger client. Writes are acknowledged by
// a majority and reads only see majority-committed purchases.
func mongoClientOptions(uri string) *options.ClientOptions {
	return options.Client().
		ApplyURI(uri).
		SetAppName("template-shop").
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50).
		SetRetryWrites(true).
		SetWriteConcern(writeconcern.Majority()).
		SetReadConcern(readconcern.Majority()).
		SetReadPreference(readpref.Primary())
}

// ConnectMongoPurchases dials MongoDB and prepares the purchases collection.
func ConnectMongoPurchases(ctx context.Context, uri, database string) (*MongoPurchaseRepository, error) {
	client, err := mongo.Connect(ctx, mongoClientOptions(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	repo := NewMongoPurchaseRepository(client.Database(database))
	if err := repo.CreateIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return repo, nil
}

func (m *MongoPurchaseRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.collection.Database().Client().Disconnect(ctx)
}

// CreateIndexes adds the listing index and the partial unique index that
// allows one completed record per (user_id, template_id).
func (m *MongoPurchaseRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "purchase_date", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "template_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(domain.PurchaseStatusCompleted)}),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (m *MongoPurchaseRepository) FindCompleted(ctx context.Context, userID, templateID string) (*domain.PurchaseRecord, error) {
	var rec domain.PurchaseRecord
	filter := bson.M{
		"user_id":     userID,
		"template_id": templateID,
		"status":      string(domain.PurchaseStatusCompleted),
	}
	err := m.collection.FindOne(ctx, filter).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("failed to find purchase: %w", err)
	}
	return &rec, nil
}

// InsertPurchases inserts the batch in order. If any document fails, the ones
// already written are deleted again before the error is returned.
func (m *MongoPurchaseRepository) InsertPurchases(ctx context.Context, records []domain.PurchaseRecord) error {
	if len(records) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(records))
	ids := make([]string, 0, len(records))
	now := time.Now().UTC()
	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.PurchaseDate.IsZero() {
			rec.PurchaseDate = now
		}
		docs = append(docs, rec)
		ids = append(ids, rec.ID)
	}

	_, err := m.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err == nil {
		return nil
	}

	m.compensate(ctx, ids)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicatePurchase
	}
	return fmt.Errorf("failed to insert purchases: %w", err)
}

func (m *MongoPurchaseRepository) compensate(ctx context.Context, ids []string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	res, err := m.collection.DeleteMany(cleanupCtx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		log.WithError(err).WithField("ids", ids).Error("failed to roll back partial purchase batch")
		return
	}
	if res.DeletedCount > 0 {
		log.WithField("deleted", res.DeletedCount).Warn("rolled back partial purchase batch")
	}
}

func (m *MongoPurchaseRepository) ListByUser(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "purchase_date", Value: -1}})
	cursor, err := m.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer cursor.Close(ctx)

	var out []domain.PurchaseRecord
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode purchases: %w", err)
	}
	return out, nil
}
