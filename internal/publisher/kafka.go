package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/segmentio/kafka-go"
)

const EventPurchaseCompleted = "purchase.completed"

type PurchasedItem struct {
	TemplateID string `json:"template_id"`
	PricePaid  int64  `json:"price_paid"`
	AccessURL  string `json:"access_url,omitempty"`
}

type PurchaseCompleted struct {
	UserID      string          `json:"user_id"`
	Items       []PurchasedItem `json:"items"`
	TotalPaid   int64           `json:"total_paid"`
	CompletedAt time.Time       `json:"completed_at"`
}

func NewPurchaseCompleted(userID string, records []domain.PurchaseRecord) PurchaseCompleted {
	ev := PurchaseCompleted{UserID: userID, Items: make([]PurchasedItem, 0, len(records))}
	for _, rec := range records {
		ev.Items = append(ev.Items, PurchasedItem{
			TemplateID: rec.TemplateID,
			PricePaid:  rec.PricePaid,
			AccessURL:  rec.AccessURL,
		})
		ev.TotalPaid += rec.PricePaid
		if rec.PurchaseDate.After(ev.CompletedAt) {
			ev.CompletedAt = rec.PurchaseDate
		}
	}
	if ev.CompletedAt.IsZero() {
		ev.CompletedAt = time.Now().UTC()
	}
	return ev
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	timeout time.Duration
	writer  messageWriter
}

func NewKafkaPublisher(topic string, brokers ...string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{timeout: 5 * time.Second, writer: w}
}

// PublishPurchaseCompleted writes one message keyed by user id so a user's
// purchases stay ordered within a partition.
func (p *KafkaPublisher) PublishPurchaseCompleted(ctx context.Context, userID string, records []domain.PurchaseRecord) error {
	payload, err := json.Marshal(NewPurchaseCompleted(userID, records))
	if err != nil {
		return fmt.Errorf("marshal purchase event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(userID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventPurchaseCompleted)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish purchase event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops events. Used when no brokers are configured.
type Nop struct{}

func (Nop) PublishPurchaseCompleted(context.Context, string, []domain.PurchaseRecord) error {
	return nil
}

func (Nop) Close() error { return nil }
