// Package breaker guards the purchase ledger with a circuit breaker so an
// unhealthy backend fails fast instead of holding every checkout until timeout.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/fjod/template_shop/internal/repository"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned while the breaker is open or probing.
var ErrUnavailable = errors.New("purchase ledger unavailable")

type Settings struct {
	Name string
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenRequests are let through while probing.
	HalfOpenRequests uint32
}

func DefaultSettings() Settings {
	return Settings{
		Name:                "purchase-ledger",
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// Ledger is a repository.PurchaseRepository that trips on backend errors.
// Misses and duplicate rejections are business outcomes and never count.
type Ledger struct {
	next repository.PurchaseRepository
	cb   *gobreaker.CircuitBreaker[any]
}

var _ repository.PurchaseRepository = (*Ledger)(nil)

func NewLedger(next repository.PurchaseRepository, s Settings) *Ledger {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.HalfOpenRequests,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	return &Ledger{next: next, cb: cb}
}

func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, repository.ErrPurchaseNotFound) ||
		errors.Is(err, repository.ErrDuplicatePurchase) ||
		errors.Is(err, context.Canceled)
}

func (l *Ledger) State() gobreaker.State {
	return l.cb.State()
}

func (l *Ledger) FindCompleted(ctx context.Context, userID, templateID string) (*domain.PurchaseRecord, error) {
	out, err := l.execute(func() (any, error) {
		return l.next.FindCompleted(ctx, userID, templateID)
	})
	if err != nil {
		return nil, err
	}
	return out.(*domain.PurchaseRecord), nil
}

func (l *Ledger) InsertPurchases(ctx context.Context, records []domain.PurchaseRecord) error {
	_, err := l.execute(func() (any, error) {
		return nil, l.next.InsertPurchases(ctx, records)
	})
	return err
}

func (l *Ledger) ListByUser(ctx context.Context, userID string) ([]domain.PurchaseRecord, error) {
	out, err := l.execute(func() (any, error) {
		return l.next.ListByUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.PurchaseRecord), nil
}

func (l *Ledger) execute(fn func() (any, error)) (any, error) {
	out, err := l.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return out, err
}
