// Package checkout turns cart contents into completed purchase records while
// keeping the one-completed-purchase-per-template invariant.
package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/fjod/template_shop/internal/identity"
	"github.com/fjod/template_shop/internal/logger"
	"github.com/fjod/template_shop/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var errNoUser = errors.New("no authenticated user")

type IdentityProvider interface {
	GetUser(ctx context.Context) (*domain.User, error)
}

type PurchaseStore interface {
	FindCompleted(ctx context.Context, userID, templateID string) (*domain.PurchaseRecord, error)
	InsertPurchases(ctx context.Context, records []domain.PurchaseRecord) error
}

type EventPublisher interface {
	PublishPurchaseCompleted(ctx context.Context, userID string, records []domain.PurchaseRecord) error
}

// Cart is the part of cart.Store the reconciler touches.
type Cart interface {
	Entries() []domain.CartEntry
	RemoveMany(ids ...string)
}

type Reconciler struct {
	identity  IdentityProvider
	purchases PurchaseStore
	events    EventPublisher
	timeout   time.Duration
	now       func() time.Time

	mu     sync.Mutex
	states map[string]domain.CheckoutState
}

func NewReconciler(idp IdentityProvider, purchases PurchaseStore, events EventPublisher, timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reconciler{
		identity:  idp,
		purchases: purchases,
		events:    events,
		timeout:   timeout,
		now:       func() time.Time { return time.Now().UTC() },
		states:    make(map[string]domain.CheckoutState),
	}
}

// CheckoutCart purchases everything currently in the cart.
func (r *Reconciler) CheckoutCart(ctx context.Context, cart Cart) domain.CheckoutResult {
	return r.Checkout(ctx, cart, cart.Entries())
}

// Checkout purchases items for the user in ctx. On success the purchased ids
// are removed from cart, which may be nil for a direct purchase.
// It never returns an error: every outcome is a CheckoutResult.
func (r *Reconciler) Checkout(ctx context.Context, cart Cart, items []domain.CartEntry) domain.CheckoutResult {
	log := logger.FromContext(ctx)

	items = distinct(items)
	if len(items) == 0 {
		log.Info("checkout rejected: nothing to purchase")
		return domain.Failed(domain.ReasonEmptyCart)
	}

	user, err := r.currentUser(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.WithError(err).Warn("identity lookup timed out")
			return domain.WriteFailed(err.Error())
		}
		if errors.Is(err, identity.ErrNoSession) || errors.Is(err, errNoUser) {
			log.Info("checkout rejected: not signed in")
		} else {
			log.WithError(err).Warn("identity lookup failed, treating as signed out")
		}
		return domain.Failed(domain.ReasonUnauthenticated)
	}
	log = log.WithField("user_id", user.ID)

	if !r.begin(user.ID) {
		log.Info("checkout rejected: another checkout is in flight")
		return domain.Failed(domain.ReasonInProgress)
	}
	defer r.finish(user.ID)

	r.transition(user.ID, domain.CheckoutStateDeduping)
	owned, err := r.ownedAmong(ctx, user.ID, items)
	if err != nil {
		log.WithError(err).Error("purchase dedup query failed")
		r.transition(user.ID, domain.CheckoutStateFailed)
		return domain.WriteFailed(err.Error())
	}
	if len(owned) > 0 {
		log.WithField("owned", owned).Info("checkout rejected: already owned")
		r.transition(user.ID, domain.CheckoutStateFailed)
		return domain.AlreadyOwned(owned)
	}

	r.transition(user.ID, domain.CheckoutStateWriting)
	records := r.buildRecords(user.ID, items)
	if err := r.insert(ctx, records); err != nil {
		r.transition(user.ID, domain.CheckoutStateFailed)
		if errors.Is(err, repository.ErrDuplicatePurchase) {
			owned, lookupErr := r.ownedAmong(ctx, user.ID, items)
			if lookupErr != nil || len(owned) == 0 {
				owned = ids(items)
			}
			log.WithField("owned", owned).Info("checkout rejected by ledger: already owned")
			return domain.AlreadyOwned(owned)
		}
		log.WithError(err).Error("purchase write failed")
		return domain.WriteFailed(err.Error())
	}

	r.transition(user.ID, domain.CheckoutStateSucceeded)
	if cart != nil {
		cart.RemoveMany(ids(items)...)
	}
	r.publish(ctx, user.ID, records)

	log.WithField("templates", len(records)).Info("checkout succeeded")
	return domain.Succeeded(records)
}

// State returns the checkout state for userID. Idle when nothing is in flight.
func (r *Reconciler) State(userID string) domain.CheckoutState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[userID]; ok {
		return s
	}
	return domain.CheckoutStateIdle
}

func (r *Reconciler) begin(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[userID]; ok && s.InFlight() {
		return false
	}
	r.states[userID] = domain.CheckoutStateValidating
	return true
}

func (r *Reconciler) finish(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.states, userID)
}

func (r *Reconciler) transition(userID string, to domain.CheckoutState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.states[userID]
	if !domain.CanTransitionTo(from, to) {
		logrus.WithFields(logrus.Fields{"user_id": userID, "from": from.String(), "to": to.String()}).
			Error("invalid checkout transition")
		return
	}
	r.states[userID] = to
}

func (r *Reconciler) currentUser(ctx context.Context) (*domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	user, err := r.identity.GetUser(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil || user.ID == "" {
		return nil, errNoUser
	}
	return user, nil
}

// ownedAmong returns the ids among items the user already has a completed purchase for.
func (r *Reconciler) ownedAmong(ctx context.Context, userID string, items []domain.CartEntry) ([]string, error) {
	var owned []string
	for _, item := range items {
		found, err := r.findCompleted(ctx, userID, item.ID)
		if err != nil {
			return nil, err
		}
		if found {
			owned = append(owned, item.ID)
		}
	}
	return owned, nil
}

func (r *Reconciler) findCompleted(ctx context.Context, userID, templateID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.purchases.FindCompleted(ctx, userID, templateID)
	if errors.Is(err, repository.ErrPurchaseNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reconciler) insert(ctx context.Context, records []domain.PurchaseRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.purchases.InsertPurchases(ctx, records)
}

// buildRecords locks in the price captured when the item was added.
func (r *Reconciler) buildRecords(userID string, items []domain.CartEntry) []domain.PurchaseRecord {
	now := r.now()
	records := make([]domain.PurchaseRecord, 0, len(items))
	for _, item := range items {
		records = append(records, domain.PurchaseRecord{
			ID:           uuid.NewString(),
			UserID:       userID,
			TemplateID:   item.ID,
			PricePaid:    item.Price,
			PurchaseDate: now,
			AccessURL:    item.AccessURL(),
			Status:       domain.PurchaseStatusCompleted,
		})
	}
	return records
}

func (r *Reconciler) publish(ctx context.Context, userID string, records []domain.PurchaseRecord) {
	if r.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.events.PublishPurchaseCompleted(ctx, userID, records); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("failed to publish purchase event")
	}
}

func distinct(items []domain.CartEntry) []domain.CartEntry {
	seen := make(map[string]bool, len(items))
	out := make([]domain.CartEntry, 0, len(items))
	for _, item := range items {
		if item.ID == "" || seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		out = append(out, item)
	}
	return out
}

func ids(items []domain.CartEntry) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}
