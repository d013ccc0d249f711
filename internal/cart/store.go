package cart

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/fjod/template_shop/internal/storage"
	"github.com/sirupsen/logrus"
)

const persistTimeout = time.Second

// Store holds the not-yet-purchased selections of one browser profile and
// mirrors them to storage under a single key after every mutation.
// At most one entry exists per template id.
type Store struct {
	mu      sync.RWMutex
	entries []domain.CartEntry
	storage storage.Storage
	key     string
	log     *logrus.Entry
}

// NewStore rehydrates the cart from storage. Missing or unreadable data yields an empty cart.
func NewStore(st storage.Storage, key string) *Store {
	s := &Store{
		storage: st,
		key:     key,
		log:     logrus.WithField("cart_key", key),
	}
	s.entries = s.load()
	return s
}

func (s *Store) load() []domain.CartEntry {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	data, err := s.storage.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.WithError(err).Warn("cart storage read failed, starting with empty cart")
		}
		return nil
	}

	entries, err := decode(data)
	if err != nil {
		s.log.WithError(err).Warn("stored cart is corrupt, starting with empty cart")
		return nil
	}
	return entries
}

// decode rejects payloads that would break the cart invariants rather than
// silently keeping half of them.
func decode(data []byte) ([]domain.CartEntry, error) {
	var entries []domain.CartEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if e.ID == "" {
			return nil, errors.New("cart entry without id")
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		e.Quantity = 1
		out = append(out, e)
	}
	return out, nil
}

// persist must be called with mu held.
func (s *Store) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	entries := s.entries
	if entries == nil {
		entries = []domain.CartEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		s.log.WithError(err).Error("marshal cart failed")
		return
	}
	if err := s.storage.Set(ctx, s.key, data); err != nil {
		s.log.WithError(err).Error("cart storage write failed")
	}
}

// AddToCart inserts the entry unless one with the same id is present. It
// reports whether the cart changed. A template is bought once, so quantity is always 1.
func (s *Store) AddToCart(entry domain.CartEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(entry.ID) >= 0 {
		return false
	}
	entry.Quantity = 1
	s.entries = append(s.entries, entry)
	s.persist()
	return true
}

func (s *Store) RemoveFromCart(id string) {
	s.RemoveMany(id)
}

// RemoveMany drops every listed id that is present and persists once.
func (s *Store) RemoveMany(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]domain.CartEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if _, ok := drop[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(s.entries) {
		return
	}
	s.entries = kept
	s.persist()
}

// ClearCart empties the cart. Clearing an empty cart does not touch storage.
func (s *Store) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return
	}
	s.entries = nil
	s.persist()
}

func (s *Store) GetCartTotal() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.entries {
		total += e.Subtotal()
	}
	return total
}

func (s *Store) GetCartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.entries {
		count += e.Quantity
	}
	return count
}

// Entries returns a copy of the current entries in insertion order.
func (s *Store) Entries() []domain.CartEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CartEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(id) >= 0
}

func (s *Store) indexOf(id string) int {
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}
