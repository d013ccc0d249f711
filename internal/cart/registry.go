package cart

import (
	"fmt"
	"sync"
	"time"

	"github.com/fjod/template_shop/internal/storage"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = 15 * time.Minute
)

// Registry hands out one Store per browser profile. Stores are kept in a
// bounded cache; an evicted or expired cart is rebuilt from storage, which
// holds every mutation.
type Registry struct {
	mu      sync.Mutex
	storage storage.Storage
	stores  *expirable.LRU[string, *Store]
}

// NewRegistry caches at most size stores for at most ttl each. Non-positive
// values fall back to the defaults.
func NewRegistry(st storage.Storage, size int, ttl time.Duration) *Registry {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Registry{
		storage: st,
		stores:  expirable.NewLRU[string, *Store](size, nil, ttl),
	}
}

// Get returns the cached store for the profile, loading and caching it on a miss.
// Use it for carts about to be mutated.
func (r *Registry) Get(profileID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores.Get(profileID); ok {
		return s
	}
	s := NewStore(r.storage, Key(profileID))
	r.stores.Add(profileID, s)
	return s
}

// Peek returns the cached store if there is one, otherwise a store loaded
// from storage that is not cached. Reads never grow the registry.
func (r *Registry) Peek(profileID string) *Store {
	r.mu.Lock()
	s, ok := r.stores.Get(profileID)
	r.mu.Unlock()
	if ok {
		return s
	}
	return NewStore(r.storage, Key(profileID))
}

// Len is the number of cached stores.
func (r *Registry) Len() int {
	return r.stores.Len()
}

// Key is the storage key private to a profile's cart.
func Key(profileID string) string {
	return fmt.Sprintf("cart:%s", profileID)
}
