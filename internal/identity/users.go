package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/fjod/template_shop/internal/domain"
)

// UserStore persists accounts. Emails are compared case-insensitively.
type UserStore interface {
	Create(ctx context.Context, user domain.User, passwordHash []byte) error
	FindByEmail(ctx context.Context, email string) (*domain.User, []byte, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

type account struct {
	user domain.User
	hash []byte
}

type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*account
	byEmail map[string]*account
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*account),
		byEmail: make(map[string]*account),
	}
}

func (m *MemoryUserStore) Create(_ context.Context, user domain.User, passwordHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := normalizeEmail(user.Email)
	if _, exists := m.byEmail[email]; exists {
		return ErrEmailTaken
	}
	a := &account{user: user, hash: passwordHash}
	m.byID[user.ID] = a
	m.byEmail[email] = a
	return nil
}

func (m *MemoryUserStore) FindByEmail(_ context.Context, email string) (*domain.User, []byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, nil, ErrUserNotFound
	}
	u := a.user
	return &u, a.hash, nil
}

func (m *MemoryUserStore) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u := a.user
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
