package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fjod/template_shop/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNoSession          = errors.New("no active session")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
)

const minPasswordLength = 6

type AuthEvent string

const (
	EventSignedIn    AuthEvent = "SIGNED_IN"
	EventSignedOut   AuthEvent = "SIGNED_OUT"
	EventUserCreated AuthEvent = "USER_CREATED"
)

// AuthStateChange is delivered to subscribers. Session is nil on sign-out.
type AuthStateChange struct {
	Event   AuthEvent
	UserID  string
	Session *domain.Session
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

type tokenKey struct{}

func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func TokenFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(tokenKey{}).(string); ok {
		return t
	}
	return ""
}

// Provider issues and validates sessions. The caller's access token travels
// in the context (see WithToken); there is no ambient "current user".
type Provider struct {
	users    UserStore
	secret   []byte
	ttl      time.Duration
	hashCost int
	now      func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // token id -> expiry

	subsMu  sync.RWMutex
	subs    map[int]func(AuthStateChange)
	nextSub int
}

func NewProvider(users UserStore, secret []byte, ttl time.Duration) *Provider {
	if len(secret) == 0 {
		logrus.Warn("JWT_SECRET is not set, sessions will not survive a restart")
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("generate session secret: %v", err))
		}
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Provider{
		users:    users,
		secret:   secret,
		ttl:      ttl,
		hashCost: bcrypt.DefaultCost,
		now:      time.Now,
		revoked:  make(map[string]time.Time),
		subs:     make(map[int]func(AuthStateChange)),
	}
}

func (p *Provider) SignUp(ctx context.Context, email, password, fullName string) (*domain.Session, error) {
	email = strings.TrimSpace(email)
	if !strings.Contains(email, "@") || strings.HasPrefix(email, "@") || strings.HasSuffix(email, "@") {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:        uuid.NewString(),
		Email:     email,
		FullName:  strings.TrimSpace(fullName),
		CreatedAt: p.now().UTC(),
	}
	if err := p.users.Create(ctx, user, hash); err != nil {
		return nil, err
	}
	p.notify(AuthStateChange{Event: EventUserCreated, UserID: user.ID})

	session, err := p.issue(user)
	if err != nil {
		return nil, err
	}
	p.notify(AuthStateChange{Event: EventSignedIn, UserID: user.ID, Session: session})
	return session, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	user, hash, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	session, err := p.issue(*user)
	if err != nil {
		return nil, err
	}
	p.notify(AuthStateChange{Event: EventSignedIn, UserID: user.ID, Session: session})
	return session, nil
}

// SignOut revokes the session carried by ctx.
func (p *Provider) SignOut(ctx context.Context) error {
	c, err := p.parse(TokenFromContext(ctx))
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.pruneLocked()
	p.revoked[c.ID] = c.ExpiresAt.Time
	p.mu.Unlock()

	p.notify(AuthStateChange{Event: EventSignedOut, UserID: c.Subject})
	return nil
}

func (p *Provider) GetSession(ctx context.Context) (*domain.Session, error) {
	token := TokenFromContext(ctx)
	c, err := p.parse(token)
	if err != nil {
		return nil, err
	}
	user, err := p.users.FindByID(ctx, c.Subject)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	return &domain.Session{AccessToken: token, ExpiresAt: c.ExpiresAt.Time, User: *user}, nil
}

// GetUser returns the user of the session in ctx, or ErrNoSession.
func (p *Provider) GetUser(ctx context.Context) (*domain.User, error) {
	s, err := p.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	return &s.User, nil
}

// OnAuthStateChange registers fn and returns a function that removes it.
// Callbacks run synchronously on the goroutine that changed the state.
func (p *Provider) OnAuthStateChange(fn func(AuthStateChange)) func() {
	p.subsMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.subsMu.Unlock()

	return func() {
		p.subsMu.Lock()
		delete(p.subs, id)
		p.subsMu.Unlock()
	}
}

func (p *Provider) notify(change AuthStateChange) {
	p.subsMu.RLock()
	fns := make([]func(AuthStateChange), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.subsMu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

func (p *Provider) issue(user domain.User) (*domain.Session, error) {
	now := p.now()
	expires := now.Add(p.ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email: user.Email,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}
	return &domain.Session{AccessToken: signed, ExpiresAt: expires, User: user}, nil
}

func (p *Provider) parse(token string) (*claims, error) {
	if token == "" {
		return nil, ErrNoSession
	}
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil || !parsed.Valid {
		return nil, ErrNoSession
	}

	p.mu.Lock()
	_, revoked := p.revoked[c.ID]
	p.mu.Unlock()
	if revoked {
		return nil, ErrNoSession
	}
	return c, nil
}

// pruneLocked drops revocations whose tokens have expired anyway.
func (p *Provider) pruneLocked() {
	now := p.now()
	for id, exp := range p.revoked {
		if now.After(exp) {
			delete(p.revoked, id)
		}
	}
}
