package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fjod/template_shop/internal/cart"
	"github.com/fjod/template_shop/internal/checkout"
	"github.com/fjod/template_shop/internal/domain"
	"github.com/fjod/template_shop/internal/identity"
	"github.com/fjod/template_shop/internal/repository"
	"github.com/fjod/template_shop/internal/service"
	"github.com/fjod/template_shop/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler   http.Handler
	provider  *identity.Provider
	purchases *repository.MemoryPurchaseRepository
	templates *repository.MemoryTemplateRepository
	carts     *cart.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	templates := repository.NewMemoryTemplateRepository(
		domain.Template{ID: "tpl-1", Title: "Javanese Heritage", Price: 150000, DemoURL: "/demo/1", IsActive: true},
		domain.Template{ID: "tpl-2", Title: "Rustic Garden", Price: 250000, ThumbnailURL: "/thumbs/2.jpg", IsActive: true},
		domain.Template{ID: "tpl-old", Title: "Retired", Price: 1, IsActive: false},
	)
	purchases := repository.NewMemoryPurchaseRepository()
	provider := identity.NewProvider(identity.NewMemoryUserStore(), []byte("secret"), time.Hour)
	carts := cart.NewRegistry(storage.NewMemoryStorage(), 100, time.Minute)

	purchaseSvc := service.NewPurchaseService(purchases)
	catalog := service.NewCatalogService(templates, purchaseSvc)
	reconciler := checkout.NewReconciler(provider, purchases, nil, time.Second)

	h := Handlers{
		Catalog:   NewCatalogHandler(catalog, provider, time.Second),
		Cart:      NewCartHandler(carts, catalog, time.Second),
		Checkout:  NewCheckoutHandler(reconciler, carts, catalog, purchaseSvc, time.Second),
		Purchases: NewPurchasesHandler(purchaseSvc, provider, time.Second),
		Auth:      NewAuthHandler(provider, time.Second),
	}
	return &testServer{
		handler:   NewRouter(h, RouterOptions{RequestTimeout: 5 * time.Second, AllowedOrigins: []string{"http://localhost:5173"}}),
		provider:  provider,
		purchases: purchases,
		templates: templates,
		carts:     carts,
	}
}

type call struct {
	method  string
	path    string
	body    interface{}
	token   string
	profile string
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.profile != "" {
		req.Header.Set(ProfileHeader, c.profile)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) signUp(t *testing.T, email string) *domain.Session {
	t.Helper()
	rec := s.do(t, call{method: "POST", path: "/api/v1/auth/signup", body: CredentialsDTO{Email: email, Password: "password"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	return &session
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, call{method: "GET", path: "/health"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_Propagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestCORS_OnlyConfiguredOrigins(t *testing.T) {
	s := newTestServer(t)

	preflight := func(h http.Handler, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("OPTIONS", "/api/v1/cart", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := preflight(s.handler, "http://localhost:5173")
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = preflight(s.handler, "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	closed := NewRouter(Handlers{}, RouterOptions{})
	rec = preflight(closed, "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestTemplates_ListAndGet(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: "GET", path: "/api/v1/templates"})
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]service.CatalogItem](t, rec)
	assert.Len(t, items, 2, "inactive templates are hidden")

	rec = s.do(t, call{method: "GET", path: "/api/v1/templates/tpl-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Javanese Heritage", decode[domain.Template](t, rec).Title)

	rec = s.do(t, call{method: "GET", path: "/api/v1/templates/nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, rec).Code)
}

func TestCart_Flow(t *testing.T) {
	s := newTestServer(t)
	p := "profile-a"

	rec := s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: p, body: AddItemRequestDTO{TemplateID: "tpl-1"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(150000), decode[CartResponseDTO](t, rec).Total)

	rec = s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: p, body: AddItemRequestDTO{TemplateID: "tpl-1"}})
	require.Equal(t, http.StatusOK, rec.Code, "re-adding is a no-op")
	assert.Equal(t, 1, decode[CartResponseDTO](t, rec).Count)

	rec = s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: p, body: AddItemRequestDTO{TemplateID: "tpl-2"}})
	resp := decode[CartResponseDTO](t, rec)
	assert.Equal(t, int64(400000), resp.Total)
	assert.Equal(t, 2, resp.Count)

	rec = s.do(t, call{method: "DELETE", path: "/api/v1/cart/items/tpl-1", profile: p})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(250000), decode[CartResponseDTO](t, rec).Total)

	rec = s.do(t, call{method: "GET", path: "/api/v1/cart", profile: "profile-b"})
	assert.Equal(t, 0, decode[CartResponseDTO](t, rec).Count, "profiles are isolated")

	rec = s.do(t, call{method: "DELETE", path: "/api/v1/cart", profile: p})
	resp = decode[CartResponseDTO](t, rec)
	assert.Equal(t, 0, resp.Count)
	assert.NotNil(t, resp.Items)
}

func TestCart_AddValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: "p", body: map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: "p", body: AddItemRequestDTO{TemplateID: "missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: "p", body: AddItemRequestDTO{TemplateID: "tpl-old"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCart_IssuesProfileCookie(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: "GET", path: "/api/v1/cart"})
	require.Equal(t, http.StatusOK, rec.Code)
	profileID := rec.Header().Get(ProfileHeader)
	require.NotEmpty(t, profileID)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, ProfileCookie, cookies[0].Name)
	assert.Equal(t, profileID, cookies[0].Value)

	req := httptest.NewRequest("GET", "/api/v1/cart", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, profileID, rec.Header().Get(ProfileHeader))
	assert.Empty(t, rec.Result().Cookies(), "known profile gets no new cookie")
}

func TestCheckout_UnauthenticatedKeepsCart(t *testing.T) {
	s := newTestServer(t)
	p := "profile-a"
	s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: p, body: AddItemRequestDTO{TemplateID: "tpl-2"}})

	rec := s.do(t, call{method: "POST", path: "/api/v1/checkout", profile: p})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decode[CheckoutResponseDTO](t, rec)
	assert.Equal(t, domain.ReasonUnauthenticated, resp.Reason)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, []string{"tpl-2"}, ids(s.carts.Get(p).Entries()))
}

func TestCheckout_SuccessThenAlreadyOwned(t *testing.T) {
	s := newTestServer(t)
	session := s.signUp(t, "bride@example.com")
	p := "profile-a"
	s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: p, body: AddItemRequestDTO{TemplateID: "tpl-1"}})
	s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: p, body: AddItemRequestDTO{TemplateID: "tpl-2"}})

	rec := s.do(t, call{method: "POST", path: "/api/v1/checkout", profile: p, token: session.AccessToken})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[CheckoutResponseDTO](t, rec)
	assert.Equal(t, domain.CheckoutStateSucceeded, resp.State)
	assert.Len(t, resp.Purchased, 2)
	assert.Equal(t, 0, s.carts.Get(p).GetCartCount())

	rec = s.do(t, call{method: "POST", path: "/api/v1/purchases", profile: p, token: session.AccessToken, body: PurchaseRequestDTO{TemplateID: "tpl-1"}})
	require.Equal(t, http.StatusConflict, rec.Code)
	resp = decode[CheckoutResponseDTO](t, rec)
	assert.Equal(t, domain.ReasonAlreadyOwned, resp.Reason)
	assert.False(t, resp.Retriable)

	rec = s.do(t, call{method: "GET", path: "/api/v1/templates", token: session.AccessToken})
	for _, it := range decode[[]service.CatalogItem](t, rec) {
		assert.True(t, it.Owned, it.ID)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	s := newTestServer(t)
	session := s.signUp(t, "bride@example.com")

	rec := s.do(t, call{method: "POST", path: "/api/v1/checkout", profile: "p", token: session.AccessToken})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ReasonEmptyCart, decode[CheckoutResponseDTO](t, rec).Reason)
}

func TestPurchase_DirectRemovesFromCart(t *testing.T) {
	s := newTestServer(t)
	session := s.signUp(t, "bride@example.com")
	p := "profile-a"
	s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: p, body: AddItemRequestDTO{TemplateID: "tpl-1"}})
	s.do(t, call{method: "POST", path: "/api/v1/cart/items", profile: p, body: AddItemRequestDTO{TemplateID: "tpl-2"}})

	rec := s.do(t, call{method: "POST", path: "/api/v1/purchases", profile: p, token: session.AccessToken, body: PurchaseRequestDTO{TemplateID: "tpl-2"}})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	purchased := decode[CheckoutResponseDTO](t, rec).Purchased
	require.Len(t, purchased, 1)
	assert.Equal(t, "/thumbs/2.jpg", purchased[0].AccessURL)
	assert.Equal(t, []string{"tpl-1"}, ids(s.carts.Get(p).Entries()))

	rec = s.do(t, call{method: "POST", path: "/api/v1/purchases", profile: p, token: session.AccessToken, body: PurchaseRequestDTO{TemplateID: "missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPurchases_List(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, call{method: "GET", path: "/api/v1/purchases"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	session := s.signUp(t, "bride@example.com")
	rec = s.do(t, call{method: "GET", path: "/api/v1/purchases", token: session.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	s.do(t, call{method: "POST", path: "/api/v1/purchases", profile: "p", token: session.AccessToken, body: PurchaseRequestDTO{TemplateID: "tpl-1"}})
	rec = s.do(t, call{method: "GET", path: "/api/v1/purchases", token: session.AccessToken})
	records := decode[[]domain.PurchaseRecord](t, rec)
	require.Len(t, records, 1)
	assert.Equal(t, int64(150000), records[0].PricePaid)
}

func TestCheckout_ConcurrentSubmitsCreateOneRecord(t *testing.T) {
	s := newTestServer(t)
	session := s.signUp(t, "bride@example.com")

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := s.do(t, call{method: "POST", path: "/api/v1/purchases", profile: "p", token: session.AccessToken, body: PurchaseRequestDTO{TemplateID: "tpl-1"}})
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	created := 0
	for _, c := range codes {
		if c == http.StatusCreated {
			created++
		} else {
			assert.Equal(t, http.StatusConflict, c)
		}
	}
	assert.Equal(t, 1, created)

	list, err := s.purchases.ListByUser(context.Background(), session.User.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAuth_Flow(t *testing.T) {
	s := newTestServer(t)
	s.signUp(t, "bride@example.com")

	rec := s.do(t, call{method: "POST", path: "/api/v1/auth/signup", body: CredentialsDTO{Email: "bride@example.com", Password: "password"}})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, call{method: "POST", path: "/api/v1/auth/signup", body: CredentialsDTO{Email: "x@y.z", Password: "123"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, call{method: "POST", path: "/api/v1/auth/signin", body: CredentialsDTO{Email: "bride@example.com", Password: "wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, call{method: "POST", path: "/api/v1/auth/signin", body: CredentialsDTO{Email: "bride@example.com", Password: "password"}})
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[domain.Session](t, rec).AccessToken

	rec = s.do(t, call{method: "GET", path: "/api/v1/auth/session", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bride@example.com", decode[domain.Session](t, rec).User.Email)

	rec = s.do(t, call{method: "POST", path: "/api/v1/auth/signout", token: token})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, call{method: "GET", path: "/api/v1/auth/session", token: token})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type failingCatalog struct{}

func (failingCatalog) List(context.Context, string) ([]service.CatalogItem, error) {
	return nil, errors.New("db locked")
}

func (failingCatalog) Get(context.Context, string) (*domain.Template, error) {
	return nil, errors.New("db locked")
}

func TestCatalog_BackendError(t *testing.T) {
	provider := identity.NewProvider(identity.NewMemoryUserStore(), []byte("secret"), time.Hour)
	h := NewCatalogHandler(failingCatalog{}, provider, time.Second)

	rec := httptest.NewRecorder()
	h.ListTemplates(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type stubReconciler struct {
	result domain.CheckoutResult
}

func (s stubReconciler) Checkout(context.Context, checkout.Cart, []domain.CartEntry) domain.CheckoutResult {
	return s.result
}

func (s stubReconciler) CheckoutCart(context.Context, checkout.Cart) domain.CheckoutResult {
	return s.result
}

func TestCheckout_StatusMapping(t *testing.T) {
	cases := []struct {
		result domain.CheckoutResult
		status int
	}{
		{domain.Succeeded([]domain.PurchaseRecord{{TemplateID: "tpl-1"}}), http.StatusCreated},
		{domain.Failed(domain.ReasonUnauthenticated), http.StatusUnauthorized},
		{domain.AlreadyOwned([]string{"tpl-1"}), http.StatusConflict},
		{domain.Failed(domain.ReasonInProgress), http.StatusConflict},
		{domain.Failed(domain.ReasonEmptyCart), http.StatusBadRequest},
		{domain.WriteFailed("connection reset"), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		h := NewCheckoutHandler(stubReconciler{tc.result}, cart.NewRegistry(storage.NewMemoryStorage(), 0, 0), failingCatalog{}, &recordingCache{}, time.Second)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/", nil)
		h.Checkout(rec, req)

		assert.Equal(t, tc.status, rec.Code, string(tc.result.Reason))
		resp := decode[CheckoutResponseDTO](t, rec)
		assert.Equal(t, tc.result.Message(), resp.Message)
		assert.NotContains(t, rec.Body.String(), "connection reset", "backend detail must not leak")
	}
}

type recordingCache struct {
	m     sync.RWMutex
	users []string
}

func (c *recordingCache) Invalidate(userID string) {
	c.m.Lock()
	defer c.m.Unlock()
	c.users = append(c.users, userID)
}

func (c *recordingCache) invalidated() []string {
	c.m.RLock()
	defer c.m.RUnlock()
	return append([]string(nil), c.users...)
}

func TestCheckout_SuccessInvalidatesPurchaseListing(t *testing.T) {
	registry := cart.NewRegistry(storage.NewMemoryStorage(), 0, 0)

	cache := &recordingCache{}
	ok := NewCheckoutHandler(stubReconciler{domain.Succeeded([]domain.PurchaseRecord{{UserID: "user-1", TemplateID: "tpl-1"}})}, registry, failingCatalog{}, cache, time.Second)
	ok.Checkout(httptest.NewRecorder(), httptest.NewRequest("POST", "/", nil))
	assert.Equal(t, []string{"user-1"}, cache.invalidated())

	cache = &recordingCache{}
	failed := NewCheckoutHandler(stubReconciler{domain.WriteFailed("down")}, registry, failingCatalog{}, cache, time.Second)
	failed.Checkout(httptest.NewRecorder(), httptest.NewRequest("POST", "/", nil))
	assert.Empty(t, cache.invalidated())
}

func TestCart_AnonymousRequestsDoNotGrowRegistry(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 2000; i++ {
		rec := s.do(t, call{method: "GET", path: "/api/v1/cart"})
		require.Equal(t, http.StatusOK, rec.Code)
	}
	s.do(t, call{method: "DELETE", path: "/api/v1/cart"})
	s.do(t, call{method: "DELETE", path: "/api/v1/cart/items/tpl-1"})
	s.do(t, call{method: "POST", path: "/api/v1/checkout"})
	assert.Equal(t, 0, s.carts.Len())

	// mutations are cached, up to the registry bound
	for i := 0; i < 300; i++ {
		s.do(t, call{method: "POST", path: "/api/v1/cart/items", body: AddItemRequestDTO{TemplateID: "tpl-1"}})
	}
	assert.LessOrEqual(t, s.carts.Len(), 100)
}

func ids(entries []domain.CartEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
