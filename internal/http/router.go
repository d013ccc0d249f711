package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Handlers struct {
	Catalog   *CatalogHandler
	Cart      *CartHandler
	Checkout  *CheckoutHandler
	Purchases *PurchasesHandler
	Auth      *AuthHandler
}

type RouterOptions struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
}

func NewRouter(h Handlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	// cors treats an empty origin list as "allow all", so it is only
	// installed when origins are configured.
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", ProfileHeader},
			ExposedHeaders:   []string{"X-Request-ID", ProfileHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(AuthMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/templates", func(r chi.Router) {
			r.Get("/", h.Catalog.ListTemplates)
			r.Get("/{id}", h.Catalog.GetTemplate)
		})

		r.Group(func(r chi.Router) {
			r.Use(ProfileMiddleware)
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Cart.GetCart)
				r.Delete("/", h.Cart.ClearCart)
				r.Post("/items", h.Cart.AddItem)
				r.Delete("/items/{id}", h.Cart.RemoveItem)
			})
			r.Post("/checkout", h.Checkout.Checkout)
			r.Post("/purchases", h.Checkout.Purchase)
		})
		r.Get("/purchases", h.Purchases.ListPurchases)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", h.Auth.SignUp)
			r.Post("/signin", h.Auth.SignIn)
			r.Post("/signout", h.Auth.SignOut)
			r.Get("/session", h.Auth.Session)
		})
	})

	return r
}
