package api

import (
	"net/http"
	"time"

	"github.com/digistore/storefront/internal/catalog"
	"github.com/digistore/storefront/internal/notify"
	"github.com/digistore/storefront/internal/offline"
	"github.com/digistore/storefront/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter builds the full HTTP surface: the cart/catalog JSON API, the
// websocket endpoint for push notifications, and the offline cache manager
// as the fallback handler for everything else.
func NewRouter(svc *service.CartService, catalogRepo catalog.RepoInterface, hub *notify.Hub, mgr *offline.Manager) http.Handler {
	cartHandler := NewCartHandler(svc)
	productHandler := NewProductHandler(catalogRepo)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(SessionMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
			r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			r.Post("/coupon", cartHandler.ApplyCoupon)
			r.Delete("/coupon", cartHandler.RemoveCoupon)
			r.Post("/first-time-check", cartHandler.CheckFirstTimeBuyer)
		})
		r.Route("/products", func(r chi.Router) {
			r.Get("/", productHandler.ListProducts)
			r.Get("/{id}", productHandler.GetProduct)
		})
	})

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		notify.ServeWS(hub, sessionID(r.Context()), w, r)
	})

	// Everything else is a page or asset request served through the
	// caching proxy, so the storefront keeps working when the origin is down.
	r.NotFound(mgr.ServeHTTP)

	return otelhttp.NewHandler(r, "storefront")
}
