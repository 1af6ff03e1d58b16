// Package api exposes the checkout-session and order-lifecycle HTTP surface.
// Handlers decode requests, delegate to the checkout service, and translate
// domain rejections into specific user-facing messages.
package api

import (
	"net/http"

	"github.com/shopkit/promo-engine/internal/domain/checkout"
)

// Handler serves the HTTP API, delegating business logic to the checkout
// service.
type Handler struct {
	checkout *checkout.Service
	security *SecurityHandler
}

// NewHandler constructs a Handler with the required dependencies. security
// guards the order-lifecycle webhooks; the session endpoints are open to the
// storefront.
func NewHandler(svc *checkout.Service, security *SecurityHandler) *Handler {
	return &Handler{
		checkout: svc,
		security: security,
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/checkout/{session}/promotion", h.applyPromotion)
	mux.HandleFunc("DELETE /api/checkout/{session}/promotion", h.removePromotion)
	mux.HandleFunc("POST /api/checkout/{session}/points", h.applyPoints)
	mux.HandleFunc("DELETE /api/checkout/{session}/points", h.removePoints)
	mux.HandleFunc("POST /api/checkout/{session}/revalidate", h.revalidate)
	mux.HandleFunc("POST /api/checkout/{session}/totals", h.totals)

	mux.Handle("POST /api/orders/{order}/confirmed", h.security.RequireAPIKey(http.HandlerFunc(h.orderConfirmed)))
	mux.Handle("POST /api/orders/{order}/cancelled", h.security.RequireAPIKey(http.HandlerFunc(h.orderCancelled)))
}
