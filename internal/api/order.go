package api

import (
	"net/http"
)

// orderConfirmed converts the session's applied slots into durable ledger
// entries. The session ID arrives in the body-free query form ?session= so
// the webhook sender does not need to echo the whole cart.
func (h *Handler) orderConfirmed(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("order")
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "session query parameter required")
		return
	}

	if err := h.checkout.OnOrderConfirmed(r.Context(), sessionID, orderID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// orderCancelled reverses every ledger write made for the order. Idempotent.
func (h *Handler) orderCancelled(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.OnOrderCancelled(r.Context(), r.PathValue("order")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
