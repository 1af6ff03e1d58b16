package api

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/shopkit/promo-engine/internal/domain/cart"
)

// sessionRequest is the shared body of the session endpoints. The storefront
// owns the cart, so every call carries a fresh snapshot and the current
// shipping cost.
type sessionRequest struct {
	Code         string
	Points       int64
	UserID       string
	Cart         cart.Snapshot
	ShippingCost decimal.Decimal
}

func decodeSessionRequest(r *http.Request) (*sessionRequest, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}

	var req sessionRequest
	d := jx.DecodeBytes(body)
	err = d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			v, err := d.Str()
			req.Code = v
			return err
		case "points":
			v, err := d.Int64()
			req.Points = v
			return err
		case "user_id":
			v, err := d.Str()
			req.UserID = v
			return err
		case "cart":
			snap, err := decodeCart(d)
			req.Cart = snap
			return err
		case "shipping_cost":
			v, err := decodeDecimal(d)
			req.ShippingCost = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode request")
	}
	return &req, nil
}

func (h *Handler) applyPromotion(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSessionRequest(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Code == "" {
		writeErrorResponse(w, http.StatusBadRequest, "code required")
		return
	}

	res, err := h.checkout.ApplyCode(r.Context(), r.PathValue("session"), req.UserID, req.Code, req.Cart, req.ShippingCost)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Str(res.Code)
	e.FieldStart("source")
	e.Str(string(res.Source))
	e.FieldStart("amount")
	encodeDecimal(&e, res.Amount)
	e.FieldStart("free_shipping")
	e.Bool(res.FreeShipping)
	e.FieldStart("capped_by_maximum")
	e.Bool(res.CappedByMaximum)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) removePromotion(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.RemovePromotion(r.Context(), r.PathValue("session")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) applyPoints(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSessionRequest(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.checkout.ApplyPoints(r.Context(), r.PathValue("session"), req.UserID, req.Points)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	encodeDecimal(&e, res.Amount)
	e.FieldStart("consumed")
	e.Int64(res.Consumed)
	e.FieldStart("clamped")
	e.Bool(res.Clamped)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) removePoints(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.RemovePoints(r.Context(), r.PathValue("session")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revalidate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSessionRequest(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.checkout.Revalidate(r.Context(), r.PathValue("session"), req.Cart, req.ShippingCost)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("removed")
	e.ArrStart()
	for _, rem := range res.Removed {
		e.ObjStart()
		e.FieldStart("slot")
		e.Str(string(rem.Slot))
		if rem.Code != "" {
			e.FieldStart("code")
			e.Str(rem.Code)
		}
		e.FieldStart("reason")
		e.Str(removalMessage(rem.Reason))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) totals(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSessionRequest(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.checkout.CurrentTotals(r.Context(), r.PathValue("session"), req.Cart, req.ShippingCost)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("subtotal")
	encodeDecimal(&e, res.Subtotal)
	e.FieldStart("shipping")
	encodeDecimal(&e, res.Shipping)
	e.FieldStart("promotion_discount")
	encodeDecimal(&e, res.PromotionDiscount)
	e.FieldStart("points_discount")
	encodeDecimal(&e, res.PointsDiscount)
	e.FieldStart("total")
	encodeDecimal(&e, res.Total)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

// removalMessage renders a revalidation removal reason using the same
// reason-specific wording the apply endpoints use.
func removalMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, rej := range rejections {
		if errors.Is(err, rej.target) {
			return rej.message
		}
	}
	return err.Error()
}
