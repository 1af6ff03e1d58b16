package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shopkit/promo-engine/internal/domain/cart"
	"github.com/shopkit/promo-engine/internal/domain/discount"
	"github.com/shopkit/promo-engine/internal/domain/points"
	"github.com/shopkit/promo-engine/internal/domain/promotion"
	"github.com/shopkit/promo-engine/internal/domain/usage"
)

const maxBodySize = 1 << 20

// rejection maps one expected domain outcome to its HTTP representation.
// Every rejection carries a reason-specific message; a user who typed an
// expired code must not be told the code does not exist.
type rejection struct {
	target  error
	status  int
	message string
}

var rejections = []rejection{
	{promotion.ErrNotFound, http.StatusNotFound, "promotion code not found"},
	{promotion.ErrInactive, http.StatusUnprocessableEntity, "promotion is not active"},
	{promotion.ErrNotYetStarted, http.StatusUnprocessableEntity, "promotion has not started yet"},
	{promotion.ErrExpired, http.StatusUnprocessableEntity, "promotion has expired"},
	{promotion.ErrQuotaExhausted, http.StatusConflict, "promotion usage limit reached"},
	{promotion.ErrPerCustomerLimit, http.StatusUnprocessableEntity, "you have already used this promotion the maximum number of times"},
	{promotion.ErrMinimumNotMet, http.StatusUnprocessableEntity, "cart subtotal is below the promotion minimum"},
	{promotion.ErrNotApplicable, http.StatusUnprocessableEntity, "promotion does not apply to any item in the cart"},
	{promotion.ErrAlreadyApplied, http.StatusConflict, "this code is already applied"},
	{discount.ErrInvalidRequest, http.StatusBadRequest, "points must be greater than zero"},
	{discount.ErrInsufficientPoints, http.StatusUnprocessableEntity, "no points available to redeem"},
	{points.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient points balance"},
	{usage.ErrQuotaRace, http.StatusConflict, "promotion usage limit was reached during checkout; remove the promotion and retry"},
}

// writeError renders err as a JSON error response. Domain rejections map to
// their specific status and message; anything else is an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, rej := range rejections {
		if errors.Is(err, rej.target) {
			writeErrorResponse(w, rej.status, rej.message)
			return
		}
	}

	zctx.From(r.Context()).Error("request failed", zap.Error(err))
	writeErrorResponse(w, http.StatusInternalServerError, "internal error")
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(status)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

// decodeDecimal accepts both JSON numbers and string-wrapped numbers, which
// is how decimal amounts arrive from different storefront clients.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	v, err := decimal.NewFromString(strings.Trim(n.String(), `"`))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse decimal")
	}
	return v, nil
}

func encodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.RawStr(v.String())
}

// decodeCart parses the cart snapshot object: a list of lines plus the
// subtotal. A snapshot whose subtotal disagrees with its line sum is rejected
// before any pricing happens.
func decodeCart(d *jx.Decoder) (cart.Snapshot, error) {
	var snap cart.Snapshot
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				line, err := decodeCartLine(d)
				if err != nil {
					return err
				}
				snap.Items = append(snap.Items, line)
				return nil
			})
		case "subtotal":
			v, err := decodeDecimal(d)
			snap.Subtotal = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return cart.Snapshot{}, err
	}
	if !snap.Subtotal.Equal(snap.SumLines()) {
		return cart.Snapshot{}, errors.New("cart subtotal does not match line sum")
	}
	return snap, nil
}

func decodeCartLine(d *jx.Decoder) (cart.Line, error) {
	var line cart.Line
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "product_id":
			v, err := d.Str()
			line.ProductID = v
			return err
		case "category_ids":
			return d.Arr(func(d *jx.Decoder) error {
				v, err := d.Str()
				line.CategoryIDs = append(line.CategoryIDs, v)
				return err
			})
		case "unit_price":
			v, err := decodeDecimal(d)
			line.UnitPrice = v
			return err
		case "quantity":
			v, err := d.Int()
			line.Quantity = v
			return err
		case "line_subtotal":
			v, err := decodeDecimal(d)
			line.LineSubtotal = v
			return err
		default:
			return d.Skip()
		}
	})
	return line, err
}
