package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/shopkit/promo-engine/internal/domain/cart"
	"github.com/shopkit/promo-engine/internal/domain/discount"
	"github.com/shopkit/promo-engine/internal/domain/points"
	"github.com/shopkit/promo-engine/internal/domain/promotion"
	"github.com/shopkit/promo-engine/internal/domain/usage"
)

// Service drives the applied-promotion state of checkout sessions. Session
// state is single-writer: one user drives one session, so no locking happens
// here; the only serialized operation is the usage ledger's commit.
type Service struct {
	catalog *promotion.Catalog
	usage   usage.Ledger
	points  points.Ledger
	store   SnapshotStore

	// pointsRate converts one point into currency units.
	pointsRate decimal.Decimal
	now        func() time.Time
}

// NewService wires a checkout Service. pointsRate is the currency value of a
// single point (1 for the common 1:1 parity).
func NewService(
	catalog *promotion.Catalog,
	usageLedger usage.Ledger,
	pointsLedger points.Ledger,
	store SnapshotStore,
	pointsRate decimal.Decimal,
) *Service {
	return &Service{
		catalog:    catalog,
		usage:      usageLedger,
		points:     pointsLedger,
		store:      store,
		pointsRate: pointsRate,
		now:        time.Now,
	}
}

// ApplyResult is the outcome of a successful ApplyCode.
type ApplyResult struct {
	Code            string
	Source          promotion.Source
	Amount          decimal.Decimal
	FreeShipping    bool
	CappedByMaximum bool
}

// ApplyCode applies a coupon or voucher code to the session. An already
// applied promotion with a different code is replaced, never stacked; the
// same code is rejected with promotion.ErrAlreadyApplied. All rejections are
// expected, user-facing outcomes.
func (s *Service) ApplyCode(
	ctx context.Context,
	sessionID, userID, code string,
	snap cart.Snapshot,
	shippingCost decimal.Decimal,
) (*ApplyResult, error) {
	state, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	code = promotion.NormalizeCode(code)
	if state.Promotion != nil && state.Promotion.Code == code {
		return nil, promotion.ErrAlreadyApplied
	}

	p, err := s.catalog.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	slot, err := s.evaluate(ctx, p, userID, snap, shippingCost)
	if err != nil {
		return nil, err
	}

	state.Promotion = slot
	if err := s.store.Put(ctx, state); err != nil {
		return nil, errors.Wrap(err, "store snapshot")
	}

	return &ApplyResult{
		Code:            slot.Code,
		Source:          slot.Source,
		Amount:          slot.Amount,
		FreeShipping:    slot.FreeShipping,
		CappedByMaximum: slot.CappedByMaximum,
	}, nil
}

// RemovePromotion clears the promotion slot. Idempotent: removing from an
// empty session succeeds.
func (s *Service) RemovePromotion(ctx context.Context, sessionID string) error {
	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "load snapshot")
	}
	if state == nil || state.Promotion == nil {
		return nil
	}

	state.Promotion = nil
	return s.save(ctx, state)
}

// PointsApplyResult is the outcome of a successful ApplyPoints.
type PointsApplyResult struct {
	Amount   decimal.Decimal
	Consumed int64
	Clamped  bool
}

// ApplyPoints applies a loyalty-points redemption to the session. The
// redemption is clamped to the available balance; Clamped reports a partial
// redemption. Independent of the promotion slot.
func (s *Service) ApplyPoints(ctx context.Context, sessionID, userID string, requested int64) (*PointsApplyResult, error) {
	state, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	balance, err := s.points.Balance(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "points balance")
	}

	res, err := discount.ComputePoints(requested, balance, s.pointsRate)
	if err != nil {
		return nil, err
	}

	state.Points = &PointsSlot{
		Requested:  requested,
		Consumed:   res.Consumed,
		Amount:     res.Amount,
		Clamped:    res.Clamped,
		ComputedAt: s.now(),
	}
	if err := s.store.Put(ctx, state); err != nil {
		return nil, errors.Wrap(err, "store snapshot")
	}

	return &PointsApplyResult{Amount: res.Amount, Consumed: res.Consumed, Clamped: res.Clamped}, nil
}

// RemovePoints clears the points slot. Idempotent.
func (s *Service) RemovePoints(ctx context.Context, sessionID string) error {
	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "load snapshot")
	}
	if state == nil || state.Points == nil {
		return nil
	}

	state.Points = nil
	return s.save(ctx, state)
}

// Slot names a snapshot slot in revalidation outcomes.
type Slot string

const (
	SlotPromotion Slot = "promotion"
	SlotPoints    Slot = "points"
)

// Removal reports one slot cleared during revalidation, with the rejection
// that caused it so the caller can notify the user.
type Removal struct {
	Slot   Slot
	Code   string
	Reason error
}

// Revalidation is the outcome of Revalidate.
type Revalidation struct {
	Removed []Removal
}

// Revalidate re-checks the applied slots against the current cart and
// shipping cost, refreshing their computed amounts. Slots that are no longer
// valid are silently cleared and reported; checkout is never blocked. Must be
// called on every cart or shipping change and before final order submission —
// a stale discount amount is never trusted at submission time.
//
// A cleared slot stays cleared even if the cart later satisfies the rule
// again; re-application requires an explicit apply call.
func (s *Service) Revalidate(
	ctx context.Context,
	sessionID string,
	snap cart.Snapshot,
	shippingCost decimal.Decimal,
) (*Revalidation, error) {
	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}
	if state.Empty() {
		return &Revalidation{}, nil
	}

	out := &Revalidation{}
	dirty := false

	if state.Promotion != nil {
		slot, err := s.revalidatePromotion(ctx, state, snap, shippingCost)
		switch {
		case err != nil && isRejection(err):
			out.Removed = append(out.Removed, Removal{
				Slot:   SlotPromotion,
				Code:   state.Promotion.Code,
				Reason: err,
			})
			state.Promotion = nil
			dirty = true
		case err != nil:
			return nil, err
		default:
			state.Promotion = slot
			dirty = true
		}
	}

	if state.Points != nil {
		balance, err := s.points.Balance(ctx, state.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "points balance")
		}

		res, err := discount.ComputePoints(state.Points.Requested, balance, s.pointsRate)
		if err != nil {
			out.Removed = append(out.Removed, Removal{Slot: SlotPoints, Reason: err})
			state.Points = nil
		} else {
			state.Points = &PointsSlot{
				Requested:  state.Points.Requested,
				Consumed:   res.Consumed,
				Amount:     res.Amount,
				Clamped:    res.Clamped,
				ComputedAt: s.now(),
			}
		}
		dirty = true
	}

	if dirty {
		if err := s.save(ctx, state); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Totals is the current price breakdown for a session.
type Totals struct {
	Subtotal          decimal.Decimal
	Shipping          decimal.Decimal
	PromotionDiscount decimal.Decimal
	PointsDiscount    decimal.Decimal
	Total             decimal.Decimal
}

// CurrentTotals assembles the order total from the cart, shipping, and the
// applied slots. Idempotent and safe to call after any mutation.
func (s *Service) CurrentTotals(
	ctx context.Context,
	sessionID string,
	snap cart.Snapshot,
	shippingCost decimal.Decimal,
) (*Totals, error) {
	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}

	t := discount.CartTotals{
		Subtotal:          snap.Subtotal,
		Shipping:          shippingCost,
		PromotionDiscount: state.PromotionDiscount(),
		PointsDiscount:    state.PointsDiscount(),
	}

	return &Totals{
		Subtotal:          snap.Subtotal,
		Shipping:          shippingCost,
		PromotionDiscount: state.PromotionDiscount(),
		PointsDiscount:    state.PointsDiscount(),
		Total:             discount.Assemble(t),
	}, nil
}

// OnOrderConfirmed converts the session's applied slots into durable ledger
// entries and destroys the snapshot. The caller must have revalidated the
// session synchronously before submission.
//
// usage.ErrQuotaRace propagates as a hard failure: the order submission must
// fail and the user retry without the promotion.
func (s *Service) OnOrderConfirmed(ctx context.Context, sessionID, orderID string) error {
	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "load snapshot")
	}
	if state.Empty() {
		return s.store.Delete(ctx, sessionID)
	}

	if state.Promotion != nil {
		err := s.usage.Commit(ctx, usage.Entry{
			OrderID:        orderID,
			PromotionID:    state.Promotion.PromotionID,
			UserID:         state.UserID,
			DiscountAmount: state.Promotion.Amount,
			UsedAt:         s.now(),
		})
		if err != nil {
			return err
		}
	}

	if state.Points != nil {
		if err := s.points.Redeem(ctx, state.UserID, orderID, state.Points.Consumed); err != nil {
			return errors.Wrap(err, "redeem points")
		}
	}

	return s.store.Delete(ctx, sessionID)
}

// OnOrderCancelled reverses every ledger write made for the order: usage
// entries are compensated and redeemed points refunded. Idempotent; a second
// cancellation is a no-op.
func (s *Service) OnOrderCancelled(ctx context.Context, orderID string) error {
	entries, err := s.usage.EntriesForOrder(ctx, orderID)
	if err != nil {
		return errors.Wrap(err, "load usage entries")
	}
	for _, e := range entries {
		if err := s.usage.Reverse(ctx, orderID, e.PromotionID); err != nil {
			return errors.Wrapf(err, "reverse usage for promotion %s", e.PromotionID)
		}
	}

	if err := s.points.Refund(ctx, orderID); err != nil {
		return errors.Wrap(err, "refund points")
	}
	return nil
}

// evaluate runs the full validation chain for a promotion against the cart
// and computes its slot. Returns a rejection sentinel on any failed check.
func (s *Service) evaluate(
	ctx context.Context,
	p *promotion.Promotion,
	userID string,
	snap cart.Snapshot,
	shippingCost decimal.Decimal,
) (*PromotionSlot, error) {
	now := s.now()

	if err := promotion.CurrentlyValid(p, now); err != nil {
		return nil, err
	}

	if p.PerCustomerLimit > 0 {
		// The durable ledger, not the session cache, decides per-customer
		// limits.
		n, err := s.usage.CountForUser(ctx, userID, p.ID)
		if err != nil {
			return nil, errors.Wrap(err, "usage count")
		}
		if n >= p.PerCustomerLimit {
			return nil, promotion.ErrPerCustomerLimit
		}
	}

	if !promotion.ApplicableToCart(p, snap.Items) {
		return nil, promotion.ErrNotApplicable
	}

	if snap.Subtotal.LessThan(p.MinimumSubtotal) {
		return nil, promotion.ErrMinimumNotMet
	}

	applicable := snap.Subtotal
	if p.Restricted() {
		applicable = promotion.ApplicableSubtotal(p, snap.Items)
	}

	res, err := discount.Compute(p, snap.Subtotal, applicable, shippingCost)
	if err != nil {
		return nil, err
	}

	return &PromotionSlot{
		PromotionID:     p.ID,
		Code:            p.Code,
		Source:          p.Source,
		Amount:          res.Amount,
		FreeShipping:    res.FreeShipping,
		CappedByMaximum: res.CappedByMaximum,
		ComputedAt:      now,
	}, nil
}

// revalidatePromotion re-runs the validation chain for the currently applied
// promotion slot.
func (s *Service) revalidatePromotion(
	ctx context.Context,
	state *Snapshot,
	snap cart.Snapshot,
	shippingCost decimal.Decimal,
) (*PromotionSlot, error) {
	p, err := s.catalog.FindByCode(ctx, state.Promotion.Code)
	if err != nil {
		return nil, err
	}
	return s.evaluate(ctx, p, state.UserID, snap, shippingCost)
}

// load fetches the session snapshot, creating an empty one bound to userID
// when none exists.
func (s *Service) load(ctx context.Context, sessionID, userID string) (*Snapshot, error) {
	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "load snapshot")
	}
	if state == nil {
		state = &Snapshot{SessionID: sessionID, UserID: userID}
	}
	if state.UserID == "" {
		state.UserID = userID
	}
	return state, nil
}

// save persists the snapshot, dropping it entirely once both slots are empty.
func (s *Service) save(ctx context.Context, state *Snapshot) error {
	if state.Empty() {
		if err := s.store.Delete(ctx, state.SessionID); err != nil {
			return errors.Wrap(err, "delete snapshot")
		}
		return nil
	}
	if err := s.store.Put(ctx, state); err != nil {
		return errors.Wrap(err, "store snapshot")
	}
	return nil
}

// isRejection reports whether err is an expected user-facing rejection
// rather than an infrastructure failure.
func isRejection(err error) bool {
	for _, target := range []error{
		promotion.ErrNotFound,
		promotion.ErrInactive,
		promotion.ErrNotYetStarted,
		promotion.ErrExpired,
		promotion.ErrQuotaExhausted,
		promotion.ErrPerCustomerLimit,
		promotion.ErrMinimumNotMet,
		promotion.ErrNotApplicable,
		discount.ErrInvalidRequest,
		discount.ErrInsufficientPoints,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
