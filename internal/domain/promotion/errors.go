package promotion

import "github.com/go-faster/errors"

// Rejection reasons for applying a promotion. Each one maps to a distinct
// user-facing message, so callers must never collapse them into a generic
// "invalid code".
var (
	// ErrNotFound is returned when no promotion exists for a code.
	ErrNotFound = errors.New("promotion not found")
	// ErrInactive is returned when the promotion's kill-switch is off.
	ErrInactive = errors.New("promotion is inactive")
	// ErrNotYetStarted is returned before the validity window opens.
	ErrNotYetStarted = errors.New("promotion has not started yet")
	// ErrExpired is returned after the validity window closes.
	ErrExpired = errors.New("promotion has expired")
	// ErrQuotaExhausted is returned when the global usage limit is spent.
	ErrQuotaExhausted = errors.New("promotion usage limit reached")
	// ErrPerCustomerLimit is returned when this user has already redeemed
	// the promotion up to its per-customer limit.
	ErrPerCustomerLimit = errors.New("per-customer usage limit reached")
	// ErrMinimumNotMet is returned when the cart subtotal is below the
	// promotion's minimum.
	ErrMinimumNotMet = errors.New("cart subtotal below promotion minimum")
	// ErrNotApplicable is returned when no cart line matches the promotion's
	// category/product restriction.
	ErrNotApplicable = errors.New("promotion not applicable to cart")
	// ErrAlreadyApplied is returned when the same code is already applied to
	// the session.
	ErrAlreadyApplied = errors.New("promotion already applied")
)
