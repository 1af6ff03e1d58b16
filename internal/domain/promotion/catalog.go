package promotion

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/shopkit/promo-engine/internal/domain/cart"
)

// Catalog is the read-only lookup surface over promotion definitions.
type Catalog struct {
	repo Repository
}

// NewCatalog creates a Catalog backed by the given Repository.
func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo}
}

// FindByCode looks up a promotion by its code, case-insensitively.
// Returns ErrNotFound when no promotion carries the code.
func (c *Catalog) FindByCode(ctx context.Context, code string) (*Promotion, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}

	p, err := c.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "lookup promotion")
	}
	return p, nil
}

// CurrentlyValid checks the kill-switch, validity window, and global quota.
// It returns nil when the promotion is redeemable at now, or the specific
// rejection reason. Pure: no I/O, no mutation.
func CurrentlyValid(p *Promotion, now time.Time) error {
	if !p.Active {
		return ErrInactive
	}
	if p.StartsAt != nil && now.Before(*p.StartsAt) {
		return ErrNotYetStarted
	}
	if p.EndsAt != nil && now.After(*p.EndsAt) {
		return ErrExpired
	}
	if p.UsageLimit > 0 && p.UsedCount >= p.UsageLimit {
		return ErrQuotaExhausted
	}
	return nil
}

// LineMatches reports whether a single cart line falls under the promotion's
// restriction set. Unrestricted promotions match every line.
func LineMatches(p *Promotion, line cart.Line) bool {
	if !p.Restricted() {
		return true
	}
	if slices.Contains(p.ProductIDs, line.ProductID) {
		return true
	}
	for _, cid := range line.CategoryIDs {
		if slices.Contains(p.CategoryIDs, cid) {
			return true
		}
	}
	return false
}

// ApplicableToCart reports whether at least one cart line qualifies for the
// promotion. The predicate is "any line qualifies", not "all lines".
func ApplicableToCart(p *Promotion, items []cart.Line) bool {
	if !p.Restricted() {
		return true
	}
	for _, line := range items {
		if LineMatches(p, line) {
			return true
		}
	}
	return false
}

// ApplicableSubtotal sums the line subtotals of qualifying lines. For an
// unrestricted promotion this is the whole cart subtotal.
func ApplicableSubtotal(p *Promotion, items []cart.Line) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range items {
		if LineMatches(p, line) {
			sum = sum.Add(line.LineSubtotal)
		}
	}
	return sum
}
