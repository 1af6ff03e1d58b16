package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/promo-engine/internal/domain/cart"
	"github.com/shopkit/promo-engine/internal/domain/discount"
	"github.com/shopkit/promo-engine/internal/domain/points"
	"github.com/shopkit/promo-engine/internal/domain/promotion"
	"github.com/shopkit/promo-engine/internal/domain/usage"
)

type mockPromotionRepo struct {
	promos map[string]*promotion.Promotion
}

func (m *mockPromotionRepo) FindByCode(_ context.Context, code string) (*promotion.Promotion, error) {
	p, ok := m.promos[code]
	if !ok {
		return nil, promotion.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type mapStore struct {
	m map[string]*Snapshot
}

func newMapStore() *mapStore {
	return &mapStore{m: make(map[string]*Snapshot)}
}

func (s *mapStore) Get(_ context.Context, sessionID string) (*Snapshot, error) {
	snap, ok := s.m[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (s *mapStore) Put(_ context.Context, snap *Snapshot) error {
	cp := *snap
	s.m[snap.SessionID] = &cp
	return nil
}

func (s *mapStore) Delete(_ context.Context, sessionID string) error {
	delete(s.m, sessionID)
	return nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	svc    *Service
	store  *mapStore
	usage  *usage.MemoryLedger
	points *points.MemoryLedger
	repo   *mockPromotionRepo
}

func newFixture(promos []*promotion.Promotion) *fixture {
	repo := &mockPromotionRepo{promos: make(map[string]*promotion.Promotion)}
	limits := make(map[string]int)
	for _, p := range promos {
		repo.promos[p.Code] = p
		limits[p.ID] = p.UsageLimit
	}

	f := &fixture{
		repo:   repo,
		store:  newMapStore(),
		usage:  usage.NewMemoryLedger(func(promotionID string) int { return limits[promotionID] }),
		points: points.NewMemoryLedger(),
	}
	f.svc = NewService(
		promotion.NewCatalog(repo),
		f.usage,
		f.points,
		f.store,
		decimal.NewFromInt(1),
	)
	f.svc.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return f
}

func testCart(subtotal string) cart.Snapshot {
	return cart.Snapshot{
		Items: []cart.Line{{
			ProductID:    "p1",
			Quantity:     1,
			UnitPrice:    dec(subtotal),
			LineSubtotal: dec(subtotal),
		}},
		Subtotal: dec(subtotal),
	}
}

func percentPromo(id, code string, value int64) *promotion.Promotion {
	return &promotion.Promotion{
		ID:     id,
		Code:   code,
		Source: promotion.SourceCoupon,
		Kind:   promotion.KindPercentage,
		Value:  decimal.NewFromInt(value),
		Active: true,
	}
}

func TestService_ApplyCode(t *testing.T) {
	ctx := context.Background()
	shipping := dec("5.00")

	t.Run("percentage coupon", func(t *testing.T) {
		f := newFixture([]*promotion.Promotion{percentPromo("id1", "SAVE10", 10)})

		res, err := f.svc.ApplyCode(ctx, "s1", "u1", "save10", testCart("120.00"), shipping)
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", res.Code)
		assert.True(t, dec("12.00").Equal(res.Amount), "got %s", res.Amount)
		assert.False(t, res.FreeShipping)

		totals, err := f.svc.CurrentTotals(ctx, "s1", testCart("120.00"), shipping)
		require.NoError(t, err)
		assert.True(t, dec("113.00").Equal(totals.Total), "got %s", totals.Total)
	})

	t.Run("percentage capped by maximum", func(t *testing.T) {
		p := percentPromo("id1", "BIGSAVE", 20)
		p.MaximumDiscount = decimal.NewFromInt(50)
		f := newFixture([]*promotion.Promotion{p})

		res, err := f.svc.ApplyCode(ctx, "s1", "u1", "BIGSAVE", testCart("400.00"), shipping)
		require.NoError(t, err)
		assert.True(t, dec("50.00").Equal(res.Amount), "got %s", res.Amount)
		assert.True(t, res.CappedByMaximum)
	})

	t.Run("minimum subtotal not met", func(t *testing.T) {
		p := percentPromo("id1", "MIN50", 10)
		p.MinimumSubtotal = decimal.NewFromInt(50)
		f := newFixture([]*promotion.Promotion{p})

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "MIN50", testCart("49.99"), shipping)
		assert.ErrorIs(t, err, promotion.ErrMinimumNotMet)

		state, err := f.store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("unknown code", func(t *testing.T) {
		f := newFixture(nil)
		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "BOGUS", testCart("50.00"), shipping)
		assert.ErrorIs(t, err, promotion.ErrNotFound)
	})

	t.Run("same code twice", func(t *testing.T) {
		f := newFixture([]*promotion.Promotion{percentPromo("id1", "SAVE10", 10)})

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "SAVE10", testCart("100.00"), shipping)
		require.NoError(t, err)

		_, err = f.svc.ApplyCode(ctx, "s1", "u1", "save10", testCart("100.00"), shipping)
		assert.ErrorIs(t, err, promotion.ErrAlreadyApplied)
	})

	t.Run("different code replaces, never stacks", func(t *testing.T) {
		voucher := percentPromo("id2", "VOUCH20", 20)
		voucher.Source = promotion.SourceVoucher
		f := newFixture([]*promotion.Promotion{percentPromo("id1", "SAVE10", 10), voucher})

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "SAVE10", testCart("100.00"), shipping)
		require.NoError(t, err)

		res, err := f.svc.ApplyCode(ctx, "s1", "u1", "VOUCH20", testCart("100.00"), shipping)
		require.NoError(t, err)
		assert.Equal(t, promotion.SourceVoucher, res.Source)

		state, err := f.store.Get(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, state.Promotion)
		assert.Equal(t, "VOUCH20", state.Promotion.Code)
		assert.True(t, dec("20.00").Equal(state.Promotion.Amount))
	})

	t.Run("invalid replacement keeps current promotion", func(t *testing.T) {
		expired := percentPromo("id2", "GONE", 30)
		past := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		expired.EndsAt = &past
		f := newFixture([]*promotion.Promotion{percentPromo("id1", "SAVE10", 10), expired})

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "SAVE10", testCart("100.00"), shipping)
		require.NoError(t, err)

		_, err = f.svc.ApplyCode(ctx, "s1", "u1", "GONE", testCart("100.00"), shipping)
		assert.ErrorIs(t, err, promotion.ErrExpired)

		state, err := f.store.Get(ctx, "s1")
		require.NoError(t, err)
		require.NotNil(t, state.Promotion)
		assert.Equal(t, "SAVE10", state.Promotion.Code)
	})

	t.Run("per-customer limit counts confirmed orders", func(t *testing.T) {
		p := percentPromo("id1", "ONCE", 10)
		p.PerCustomerLimit = 1
		f := newFixture([]*promotion.Promotion{p})

		require.NoError(t, f.usage.Commit(ctx, usage.Entry{
			OrderID:     "past-order",
			PromotionID: "id1",
			UserID:      "u1",
		}))

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "ONCE", testCart("100.00"), shipping)
		assert.ErrorIs(t, err, promotion.ErrPerCustomerLimit)

		// A different user is unaffected.
		_, err = f.svc.ApplyCode(ctx, "s2", "u2", "ONCE", testCart("100.00"), shipping)
		assert.NoError(t, err)
	})

	t.Run("restricted promotion needs a qualifying line", func(t *testing.T) {
		p := percentPromo("id1", "BOOKS25", 25)
		p.CategoryIDs = []string{"books"}
		f := newFixture([]*promotion.Promotion{p})

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "BOOKS25", testCart("100.00"), shipping)
		assert.ErrorIs(t, err, promotion.ErrNotApplicable)

		snap := cart.Snapshot{
			Items: []cart.Line{
				{ProductID: "b1", CategoryIDs: []string{"books"}, Quantity: 1, UnitPrice: dec("40.00"), LineSubtotal: dec("40.00")},
				{ProductID: "g1", CategoryIDs: []string{"games"}, Quantity: 1, UnitPrice: dec("60.00"), LineSubtotal: dec("60.00")},
			},
			Subtotal: dec("100.00"),
		}
		res, err := f.svc.ApplyCode(ctx, "s2", "u1", "BOOKS25", snap, shipping)
		require.NoError(t, err)
		assert.True(t, dec("10.00").Equal(res.Amount), "got %s", res.Amount)
	})
}

func TestService_Points(t *testing.T) {
	ctx := context.Background()
	shipping := dec("5.00")

	t.Run("redemption clamps to balance", func(t *testing.T) {
		f := newFixture(nil)
		f.points.Earn("u1", 500)

		res, err := f.svc.ApplyPoints(ctx, "s1", "u1", 800)
		require.NoError(t, err)
		assert.Equal(t, int64(500), res.Consumed)
		assert.True(t, res.Clamped)
		assert.True(t, dec("500").Equal(res.Amount))
	})

	t.Run("points are independent of the promotion slot", func(t *testing.T) {
		f := newFixture([]*promotion.Promotion{percentPromo("id1", "SAVE10", 10)})
		f.points.Earn("u1", 30)

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "SAVE10", testCart("100.00"), shipping)
		require.NoError(t, err)
		_, err = f.svc.ApplyPoints(ctx, "s1", "u1", 30)
		require.NoError(t, err)

		totals, err := f.svc.CurrentTotals(ctx, "s1", testCart("100.00"), shipping)
		require.NoError(t, err)
		assert.True(t, dec("10.00").Equal(totals.PromotionDiscount))
		assert.True(t, dec("30").Equal(totals.PointsDiscount))
		assert.True(t, dec("65.00").Equal(totals.Total), "got %s", totals.Total)

		// Removing the promotion leaves the points slot in place.
		require.NoError(t, f.svc.RemovePromotion(ctx, "s1"))
		totals, err = f.svc.CurrentTotals(ctx, "s1", testCart("100.00"), shipping)
		require.NoError(t, err)
		assert.True(t, totals.PromotionDiscount.IsZero())
		assert.True(t, dec("30").Equal(totals.PointsDiscount))
	})

	t.Run("applying points with no balance is rejected", func(t *testing.T) {
		f := newFixture(nil)
		_, err := f.svc.ApplyPoints(ctx, "s1", "u1", 10)
		assert.ErrorIs(t, err, discount.ErrInsufficientPoints)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		f := newFixture(nil)
		require.NoError(t, f.svc.RemovePoints(ctx, "s1"))
		require.NoError(t, f.svc.RemovePromotion(ctx, "s1"))
	})
}

func TestService_Revalidate(t *testing.T) {
	ctx := context.Background()
	shipping := dec("5.00")

	t.Run("amount refreshes when the cart changes", func(t *testing.T) {
		f := newFixture([]*promotion.Promotion{percentPromo("id1", "SAVE10", 10)})

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "SAVE10", testCart("100.00"), shipping)
		require.NoError(t, err)

		rev, err := f.svc.Revalidate(ctx, "s1", testCart("200.00"), shipping)
		require.NoError(t, err)
		assert.Empty(t, rev.Removed)

		state, err := f.store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, dec("20.00").Equal(state.Promotion.Amount), "got %s", state.Promotion.Amount)
	})

	t.Run("slot cleared when cart drops below minimum, never auto-reapplied", func(t *testing.T) {
		p := percentPromo("id1", "MIN50", 10)
		p.MinimumSubtotal = decimal.NewFromInt(50)
		f := newFixture([]*promotion.Promotion{p})

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "MIN50", testCart("80.00"), shipping)
		require.NoError(t, err)

		rev, err := f.svc.Revalidate(ctx, "s1", testCart("40.00"), shipping)
		require.NoError(t, err)
		require.Len(t, rev.Removed, 1)
		assert.Equal(t, SlotPromotion, rev.Removed[0].Slot)
		assert.Equal(t, "MIN50", rev.Removed[0].Code)
		assert.ErrorIs(t, rev.Removed[0].Reason, promotion.ErrMinimumNotMet)

		// Cart grows back over the minimum: the slot stays cleared.
		rev, err = f.svc.Revalidate(ctx, "s1", testCart("90.00"), shipping)
		require.NoError(t, err)
		assert.Empty(t, rev.Removed)

		totals, err := f.svc.CurrentTotals(ctx, "s1", testCart("90.00"), shipping)
		require.NoError(t, err)
		assert.True(t, totals.PromotionDiscount.IsZero())
	})

	t.Run("deactivated promotion is cleared", func(t *testing.T) {
		p := percentPromo("id1", "KILLME", 10)
		f := newFixture([]*promotion.Promotion{p})

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "KILLME", testCart("100.00"), shipping)
		require.NoError(t, err)

		p.Active = false

		rev, err := f.svc.Revalidate(ctx, "s1", testCart("100.00"), shipping)
		require.NoError(t, err)
		require.Len(t, rev.Removed, 1)
		assert.ErrorIs(t, rev.Removed[0].Reason, promotion.ErrInactive)
	})

	t.Run("points refresh against the live balance", func(t *testing.T) {
		f := newFixture(nil)
		f.points.Earn("u1", 100)

		_, err := f.svc.ApplyPoints(ctx, "s1", "u1", 100)
		require.NoError(t, err)

		// Balance dropped after the slot was computed.
		require.NoError(t, f.points.Redeem(ctx, "u1", "other-order", 70))

		rev, err := f.svc.Revalidate(ctx, "s1", testCart("100.00"), shipping)
		require.NoError(t, err)
		assert.Empty(t, rev.Removed)

		state, err := f.store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, int64(30), state.Points.Consumed)
		assert.True(t, state.Points.Clamped)
	})

	t.Run("empty session is a no-op", func(t *testing.T) {
		f := newFixture(nil)
		rev, err := f.svc.Revalidate(ctx, "s1", testCart("100.00"), shipping)
		require.NoError(t, err)
		assert.Empty(t, rev.Removed)
	})
}

func TestService_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	shipping := dec("5.00")

	t.Run("confirm commits usage and points, destroys session", func(t *testing.T) {
		f := newFixture([]*promotion.Promotion{percentPromo("id1", "SAVE10", 10)})
		f.points.Earn("u1", 200)

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "SAVE10", testCart("100.00"), shipping)
		require.NoError(t, err)
		_, err = f.svc.ApplyPoints(ctx, "s1", "u1", 50)
		require.NoError(t, err)

		require.NoError(t, f.svc.OnOrderConfirmed(ctx, "s1", "order-1"))

		assert.Equal(t, 1, f.usage.UsedCount("id1"))
		balance, err := f.points.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(150), balance)

		state, err := f.store.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Nil(t, state)
	})

	t.Run("cancel reverses usage and refunds points", func(t *testing.T) {
		f := newFixture([]*promotion.Promotion{percentPromo("id1", "SAVE10", 10)})
		f.points.Earn("u1", 200)

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "SAVE10", testCart("100.00"), shipping)
		require.NoError(t, err)
		_, err = f.svc.ApplyPoints(ctx, "s1", "u1", 50)
		require.NoError(t, err)
		require.NoError(t, f.svc.OnOrderConfirmed(ctx, "s1", "order-1"))

		require.NoError(t, f.svc.OnOrderCancelled(ctx, "order-1"))

		assert.Equal(t, 0, f.usage.UsedCount("id1"))
		balance, err := f.points.Balance(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(200), balance)

		// Replayed cancellation changes nothing.
		require.NoError(t, f.svc.OnOrderCancelled(ctx, "order-1"))
		assert.Equal(t, 0, f.usage.UsedCount("id1"))
	})

	t.Run("quota race surfaces on the losing confirmation", func(t *testing.T) {
		p := percentPromo("id1", "LAST1", 10)
		p.UsageLimit = 1
		f := newFixture([]*promotion.Promotion{p})

		_, err := f.svc.ApplyCode(ctx, "s1", "u1", "LAST1", testCart("100.00"), shipping)
		require.NoError(t, err)
		_, err = f.svc.ApplyCode(ctx, "s2", "u2", "LAST1", testCart("100.00"), shipping)
		require.NoError(t, err)

		require.NoError(t, f.svc.OnOrderConfirmed(ctx, "s1", "order-1"))
		assert.ErrorIs(t, f.svc.OnOrderConfirmed(ctx, "s2", "order-2"), usage.ErrQuotaRace)

		assert.Equal(t, 1, f.usage.UsedCount("id1"))
	})

	t.Run("confirm on empty session just drops it", func(t *testing.T) {
		f := newFixture(nil)
		require.NoError(t, f.svc.OnOrderConfirmed(ctx, "s1", "order-1"))
	})
}

func TestService_FreeShippingTotals(t *testing.T) {
	ctx := context.Background()

	p := &promotion.Promotion{
		ID:     "id1",
		Code:   "FREESHIP",
		Source: promotion.SourceVoucher,
		Kind:   promotion.KindFreeShipping,
		Active: true,
	}
	f := newFixture([]*promotion.Promotion{p})

	res, err := f.svc.ApplyCode(ctx, "s1", "u1", "FREESHIP", testCart("40.00"), dec("6.95"))
	require.NoError(t, err)
	assert.True(t, res.FreeShipping)
	assert.True(t, dec("6.95").Equal(res.Amount))

	totals, err := f.svc.CurrentTotals(ctx, "s1", testCart("40.00"), dec("6.95"))
	require.NoError(t, err)
	// Shipping stays on its line; the discount offsets it.
	assert.True(t, dec("6.95").Equal(totals.Shipping))
	assert.True(t, dec("6.95").Equal(totals.PromotionDiscount))
	assert.True(t, dec("40.00").Equal(totals.Total), "got %s", totals.Total)
}
