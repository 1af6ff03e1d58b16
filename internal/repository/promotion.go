package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shopkit/promo-engine/internal/domain/promotion"
)

const (
	findPromotionByCodeSQL = `SELECT id, code, name, source, kind, value,
		minimum_subtotal, maximum_discount, starts_at, ends_at,
		usage_limit, per_customer_limit, category_ids, product_ids,
		used_count, active
		FROM promotions WHERE UPPER(code) = UPPER($1)`

	upsertPromotionSQL = `INSERT INTO promotions (code, name, source, kind, value,
		minimum_subtotal, maximum_discount, starts_at, ends_at,
		usage_limit, per_customer_limit, category_ids, product_ids, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			source = EXCLUDED.source,
			kind = EXCLUDED.kind,
			value = EXCLUDED.value,
			minimum_subtotal = EXCLUDED.minimum_subtotal,
			maximum_discount = EXCLUDED.maximum_discount,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			usage_limit = EXCLUDED.usage_limit,
			per_customer_limit = EXCLUDED.per_customer_limit,
			category_ids = EXCLUDED.category_ids,
			product_ids = EXCLUDED.product_ids,
			active = EXCLUDED.active,
			updated_at = now()`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
// Lookups do not filter on the active flag or validity window; the catalog
// turns those into specific rejection reasons.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByCode looks up a promotion by its code (case-insensitive).
// Returns promotion.ErrNotFound when no promotion carries the code.
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, findPromotionByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("finding promotion by code %q: %w", code, err)
	}
	return &p, nil
}

// Upsert creates or replaces a promotion definition. Used by the seed and
// ingest tools; the engine itself never writes promotion rules.
func (r *PromotionRepository) Upsert(ctx context.Context, p *promotion.Promotion) error {
	_, err := r.pool.Exec(ctx, upsertPromotionSQL,
		promotion.NormalizeCode(p.Code), p.Name, p.Source, p.Kind, p.Value,
		p.MinimumSubtotal, p.MaximumDiscount, p.StartsAt, p.EndsAt,
		p.UsageLimit, p.PerCustomerLimit, p.CategoryIDs, p.ProductIDs, p.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting promotion %q: %w", p.Code, err)
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p               promotion.Promotion
		source, kind    string
		value           decimal.Decimal
		minSubtotal     decimal.Decimal
		maxDiscount     decimal.Decimal
		startsAt        *time.Time
		endsAt          *time.Time
		usageLimit      int32
		perCustomer     int32
		usedCount       int32
	)
	err := row.Scan(
		&p.ID, &p.Code, &p.Name, &source, &kind, &value,
		&minSubtotal, &maxDiscount, &startsAt, &endsAt,
		&usageLimit, &perCustomer, &p.CategoryIDs, &p.ProductIDs,
		&usedCount, &p.Active,
	)
	p.Source = promotion.Source(source)
	p.Kind = promotion.Kind(kind)
	p.Value = value
	p.MinimumSubtotal = minSubtotal
	p.MaximumDiscount = maxDiscount
	p.StartsAt = startsAt
	p.EndsAt = endsAt
	p.UsageLimit = int(usageLimit)
	p.PerCustomerLimit = int(perCustomer)
	p.UsedCount = int(usedCount)
	return p, err
}
