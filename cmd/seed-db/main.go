// Command seed-db loads a demo dataset: a handful of promotions covering
// every discount kind, loyalty points balances for test users, and a default
// API key for the order-lifecycle webhooks.
package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/shopkit/promo-engine/internal/domain/auth"
	"github.com/shopkit/promo-engine/internal/domain/promotion"
	"github.com/shopkit/promo-engine/internal/repository"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or PROMO_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PROMO_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("PROMO_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or PROMO_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PROMO_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedPromotions(ctx, repository.NewPromotionRepository(pool)); err != nil {
		return errors.Wrap(err, "seed promotions")
	}

	if err := seedPoints(ctx, repository.NewPointsRepository(pool)); err != nil {
		return errors.Wrap(err, "seed points")
	}

	if err := seedAPIKey(ctx, repository.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedPromotions(ctx context.Context, repo *repository.PromotionRepository) error {
	slog.Info("seeding demo promotions")

	weekAgo := time.Now().AddDate(0, 0, -7)
	nextMonth := time.Now().AddDate(0, 1, 0)

	promotions := []promotion.Promotion{
		{
			Code:   "HAPPYHOURS",
			Name:   "Happy Hours: 18% off entire order",
			Source: promotion.SourceCoupon,
			Kind:   promotion.KindPercentage,
			Value:  decimal.NewFromInt(18),
			Active: true,
		},
		{
			Code:            "SAVE20CAP",
			Name:            "20% off, up to $50",
			Source:          promotion.SourceCoupon,
			Kind:            promotion.KindPercentage,
			Value:           decimal.NewFromInt(20),
			MaximumDiscount: decimal.NewFromInt(50),
			StartsAt:        &weekAgo,
			EndsAt:          &nextMonth,
			Active:          true,
		},
		{
			Code:            "TENOFF",
			Name:            "$10 off orders over $60",
			Source:          promotion.SourceCoupon,
			Kind:            promotion.KindFixedAmount,
			Value:           decimal.NewFromInt(10),
			MinimumSubtotal: decimal.NewFromInt(60),
			Active:          true,
		},
		{
			Code:             "FREESHIP",
			Name:             "Free shipping",
			Source:           promotion.SourceVoucher,
			Kind:             promotion.KindFreeShipping,
			Value:            decimal.Zero,
			PerCustomerLimit: 1,
			Active:           true,
		},
		{
			Code:        "BOOKWORM",
			Name:        "25% off books",
			Source:      promotion.SourceCoupon,
			Kind:        promotion.KindPercentage,
			Value:       decimal.NewFromInt(25),
			CategoryIDs: []string{"books"},
			Active:      true,
		},
		{
			Code:       "FIRST100",
			Name:       "$5 off for the first 100 orders",
			Source:     promotion.SourceVoucher,
			Kind:       promotion.KindFixedAmount,
			Value:      decimal.NewFromInt(5),
			UsageLimit: 100,
			Active:     true,
		},
	}

	for i := range promotions {
		p := &promotions[i]
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert promotion %s", p.Code)
		}
		slog.Info("upserted promotion", slog.String("code", p.Code), slog.String("name", p.Name))
	}

	return nil
}

func seedPoints(ctx context.Context, repo *repository.PointsRepository) error {
	slog.Info("seeding points accounts")

	balances := map[string]int64{
		"user-demo-1": 500,
		"user-demo-2": 25,
	}

	for userID, pts := range balances {
		if err := repo.Earn(ctx, userID, pts); err != nil {
			return errors.Wrapf(err, "earn points for %s", userID)
		}
		slog.Info("credited points", slog.String("user", userID), slog.Int64("points", pts))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *repository.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if err := repo.Upsert(ctx, &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: keyHash,
		Name:    "Default webhook key",
		Scopes:  []string{"order_lifecycle"},
	}, true); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.String("name", "Default webhook key"))

	return nil
}
