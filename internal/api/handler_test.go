package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/promo-engine/internal/domain/auth"
	"github.com/shopkit/promo-engine/internal/domain/checkout"
	"github.com/shopkit/promo-engine/internal/domain/points"
	"github.com/shopkit/promo-engine/internal/domain/promotion"
	"github.com/shopkit/promo-engine/internal/domain/usage"
	"github.com/shopkit/promo-engine/internal/session"
)

// --- Mock implementations ---

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

type mockAPIKeyRepo struct {
	byHash map[string]*auth.APIKeyInfo
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("api key not found")
	}
	return info, nil
}

// --- Helpers ---

const testPepper = "test-pepper"

type testEnv struct {
	server *httptest.Server
	points *points.MemoryLedger
	usage  *usage.MemoryLedger
}

func newTestEnv(t *testing.T, promos ...*promotion.Promotion) *testEnv {
	t.Helper()

	repo := &mockPromotionRepo{promos: make(map[string]*promotion.Promotion)}
	limits := make(map[string]int)
	for _, p := range promos {
		repo.promos[p.Code] = p
		limits[p.ID] = p.UsageLimit
	}

	usageLedger := usage.NewMemoryLedger(func(id string) int { return limits[id] })
	pointsLedger := points.NewMemoryLedger()

	svc := checkout.NewService(
		promotion.NewCatalog(repo),
		usageLedger,
		pointsLedger,
		session.NewMemoryStore(time.Hour),
		decimal.NewFromInt(1),
	)

	mac := hmac.New(sha256.New, []byte(testPepper))
	mac.Write([]byte("valid-key"))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	apikeys := &mockAPIKeyRepo{byHash: map[string]*auth.APIKeyInfo{
		keyHash: {ID: "default", KeyHash: keyHash, Name: "test"},
	}}

	h := NewHandler(svc, NewSecurityHandler(apikeys, []byte(testPepper)))
	mux := http.NewServeMux()
	h.Routes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{server: server, points: pointsLedger, usage: usageLedger}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func cartBody(code, userID, subtotal, shipping string) string {
	return fmt.Sprintf(`{
		"code": %q,
		"user_id": %q,
		"cart": {
			"items": [{"product_id": "p1", "quantity": 1, "unit_price": %q, "line_subtotal": %q}],
			"subtotal": %q
		},
		"shipping_cost": %q
	}`, code, userID, subtotal, subtotal, subtotal, shipping)
}

func activePercent(id, code string, value int64) *promotion.Promotion {
	return &promotion.Promotion{
		ID:     id,
		Code:   code,
		Source: promotion.SourceCoupon,
		Kind:   promotion.KindPercentage,
		Value:  decimal.NewFromInt(value),
		Active: true,
	}
}

// --- Tests ---

func TestApplyPromotion(t *testing.T) {
	env := newTestEnv(t, activePercent("id1", "SAVE10", 10))

	resp, body := env.do(t, http.MethodPost, "/api/checkout/s1/promotion",
		cartBody("save10", "u1", "120.00", "5.00"), nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SAVE10", body["code"])
	assert.Equal(t, "coupon", body["source"])
	assert.Equal(t, float64(12), body["amount"])
	assert.Equal(t, false, body["free_shipping"])
}

func TestApplyPromotion_RejectionMessages(t *testing.T) {
	past := time.Now().Add(-24 * time.Hour)
	expired := activePercent("id2", "EXPIRED", 10)
	expired.EndsAt = &past

	env := newTestEnv(t, activePercent("id1", "SAVE10", 10), expired)

	tests := []struct {
		name        string
		code        string
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "unknown code",
			code:        "BOGUS",
			wantStatus:  http.StatusNotFound,
			wantMessage: "promotion code not found",
		},
		{
			name:        "expired code names the reason",
			code:        "EXPIRED",
			wantStatus:  http.StatusUnprocessableEntity,
			wantMessage: "promotion has expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/api/checkout/s1/promotion",
				cartBody(tt.code, "u1", "100.00", "5.00"), nil)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantMessage, body["message"])
		})
	}
}

func TestApplyPromotion_AlreadyApplied(t *testing.T) {
	env := newTestEnv(t, activePercent("id1", "SAVE10", 10))

	resp, _ := env.do(t, http.MethodPost, "/api/checkout/s1/promotion",
		cartBody("SAVE10", "u1", "100.00", "5.00"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/checkout/s1/promotion",
		cartBody("SAVE10", "u1", "100.00", "5.00"), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "this code is already applied", body["message"])
}

func TestApplyPromotion_BadRequests(t *testing.T) {
	env := newTestEnv(t, activePercent("id1", "SAVE10", 10))

	t.Run("missing code", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/checkout/s1/promotion",
			cartBody("", "u1", "100.00", "5.00"), nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("cart subtotal disagrees with line sum", func(t *testing.T) {
		body := `{
			"code": "SAVE10",
			"user_id": "u1",
			"cart": {
				"items": [{"product_id": "p1", "quantity": 1, "unit_price": "10.00", "line_subtotal": "10.00"}],
				"subtotal": "999.00"
			},
			"shipping_cost": "5.00"
		}`
		resp, _ := env.do(t, http.MethodPost, "/api/checkout/s1/promotion", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRemovePromotion(t *testing.T) {
	env := newTestEnv(t, activePercent("id1", "SAVE10", 10))

	resp, _ := env.do(t, http.MethodPost, "/api/checkout/s1/promotion",
		cartBody("SAVE10", "u1", "100.00", "5.00"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/checkout/s1/promotion", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Removing again is still a success.
	resp, _ = env.do(t, http.MethodDelete, "/api/checkout/s1/promotion", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestApplyPoints(t *testing.T) {
	env := newTestEnv(t)
	env.points.Earn("u1", 500)

	body := `{"points": 800, "user_id": "u1"}`
	resp, decoded := env.do(t, http.MethodPost, "/api/checkout/s1/points", body, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(500), decoded["consumed"])
	assert.Equal(t, true, decoded["clamped"])
}

func TestApplyPoints_NoBalance(t *testing.T) {
	env := newTestEnv(t)

	body := `{"points": 10, "user_id": "u1"}`
	resp, decoded := env.do(t, http.MethodPost, "/api/checkout/s1/points", body, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "no points available to redeem", decoded["message"])
}

func TestRevalidate(t *testing.T) {
	min50 := activePercent("id1", "MIN50", 10)
	min50.MinimumSubtotal = decimal.NewFromInt(50)
	env := newTestEnv(t, min50)

	resp, _ := env.do(t, http.MethodPost, "/api/checkout/s1/promotion",
		cartBody("MIN50", "u1", "80.00", "5.00"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/checkout/s1/revalidate",
		cartBody("", "u1", "40.00", "5.00"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	removed, ok := body["removed"].([]any)
	require.True(t, ok)
	require.Len(t, removed, 1)
	first := removed[0].(map[string]any)
	assert.Equal(t, "promotion", first["slot"])
	assert.Equal(t, "MIN50", first["code"])
	assert.Equal(t, "cart subtotal is below the promotion minimum", first["reason"])
}

func TestTotals(t *testing.T) {
	env := newTestEnv(t, activePercent("id1", "SAVE10", 10))

	resp, _ := env.do(t, http.MethodPost, "/api/checkout/s1/promotion",
		cartBody("SAVE10", "u1", "100.00", "5.00"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/checkout/s1/totals",
		cartBody("", "u1", "100.00", "5.00"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(100), body["subtotal"])
	assert.Equal(t, float64(5), body["shipping"])
	assert.Equal(t, float64(10), body["promotion_discount"])
	assert.Equal(t, float64(95), body["total"])
}

func TestOrderWebhooks_Security(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing key", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/orders/o1/confirmed?session=s1", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong key", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/orders/o1/confirmed?session=s1", "",
			map[string]string{"api_key": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid key", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/orders/o1/confirmed?session=s1", "",
			map[string]string{"api_key": "valid-key"})
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestOrderConfirmed_QuotaRace(t *testing.T) {
	last1 := activePercent("id1", "LAST1", 10)
	last1.UsageLimit = 1
	env := newTestEnv(t, last1)

	for _, s := range []string{"s1", "s2"} {
		resp, _ := env.do(t, http.MethodPost, "/api/checkout/"+s+"/promotion",
			cartBody("LAST1", "u-"+s, "100.00", "5.00"), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	key := map[string]string{"api_key": "valid-key"}

	resp, _ := env.do(t, http.MethodPost, "/api/orders/o1/confirmed?session=s1", "", key)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/orders/o2/confirmed?session=s2", "", key)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["message"], "usage limit was reached")
}

func TestOrderCancelled(t *testing.T) {
	env := newTestEnv(t, activePercent("id1", "SAVE10", 10))
	key := map[string]string{"api_key": "valid-key"}

	resp, _ := env.do(t, http.MethodPost, "/api/checkout/s1/promotion",
		cartBody("SAVE10", "u1", "100.00", "5.00"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/orders/o1/confirmed?session=s1", "", key)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, env.usage.UsedCount("id1"))

	resp, _ = env.do(t, http.MethodPost, "/api/orders/o1/cancelled", "", key)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, env.usage.UsedCount("id1"))
}
