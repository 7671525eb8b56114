package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renewkit/renewkit/internal/admin"
	"github.com/renewkit/renewkit/internal/catalog"
	"github.com/renewkit/renewkit/internal/checkout"
	"github.com/renewkit/renewkit/internal/httpapi"
	"github.com/renewkit/renewkit/internal/lifecycle"
	"github.com/renewkit/renewkit/internal/store"
	"github.com/renewkit/renewkit/internal/subscription"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubProvider struct{}

func (stubProvider) CreateCheckoutSession(_ context.Context, req checkout.SessionRequest) (*checkout.Session, error) {
	return &checkout.Session{URL: "https://pay.example.com/" + req.PriceID, ExpiresAt: testNow.Add(time.Hour)}, nil
}

func (stubProvider) ChargeProrated(_ context.Context, req checkout.ChargeRequest) (*checkout.Receipt, error) {
	return &checkout.Receipt{ReceiptID: "rcpt_1", Amount: req.Amount, Currency: req.Currency}, nil
}

func (stubProvider) Refund(_ context.Context, req checkout.RefundRequest) (*checkout.Receipt, error) {
	return &checkout.Receipt{ReceiptID: "rfnd_1", Amount: req.Amount, Currency: req.Currency}, nil
}

func (stubProvider) ParseWebhook(_ context.Context, _ []byte, _ string) (*checkout.WebhookEvent, error) {
	return nil, errors.New("bad signature")
}

func newTestAPI(t *testing.T) (http.Handler, *store.Memory) {
	t.Helper()

	cat, err := catalog.New(context.Background(), catalog.StaticSource{
		"free": {
			ID: "free", Name: "Free", Price: decimal.Zero,
			DurationMonths: 1, Tier: 0, Active: true,
		},
		"starter": {
			ID: "starter", Name: "Starter", Price: decimal.RequireFromString("9.99"),
			DurationMonths: 1, Tier: 1, Active: true,
		},
		"pro": {
			ID: "pro", Name: "Pro", Price: decimal.RequireFromString("29.99"),
			DurationMonths: 1, Tier: 2, Active: true,
		},
	})
	require.NoError(t, err)

	repo := store.NewMemory()
	clock := lifecycle.WithClock(func() time.Time { return testNow })
	engine := lifecycle.New(repo, cat, clock)
	coord := checkout.New(engine, repo, stubProvider{}, checkout.NewMemoryDeduper())
	adm := admin.New(repo, cat, stubProvider{}, admin.NewMemoryKeyStore(), admin.Config{},
		admin.WithClock(func() time.Time { return testNow }))

	api := httpapi.New(cat, engine, coord, adm, repo)
	return api.Router(), repo
}

func do(t *testing.T, h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestListPlans(t *testing.T) {
	t.Parallel()

	h, _ := newTestAPI(t)
	w := do(t, h, http.MethodGet, "/plans", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var plans []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plans))
	assert.Len(t, plans, 3)
}

func TestGetSubscription(t *testing.T) {
	t.Parallel()

	h, _ := newTestAPI(t)

	t.Run("missing identity header", func(t *testing.T) {
		t.Parallel()
		w := do(t, h, http.MethodGet, "/subscription", "", "")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("never subscribed", func(t *testing.T) {
		t.Parallel()
		w := do(t, h, http.MethodGet, "/subscription", uuid.NewString(), "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSelfServiceFlow(t *testing.T) {
	t.Parallel()

	h, repo := newTestAPI(t)
	userID := uuid.NewString()

	// Free plan activates without a processor round trip.
	w := do(t, h, http.MethodPost, "/subscription/checkout", userID,
		`{"plan_id":"free","success_url":"https://app.example.com/ok"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, http.MethodGet, "/subscription", userID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "free", view["plan_id"])
	assert.Equal(t, "active", view["status"])

	// Schedule a change, then clear it.
	w = do(t, h, http.MethodPost, "/subscription/schedule", userID, `{"plan_id":"starter"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "starter", view["next_plan_id"])

	w = do(t, h, http.MethodDelete, "/subscription/schedule", userID, "")
	require.Equal(t, http.StatusOK, w.Code)
	view = map[string]any{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Nil(t, view["next_plan_id"])

	// Cancel keeps access until the period ends.
	w = do(t, h, http.MethodDelete, "/subscription", userID, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "cancelled", view["status"])

	uid, err := uuid.Parse(userID)
	require.NoError(t, err)
	rec, err := repo.Get(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCancelled, rec.Status)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	h, _ := newTestAPI(t)
	userID := uuid.NewString()

	// 422 on a validation failure: scheduling without a subscription is
	// a 404, doubling a subscription is a 422.
	w := do(t, h, http.MethodPost, "/subscription/schedule", userID, `{"plan_id":"pro"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodPost, "/subscription/checkout", userID, `{"plan_id":"free","success_url":"x"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, h, http.MethodPost, "/subscription/checkout", userID, `{"plan_id":"starter"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// 502 when the provider rejects the webhook signature.
	w = do(t, h, http.MethodPost, "/webhooks/paddle", "", `{}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestAdminEndpoints(t *testing.T) {
	t.Parallel()

	h, repo := newTestAPI(t)

	userID := uuid.New()
	start := testNow.AddDate(0, 0, -15)
	require.NoError(t, repo.Create(context.Background(), &subscription.Record{
		ID:             uuid.New(),
		UserID:         userID,
		PlanID:         "starter",
		Status:         subscription.StatusActive,
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 30),
		ProcessorSubID: "psub_1",
	}))

	adminReq := func(method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body != "" {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		} else {
			req = httptest.NewRequest(method, path, nil)
		}
		req.Header.Set("X-Admin-ID", "admin_1")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	t.Run("list with filters", func(t *testing.T) {
		w := adminReq(http.MethodGet, "/admin/subscriptions/?status=active&plan_id=starter", "")
		require.Equal(t, http.StatusOK, w.Code)
		var views []map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
		assert.Len(t, views, 1)
	})

	t.Run("missing admin identity", func(t *testing.T) {
		w := do(t, h, http.MethodGet, "/admin/subscriptions/", "", "")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("upgrade", func(t *testing.T) {
		w := adminReq(http.MethodPost, "/admin/subscriptions/"+userID.String()+"/upgrade",
			`{"plan_id":"pro","idempotency_key":"key_1"}`)
		require.Equal(t, http.StatusOK, w.Code)
		var view map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
		assert.Equal(t, "pro", view["plan_id"])
	})

	t.Run("refund with a malformed amount", func(t *testing.T) {
		w := adminReq(http.MethodPost, "/admin/subscriptions/"+userID.String()+"/refund",
			`{"amount":"lots","reason":"oops","idempotency_key":"key_2"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("revoke without a reason", func(t *testing.T) {
		w := adminReq(http.MethodPost, "/admin/subscriptions/"+userID.String()+"/revoke",
			`{"immediate":true}`)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}
