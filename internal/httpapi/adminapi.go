package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/renewkit/renewkit/internal/store"
	"github.com/renewkit/renewkit/internal/subscription"
)

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, subscription.NewValidationError("failed to read request body")
	}
	return payload, nil
}

func (a *API) handleAdminList(w http.ResponseWriter, r *http.Request) {
	if _, err := adminIDFromRequest(r); err != nil {
		respondError(w, err)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	records, err := a.repo.List(r.Context(), store.Filter{
		Status: subscription.Status(q.Get("status")),
		PlanID: q.Get("plan_id"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]subscriptionView, 0, len(records))
	for _, rec := range records {
		views = append(views, toSubscriptionView(rec))
	}
	respondJSON(w, http.StatusOK, views)
}

func (a *API) handleAdminUpgrade(w http.ResponseWriter, r *http.Request) {
	adminID, err := adminIDFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	userID, err := pathUserID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		PlanID         string `json:"plan_id"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	rec, err := a.admin.Upgrade(r.Context(), adminID, userID, req.PlanID, req.IdempotencyKey)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionView(rec))
}

func (a *API) handleAdminDowngrade(w http.ResponseWriter, r *http.Request) {
	adminID, err := adminIDFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	userID, err := pathUserID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		PlanID         string `json:"plan_id"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	rec, err := a.admin.Downgrade(r.Context(), adminID, userID, req.PlanID, req.IdempotencyKey)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionView(rec))
}

func (a *API) handleAdminRevoke(w http.ResponseWriter, r *http.Request) {
	adminID, err := adminIDFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	userID, err := pathUserID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		Immediate      bool   `json:"immediate"`
		Reason         string `json:"reason"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	rec, err := a.admin.Revoke(r.Context(), adminID, userID, req.Immediate, req.Reason, req.IdempotencyKey)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionView(rec))
}

func (a *API) handleAdminRefund(w http.ResponseWriter, r *http.Request) {
	adminID, err := adminIDFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	userID, err := pathUserID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		Amount         string `json:"amount"`
		Reason         string `json:"reason"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		respondError(w, subscription.NewValidationError("invalid refund amount"))
		return
	}

	rec, err := a.admin.Refund(r.Context(), adminID, userID, amount, req.Reason, req.IdempotencyKey)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionView(rec))
}
