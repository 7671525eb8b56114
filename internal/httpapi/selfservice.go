package httpapi

import (
	"net/http"
	"time"

	"github.com/renewkit/renewkit/internal/catalog"
	"github.com/renewkit/renewkit/internal/checkout"
	"github.com/renewkit/renewkit/internal/subscription"
)

type planView struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Price           string   `json:"price"`
	EffectivePrice  string   `json:"effective_price"`
	DiscountPercent int      `json:"discount_percent"`
	DurationMonths  int      `json:"duration_months"`
	Kind            string   `json:"kind"`
	TrialDays       int      `json:"trial_days,omitempty"`
	Tier            int      `json:"tier"`
	Features        []string `json:"features"`
}

func toPlanView(p catalog.Plan) planView {
	return planView{
		ID:              p.ID,
		Name:            p.Name,
		Price:           p.Price.StringFixed(2),
		EffectivePrice:  p.EffectivePrice().StringFixed(2),
		DiscountPercent: p.DiscountPercent,
		DurationMonths:  p.DurationMonths,
		Kind:            string(p.Kind),
		TrialDays:       p.TrialDays,
		Tier:            p.Tier,
		Features:        p.Features,
	}
}

type subscriptionView struct {
	ID                string     `json:"id"`
	PlanID            string     `json:"plan_id"`
	Status            string     `json:"status"`
	StartDate         time.Time  `json:"start_date"`
	EndDate           time.Time  `json:"end_date"`
	NextPlanID        *string    `json:"next_plan_id,omitempty"`
	ScheduledChangeAt *time.Time `json:"scheduled_change_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
	HasActiveAccess   bool       `json:"has_active_access"`
}

func toSubscriptionView(rec *subscription.Record) subscriptionView {
	return subscriptionView{
		ID:                rec.ID.String(),
		PlanID:            rec.PlanID,
		Status:            string(rec.Status),
		StartDate:         rec.StartDate,
		EndDate:           rec.EndDate,
		NextPlanID:        rec.NextPlanID,
		ScheduledChangeAt: rec.ScheduledChangeAt,
		CancelledAt:       rec.CancelledAt,
		HasActiveAccess:   rec.HasActiveAccess(time.Now().UTC()),
	}
}

func (a *API) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := a.catalog.ListActive(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]planView, 0, len(plans))
	for _, p := range plans {
		views = append(views, toPlanView(p))
	}
	respondJSON(w, http.StatusOK, views)
}

func (a *API) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}

	rec, err := a.repo.Get(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionView(rec))
}

func (a *API) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		PlanID     string `json:"plan_id"`
		Email      string `json:"email"`
		SuccessURL string `json:"success_url"`
		CancelURL  string `json:"cancel_url"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	session, err := a.checkout.CreateCheckoutSession(r.Context(), userID, req.PlanID, checkout.SessionOptions{
		Email:      req.Email,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"checkout_url": session.URL,
		"expires_at":   session.ExpiresAt,
	})
}

func (a *API) handleScheduleChange(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		PlanID string `json:"plan_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	rec, err := a.lifecycle.ScheduleChange(r.Context(), userID, req.PlanID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionView(rec))
}

func (a *API) handleCancelScheduledChange(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}

	rec, err := a.lifecycle.CancelScheduledChange(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionView(rec))
}

func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}

	rec, err := a.lifecycle.Cancel(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toSubscriptionView(rec))
}

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(r)
	if err != nil {
		respondError(w, err)
		return
	}

	signature := r.Header.Get("Paddle-Signature")
	if err := a.checkout.HandleWebhook(r.Context(), payload, signature); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
