package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/renewkit/renewkit/internal/admin"
	"github.com/renewkit/renewkit/internal/catalog"
	"github.com/renewkit/renewkit/internal/checkout"
	"github.com/renewkit/renewkit/internal/lifecycle"
	"github.com/renewkit/renewkit/internal/store"
	"github.com/renewkit/renewkit/internal/subscription"
)

// Identity headers set by the fronting gateway. Authentication and
// session handling are external collaborators; by the time a request
// reaches this API the gateway has already resolved who is calling.
const (
	headerUserID  = "X-User-ID"
	headerAdminID = "X-Admin-ID"
)

// API wires the engines into an HTTP router.
type API struct {
	catalog   *catalog.Catalog
	lifecycle *lifecycle.Engine
	checkout  *checkout.Coordinator
	admin     *admin.Engine
	repo      store.Repository
}

func New(cat *catalog.Catalog, lc *lifecycle.Engine, co *checkout.Coordinator, ad *admin.Engine, repo store.Repository) *API {
	return &API{
		catalog:   cat,
		lifecycle: lc,
		checkout:  co,
		admin:     ad,
		repo:      repo,
	}
}

// Router builds the route tree.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/plans", a.handleListPlans)

	r.Route("/subscription", func(r chi.Router) {
		r.Get("/", a.handleGetSubscription)
		r.Post("/checkout", a.handleCreateCheckout)
		r.Post("/schedule", a.handleScheduleChange)
		r.Delete("/schedule", a.handleCancelScheduledChange)
		r.Delete("/", a.handleCancel)
	})

	r.Post("/webhooks/paddle", a.handleWebhook)

	r.Route("/admin/subscriptions", func(r chi.Router) {
		r.Get("/", a.handleAdminList)
		r.Post("/{userID}/upgrade", a.handleAdminUpgrade)
		r.Post("/{userID}/downgrade", a.handleAdminDowngrade)
		r.Post("/{userID}/revoke", a.handleAdminRevoke)
		r.Post("/{userID}/refund", a.handleAdminRefund)
	})

	return r
}

func userIDFromRequest(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(headerUserID)
	if raw == "" {
		return uuid.Nil, subscription.NewValidationError("missing user identity")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, subscription.NewValidationError("invalid user identity")
	}
	return id, nil
}

func adminIDFromRequest(r *http.Request) (string, error) {
	id := r.Header.Get(headerAdminID)
	if id == "" {
		return "", subscription.NewValidationError("missing admin identity")
	}
	return id, nil
}

func pathUserID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "userID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, subscription.NewValidationError("invalid user ID in path")
	}
	return id, nil
}
