// Package panel renders the tenant dashboards behind the access gate. A
// panel never parses the URL: identity comes exclusively from the verified
// access context, and all data comes from the platform API under the
// caller's own credential.
package panel

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"mealdesk.org/internal/access"
	"mealdesk.org/internal/backend"
	"mealdesk.org/internal/obs"
	"mealdesk.org/internal/route"
	"mealdesk.org/internal/session"
	"mealdesk.org/internal/tenant"
)

// Pages served by the panels. The slug arrives in plain text and is
// validated by the route layer before it gets here.
const (
	PageGeneral   = "general"
	PageEmployees = "employees"
	PageOffers    = "offers"
	PageMail      = "mail"
)

// Router dispatches a verified request to the panel for its tenant type.
type Router struct {
	api *backend.Client
	log zerolog.Logger
}

func NewRouter(api *backend.Client) *Router {
	return &Router{api: api, log: obs.Logger()}
}

// Company serves the 4-segment route: an exhaustive dispatch over the closed
// tenant enum. The parser guarantees a valid type; the default branch exists
// so an impossible value still denies instead of rendering.
func (rt *Router) Company() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := access.FromContext(r.Context())
		if err != nil {
			rt.fail(w, err)
			return
		}
		switch id.CompanyType {
		case tenant.Corporate:
			rt.serveCompanyPage(w, r, id, corporatePages)
		case tenant.Catering:
			rt.serveCompanyPage(w, r, id, cateringPages)
		case tenant.Supplier:
			rt.serveCompanyPage(w, r, id, supplierPages)
		default:
			rt.fail(w, errors.New("panel: unreachable tenant type"))
		}
	})
}

// Individual serves the 3-segment route: the employee-facing view scoped to
// a company but without a tenant-type segment.
func (rt *Router) Individual() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := access.FromContext(r.Context())
		if err != nil {
			rt.fail(w, err)
			return
		}
		page := route.ParamsFromRequest(r).Page
		if !individualPages[page] {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown page"})
			return
		}
		cred, err := session.CredentialFromRequest(r)
		if err != nil {
			rt.fail(w, err)
			return
		}

		body := map[string]any{
			"panel":      "individual",
			"page":       page,
			"company_id": id.CompanyID,
			"user_id":    id.UserID,
		}
		switch page {
		case PageGeneral:
			user, err := rt.api.User(r.Context(), cred, id.UserID)
			if err != nil {
				rt.backendError(w, err)
				return
			}
			body["user"] = user
		case PageOffers:
			offers, err := rt.api.Offers(r.Context(), cred, id.CompanyID)
			if err != nil {
				rt.backendError(w, err)
				return
			}
			body["offers"] = offers
		case PageMail:
			inbox, err := rt.api.Inbox(r.Context(), cred, id.UserID)
			if err != nil {
				rt.backendError(w, err)
				return
			}
			body["inbox"] = inbox
		}
		writeJSON(w, http.StatusOK, body)
	})
}

var (
	corporatePages = map[string]bool{
		PageGeneral:   true,
		PageEmployees: true,
		PageMail:      true,
	}
	cateringPages = map[string]bool{
		PageGeneral:   true,
		PageEmployees: true,
		PageOffers:    true,
		PageMail:      true,
	}
	supplierPages = map[string]bool{
		PageGeneral: true,
		PageOffers:  true,
		PageMail:    true,
	}
	individualPages = map[string]bool{
		PageGeneral: true,
		PageOffers:  true,
		PageMail:    true,
	}
)

func (rt *Router) serveCompanyPage(w http.ResponseWriter, r *http.Request, id access.Identity, pages map[string]bool) {
	page := route.ParamsFromRequest(r).Page
	if !pages[page] {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown page"})
		return
	}
	cred, err := session.CredentialFromRequest(r)
	if err != nil {
		rt.fail(w, err)
		return
	}

	body := map[string]any{
		"panel":      id.CompanyType.String(),
		"page":       page,
		"company_id": id.CompanyID,
		"user_id":    id.UserID,
	}
	switch page {
	case PageGeneral:
		company, err := rt.api.Company(r.Context(), cred, id.CompanyID)
		if err != nil {
			rt.backendError(w, err)
			return
		}
		body["company"] = company
	case PageEmployees:
		employees, err := rt.api.Employees(r.Context(), cred, id.CompanyID)
		if err != nil {
			rt.backendError(w, err)
			return
		}
		body["employees"] = employees
	case PageOffers:
		offers, err := rt.api.Offers(r.Context(), cred, id.CompanyID)
		if err != nil {
			rt.backendError(w, err)
			return
		}
		body["offers"] = offers
	case PageMail:
		inbox, err := rt.api.Inbox(r.Context(), cred, id.UserID)
		if err != nil {
			rt.backendError(w, err)
			return
		}
		body["inbox"] = inbox
	}
	writeJSON(w, http.StatusOK, body)
}

func (rt *Router) backendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backend.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	case errors.Is(err, backend.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
	default:
		rt.log.Error().Err(err).Msg("panel backend read failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "upstream unavailable"})
	}
}

func (rt *Router) fail(w http.ResponseWriter, err error) {
	rt.log.Error().Err(err).Msg("panel served without verified identity")
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
