package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"mealdesk.org/internal/audit"
	"mealdesk.org/internal/route"
	"mealdesk.org/internal/session"
	"mealdesk.org/internal/tenant"
)

type linkRequest struct {
	CompanyID   string `json:"companyId"`
	UserID      string `json:"userId"`
	Page        string `json:"page"`
	CompanyType string `json:"companyType,omitempty"`
}

type linkResponse struct {
	URL string `json:"url"`
}

// handleBuildLink mints an opaque panel URL. The caller's session must match
// the identifiers being encoded: links are only issued for one's own
// identity, so the endpoint cannot be used to probe tokens for other
// tenants. Verification runs before any encryption work.
func (a *API) handleBuildLink(w http.ResponseWriter, r *http.Request) {
	if a.opts.Builder == nil || a.opts.Verifier == nil {
		writeError(w, r, http.StatusServiceUnavailable, "link building unavailable")
		return
	}

	var req linkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.Page = strings.TrimSpace(req.Page)

	if err := tenant.ValidateIdentifier(req.CompanyID); err != nil {
		writeError(w, r, http.StatusBadRequest, "companyId is invalid")
		return
	}
	if err := tenant.ValidateIdentifier(req.UserID); err != nil {
		writeError(w, r, http.StatusBadRequest, "userId is invalid")
		return
	}

	cred, err := session.CredentialFromRequest(r)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "session invalid or unauthorized access")
		return
	}
	if err := a.opts.Verifier.Verify(r.Context(), cred, req.CompanyID, req.UserID); err != nil {
		writeError(w, r, http.StatusUnauthorized, "session invalid or unauthorized access")
		return
	}

	var url string
	if req.CompanyType != "" {
		ct, err := tenant.ParseType(req.CompanyType)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "companyType is invalid")
			return
		}
		url, err = a.opts.Builder.PanelRoute(r.Context(), req.UserID, ct, req.CompanyID, req.Page)
		if err != nil {
			handleBuildError(w, r, err)
			return
		}
	} else {
		url, err = a.opts.Builder.CompanyRoute(r.Context(), req.CompanyID, req.UserID, req.Page)
		if err != nil {
			handleBuildError(w, r, err)
			return
		}
	}

	_ = audit.LogEvent(r.Context(), "link.issued", map[string]any{
		"company_id": req.CompanyID,
		"user_id":    req.UserID,
		"page":       req.Page,
	})
	writeJSON(w, http.StatusOK, linkResponse{URL: url})
}

// handleBuildError maps builder failures. There is no plain-identifier
// fallback: a failed encryption fails the whole link.
func handleBuildError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, route.ErrBadPage):
		writeError(w, r, http.StatusBadRequest, "page is invalid")
	default:
		writeError(w, r, http.StatusBadGateway, "link building failed")
	}
}
