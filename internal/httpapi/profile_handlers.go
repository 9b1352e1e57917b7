package httpapi

import (
	"net/http"
	"strings"

	"arbor.reports/internal/hierarchy"
)

// handleProfileResource serves /v1/profiles/{id}/suspend and
// /v1/profiles/{id}/reactivate.
func (a *API) handleProfileResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/profiles/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	externalID, ok := requireExternalID(w, r)
	if !ok {
		return
	}

	var (
		profile *hierarchy.Profile
		err     error
	)
	switch parts[1] {
	case "suspend":
		profile, err = a.invites.Suspend(r.Context(), externalID, parts[0])
	case "reactivate":
		profile, err = a.invites.Reactivate(r.Context(), externalID, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	externalID, ok := requireExternalID(w, r)
	if !ok {
		return
	}
	accounts, err := a.authz.VisibleAccounts(r.Context(), externalID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []hierarchy.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}
