package httpapi

import (
	"net/http"
	"strings"
	"time"

	"arbor.reports/internal/hierarchy"
	"arbor.reports/internal/invite"
)

type issueInvitationRequest struct {
	Level          string `json:"level"`
	OrganizationID string `json:"organization_id"`
	ParentID       string `json:"parent_id"`
	Code           string `json:"code"`
	TTLHours       int    `json:"ttl_hours"`
}

type invitationResponse struct {
	Token     string             `json:"token,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
	Profile   *hierarchy.Profile `json:"profile"`
}

func (a *API) handleInvitations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	externalID, ok := requireExternalID(w, r)
	if !ok {
		return
	}

	var req issueInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	spec := invite.IssueSpec{
		Level:          hierarchy.Level(strings.TrimSpace(strings.ToLower(req.Level))),
		OrganizationID: strings.TrimSpace(req.OrganizationID),
		ParentID:       strings.TrimSpace(req.ParentID),
		Code:           req.Code,
		TTL:            time.Duration(req.TTLHours) * time.Hour,
	}
	inv, err := a.invites.Issue(r.Context(), externalID, spec)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, invitationResponse{
		Token:     inv.Token,
		ExpiresAt: &inv.ExpiresAt,
		Profile:   inv.Profile,
	})
}

// handleInvitationResource serves /v1/invitations/{token} and
// /v1/invitations/{token}/activate. The token only ever travels in the
// path; it is canonicalized out of logs and metrics.
func (a *API) handleInvitationResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/invitations/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.validateInvitation(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "activate":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.activateInvitation(w, r, parts[0])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) validateInvitation(w http.ResponseWriter, r *http.Request, token string) {
	profile, err := a.invites.Validate(r.Context(), token)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationResponse{Profile: profile})
}

func (a *API) activateInvitation(w http.ResponseWriter, r *http.Request, token string) {
	externalID, ok := requireExternalID(w, r)
	if !ok {
		return
	}
	profile, err := a.invites.Activate(r.Context(), token, externalID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationResponse{Profile: profile})
}
