package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"arbor.reports/internal/access"
	"arbor.reports/internal/hierarchy"
	"arbor.reports/internal/invite"
	"arbor.reports/internal/obs"
)

const serviceName = "arbor-access-api"

// ReadyProbe is a simple readiness check (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the authorization facade and the invitation
// engine.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	authz      *access.Service
	invites    *invite.Engine

	rateBurst  int
	ratePerSec int
}

// New wires the routes.
func New(rp ReadyProbe, version string, authz *access.Service, invites *invite.Engine) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		authz:      authz,
		invites:    invites,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/invitations", a.handleInvitations)
	a.mux.HandleFunc("/v1/invitations/", a.handleInvitationResource)
	a.mux.HandleFunc("/v1/profiles/", a.handleProfileResource)
	a.mux.HandleFunc("/v1/accounts", a.handleAccounts)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// invitationErrorMessage is the single message rendered for every token
// failure kind. Revealing why a token is invalid would hand enumeration
// attackers an oracle.
const invitationErrorMessage = "invitation is invalid or expired"

func handleAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, invite.ErrTokenNotFound),
		errors.Is(err, invite.ErrTokenExpired),
		errors.Is(err, invite.ErrTokenAlreadyUsed),
		errors.Is(err, invite.ErrTokenMalformed):
		obs.Infof("invitation rejected: %v", err)
		writeError(w, r, http.StatusNotFound, invitationErrorMessage)
	case errors.Is(err, access.ErrActorNotFound):
		writeError(w, r, http.StatusUnauthorized, "unknown identity")
	case errors.Is(err, access.ErrActorInactive):
		writeError(w, r, http.StatusForbidden, "account deactivated")
	case errors.Is(err, access.ErrProfileNotActive):
		writeProfileNotActive(w, r, err)
	case errors.Is(err, access.ErrDenied):
		obs.Infof("denied: %v", err)
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, access.ErrIdentityBound):
		writeError(w, r, http.StatusConflict, "identity already linked to another account")
	case errors.Is(err, hierarchy.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "status transition not allowed")
	case errors.Is(err, hierarchy.ErrInvariant), errors.Is(err, invite.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, access.ErrUnavailable):
		obs.Errorf("collaborator unavailable: %v", err)
		writeError(w, r, http.StatusServiceUnavailable, "service unavailable")
	default:
		obs.Errorf("internal error: %v", err)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// writeProfileNotActive keeps the deny but exposes the pending/suspended
// detail so the UI can redirect accordingly.
func writeProfileNotActive(w http.ResponseWriter, r *http.Request, err error) {
	reason := "inactive"
	switch {
	case errors.Is(err, access.ErrProfilePending):
		reason = "pending_activation"
	case errors.Is(err, access.ErrProfileSuspended):
		reason = "suspended"
	}
	payload := map[string]any{
		"error":  "profile not active",
		"reason": reason,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusForbidden, payload)
}
