package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arbor.reports/internal/access"
	"arbor.reports/internal/hierarchy"
	"arbor.reports/internal/invite"
	"arbor.reports/internal/store/mem"
)

// apiClient drives the full middleware chain against a test server.
type apiClient struct {
	t      *testing.T
	server *httptest.Server
}

func newAPIClient(t *testing.T) (*apiClient, *mem.Store) {
	t.Helper()
	setSecret(t, "test-secret")

	s := mem.NewStore()
	s.PutOrganization(hierarchy.Organization{ID: "org-acme", Name: "Acme", Active: true})
	put := func(actorID, externalID string, level hierarchy.Level, profileID string, status hierarchy.Status, orgID, parentID string) {
		s.PutActor(hierarchy.Actor{ID: actorID, ExternalID: externalID, Level: level, Active: true})
		s.PutProfile(hierarchy.Profile{
			ID: profileID, ActorID: actorID, Level: level,
			OrganizationID: orgID, ParentID: parentID,
			Code: "C-" + profileID, Status: status,
		})
	}
	put("a-admin", "idp|admin", hierarchy.LevelAdmin, "p-admin", hierarchy.StatusActive, "", "")
	put("a-client", "idp|client", hierarchy.LevelClient, "p-client", hierarchy.StatusActive, "org-acme", "")
	put("a-sub", "idp|sub", hierarchy.LevelSubclient, "p-sub", hierarchy.StatusActive, "org-acme", "p-client")

	s.PutAccount(hierarchy.Account{ID: "acc-master", Kind: hierarchy.AccountMaster, OrganizationID: "org-acme", Active: true})
	s.PutAccount(hierarchy.Account{ID: "acc-client", Kind: hierarchy.AccountClient, ProfileID: "p-client", OrganizationID: "org-acme", Active: true})
	s.PutAccount(hierarchy.Account{ID: "acc-sub", Kind: hierarchy.AccountClient, ProfileID: "p-sub", OrganizationID: "org-acme", Active: true})

	authz, err := access.NewService(s)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	engine, err := invite.NewEngine(authz, invite.WithSynchronousNotify())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	api := New(ReadyProbe{}, "test", authz, engine)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return &apiClient{t: t, server: server}, s
}

func (c *apiClient) token(externalID string) string {
	c.t.Helper()
	token, err := IdentityToken(externalID, time.Hour)
	if err != nil {
		c.t.Fatalf("IdentityToken: %v", err)
	}
	return token
}

func (c *apiClient) do(method, path, externalID string, body any) *http.Response {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if externalID != "" {
		req.Header.Set("Authorization", "Bearer "+c.token(externalID))
	}
	resp, err := c.server.Client().Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestProbes(t *testing.T) {
	c, _ := newAPIClient(t)

	resp := c.do(http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
	var body map[string]any
	decodeBody(t, resp, &body)
	if body["service"] != serviceName {
		t.Fatalf("healthz body: %v", body)
	}

	resp = c.do(http.MethodGet, "/readyz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuthRequired(t *testing.T) {
	c, _ := newAPIClient(t)

	resp := c.do(http.MethodGet, "/v1/accounts", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("missing WWW-Authenticate header")
	}
	resp.Body.Close()

	// Unknown identity authenticates but resolves to no actor.
	resp = c.do(http.MethodGet, "/v1/accounts", "idp|stranger", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown identity status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInvitationLifecycle(t *testing.T) {
	c, _ := newAPIClient(t)

	resp := c.do(http.MethodPost, "/v1/invitations", "idp|admin", map[string]any{
		"level":           "client",
		"organization_id": "org-acme",
		"code":            "ACME-CL-99",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue status %d", resp.StatusCode)
	}
	var issued struct {
		Token     string            `json:"token"`
		ExpiresAt time.Time         `json:"expires_at"`
		Profile   hierarchy.Profile `json:"profile"`
	}
	decodeBody(t, resp, &issued)
	if len(issued.Token) != invite.TokenLength {
		t.Fatalf("token length %d", len(issued.Token))
	}
	if issued.Profile.Status != hierarchy.StatusPending {
		t.Fatalf("issued profile status %s", issued.Profile.Status)
	}

	// Validation is public: the invitee has no identity token yet.
	resp = c.do(http.MethodGet, "/v1/invitations/"+issued.Token, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d", resp.StatusCode)
	}
	var validated struct {
		Profile hierarchy.Profile `json:"profile"`
	}
	decodeBody(t, resp, &validated)
	if validated.Profile.ID != issued.Profile.ID {
		t.Fatalf("validated profile %s, want %s", validated.Profile.ID, issued.Profile.ID)
	}

	resp = c.do(http.MethodPost, "/v1/invitations/"+issued.Token+"/activate", "idp|newcomer", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate status %d", resp.StatusCode)
	}
	var activated struct {
		Profile hierarchy.Profile `json:"profile"`
	}
	decodeBody(t, resp, &activated)
	if activated.Profile.Status != hierarchy.StatusActive {
		t.Fatalf("activated profile status %s", activated.Profile.Status)
	}

	// The consumed token is indistinguishable from a missing one.
	resp = c.do(http.MethodGet, "/v1/invitations/"+issued.Token, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("reused token status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The newcomer can now list accounts (none yet).
	resp = c.do(http.MethodGet, "/v1/accounts", "idp|newcomer", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("newcomer accounts status %d", resp.StatusCode)
	}
	var listing struct {
		Accounts []hierarchy.Account `json:"accounts"`
	}
	decodeBody(t, resp, &listing)
	if len(listing.Accounts) != 0 {
		t.Fatalf("newcomer sees %d accounts", len(listing.Accounts))
	}
}

// Every token failure renders the same status and message.
func TestInvitationErrorsAreUniform(t *testing.T) {
	c, _ := newAPIClient(t)

	paths := []string{
		"/v1/invitations/zzz",
		"/v1/invitations/0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	}
	var bodies []string
	for _, path := range paths {
		resp := c.do(http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: status %d, want 404", path, resp.StatusCode)
		}
		var body struct {
			Error string `json:"error"`
		}
		decodeBody(t, resp, &body)
		bodies = append(bodies, body.Error)
	}
	for _, msg := range bodies {
		if msg != invitationErrorMessage {
			t.Fatalf("leaking token error detail: %q", msg)
		}
	}
}

func TestInvitationIssueDenied(t *testing.T) {
	c, _ := newAPIClient(t)

	resp := c.do(http.MethodPost, "/v1/invitations", "idp|sub", map[string]any{
		"level": "client",
		"code":  "NOPE",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSuspendLifecycle(t *testing.T) {
	c, _ := newAPIClient(t)

	resp := c.do(http.MethodPost, "/v1/profiles/p-client/suspend", "idp|admin", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("suspend status %d", resp.StatusCode)
	}
	var profile hierarchy.Profile
	decodeBody(t, resp, &profile)
	if profile.Status != hierarchy.StatusSuspended {
		t.Fatalf("profile status %s", profile.Status)
	}

	// The suspended client is blocked from everything, with the reason
	// exposed for the UI.
	resp = c.do(http.MethodGet, "/v1/accounts", "idp|client", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("suspended client status %d", resp.StatusCode)
	}
	var denied struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	decodeBody(t, resp, &denied)
	if denied.Reason != "suspended" {
		t.Fatalf("deny reason %q", denied.Reason)
	}

	resp = c.do(http.MethodPost, "/v1/profiles/p-client/reactivate", "idp|admin", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reactivate status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/accounts", "idp|client", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reactivated client status %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSuspendDeniedForClients(t *testing.T) {
	c, _ := newAPIClient(t)

	resp := c.do(http.MethodPost, "/v1/profiles/p-sub/suspend", "idp|client", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAccountsVisibility(t *testing.T) {
	c, _ := newAPIClient(t)

	list := func(externalID string) []hierarchy.Account {
		resp := c.do(http.MethodGet, "/v1/accounts", externalID, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s accounts status %d", externalID, resp.StatusCode)
		}
		var listing struct {
			Accounts []hierarchy.Account `json:"accounts"`
		}
		decodeBody(t, resp, &listing)
		return listing.Accounts
	}

	client := list("idp|client")
	if len(client) != 2 {
		t.Fatalf("client sees %d accounts, want 2", len(client))
	}
	sub := list("idp|sub")
	if len(sub) != 1 || sub[0].ID != "acc-sub" {
		t.Fatalf("subclient accounts: %+v", sub)
	}
	admin := list("idp|admin")
	if len(admin) != 3 {
		t.Fatalf("admin sees %d accounts, want 3", len(admin))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	c, _ := newAPIClient(t)

	resp := c.do(http.MethodDelete, "/v1/invitations", "idp|admin", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status %d, want 405", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("Allow header %q", resp.Header.Get("Allow"))
	}
	resp.Body.Close()
}

func TestRequestIDPropagates(t *testing.T) {
	c, _ := newAPIClient(t)

	resp := c.do(http.MethodGet, "/healthz", "", nil)
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatal("missing X-Request-Id header")
	}
	resp.Body.Close()
}
