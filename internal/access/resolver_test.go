package access

import (
	"testing"

	"arbor.reports/internal/hierarchy"
)

var (
	adminSub     = Subject{ActorID: "a-admin", ProfileID: "p-admin", Level: hierarchy.LevelAdmin}
	agentSub     = Subject{ActorID: "a-agent", ProfileID: "p-agent", Level: hierarchy.LevelAgent, OrganizationID: "org-1"}
	clientSub    = Subject{ActorID: "a-client", ProfileID: "p-client", Level: hierarchy.LevelClient, OrganizationID: "org-1"}
	subclientSub = Subject{ActorID: "a-sub", ProfileID: "p-sub", Level: hierarchy.LevelSubclient, OrganizationID: "org-1"}
)

// Every level/target admission pair, spelled out.
func TestCanCreate(t *testing.T) {
	levels := []hierarchy.Level{
		hierarchy.LevelSubclient, hierarchy.LevelClient, hierarchy.LevelAgent, hierarchy.LevelAdmin,
	}
	allow := map[hierarchy.Level]map[hierarchy.Level]bool{
		hierarchy.LevelAdmin: {
			hierarchy.LevelSubclient: true, hierarchy.LevelClient: true,
			hierarchy.LevelAgent: true, hierarchy.LevelAdmin: true,
		},
		hierarchy.LevelAgent: {
			hierarchy.LevelSubclient: true, hierarchy.LevelClient: true,
			hierarchy.LevelAgent: false, hierarchy.LevelAdmin: false,
		},
		hierarchy.LevelClient: {
			hierarchy.LevelSubclient: true, hierarchy.LevelClient: false,
			hierarchy.LevelAgent: false, hierarchy.LevelAdmin: false,
		},
		hierarchy.LevelSubclient: {
			hierarchy.LevelSubclient: false, hierarchy.LevelClient: false,
			hierarchy.LevelAgent: false, hierarchy.LevelAdmin: false,
		},
	}
	subjects := map[hierarchy.Level]Subject{
		hierarchy.LevelAdmin:     adminSub,
		hierarchy.LevelAgent:     agentSub,
		hierarchy.LevelClient:    clientSub,
		hierarchy.LevelSubclient: subclientSub,
	}

	for issuer, sub := range subjects {
		for _, target := range levels {
			spec := NewProfileSpec{Level: target, OrganizationID: "org-1"}
			if issuer == hierarchy.LevelClient && target == hierarchy.LevelSubclient {
				spec.ParentID = sub.ProfileID
			}
			got := CanCreate(sub, spec)
			if got != allow[issuer][target] {
				t.Errorf("CanCreate(%s -> %s) = %v, want %v", issuer, target, got, allow[issuer][target])
			}
		}
	}
}

func TestCanCreateScoping(t *testing.T) {
	// Agent admissions are confined to its own organization.
	if CanCreate(agentSub, NewProfileSpec{Level: hierarchy.LevelClient, OrganizationID: "org-2"}) {
		t.Fatal("agent created a client in a foreign organization")
	}
	// Client admissions must parent the subclient under the issuer.
	if CanCreate(clientSub, NewProfileSpec{Level: hierarchy.LevelSubclient, ParentID: "p-other"}) {
		t.Fatal("client created a subclient under another client")
	}
	if !CanCreate(clientSub, NewProfileSpec{Level: hierarchy.LevelSubclient, ParentID: clientSub.ProfileID}) {
		t.Fatal("client denied its own subclient")
	}
	// Invalid target level denies regardless of issuer.
	if CanCreate(adminSub, NewProfileSpec{Level: hierarchy.Level("owner")}) {
		t.Fatal("unknown target level allowed")
	}
	if CanCreate(Subject{Level: hierarchy.LevelAdmin}, NewProfileSpec{Level: hierarchy.LevelClient}) {
		t.Fatal("subject without profile allowed")
	}
}

func TestCanPerform(t *testing.T) {
	ownRes := Resource{Type: "account", ProfileID: "p-client", OrganizationID: "org-1"}
	childRes := Resource{Type: "account", ProfileID: "p-sub", ParentID: "p-client", OrganizationID: "org-1"}
	grandchildRes := Resource{Type: "account", ProfileID: "p-grand", ParentID: "p-sub", OrganizationID: "org-1"}
	foreignRes := Resource{Type: "account", ProfileID: "p-x", OrganizationID: "org-2"}
	unscopedRes := Resource{Type: "account"}

	cases := []struct {
		name string
		sub  Subject
		res  Resource
		want bool
	}{
		{"admin any resource", adminSub, foreignRes, true},
		{"admin unscoped resource", adminSub, unscopedRes, true},
		{"agent same org", agentSub, ownRes, true},
		{"agent foreign org", agentSub, foreignRes, false},
		{"agent unscoped resource", agentSub, unscopedRes, false},
		{"client own resource", clientSub, ownRes, true},
		{"client direct child", clientSub, childRes, true},
		{"client grandchild", clientSub, grandchildRes, false},
		{"client foreign", clientSub, foreignRes, false},
		{"subclient own", subclientSub, childRes, true},
		{"subclient sibling", subclientSub, ownRes, false},
		{"subclient unscoped", subclientSub, unscopedRes, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanPerform(tc.sub, ActionView, tc.res); got != tc.want {
				t.Fatalf("CanPerform = %v, want %v", got, tc.want)
			}
		})
	}

	if CanPerform(clientSub, Action("export"), ownRes) {
		t.Fatal("unknown action allowed")
	}
	if CanPerform(Subject{Level: hierarchy.LevelAdmin}, ActionView, ownRes) {
		t.Fatal("subject without profile allowed")
	}
}

func TestVisibleResourceFilter(t *testing.T) {
	if f := VisibleResourceFilter(adminSub); f.Scope != ScopeAll {
		t.Fatalf("admin scope = %s", f.Scope)
	}
	if f := VisibleResourceFilter(agentSub); f.Scope != ScopeOrganization || f.OrganizationID != "org-1" {
		t.Fatalf("agent filter = %+v", f)
	}
	if f := VisibleResourceFilter(clientSub); f.Scope != ScopeSelfAndChildren || f.ProfileID != "p-client" {
		t.Fatalf("client filter = %+v", f)
	}
	if f := VisibleResourceFilter(subclientSub); f.Scope != ScopeSelf || f.ProfileID != "p-sub" {
		t.Fatalf("subclient filter = %+v", f)
	}
	// Degenerate subjects see nothing.
	if f := VisibleResourceFilter(Subject{Level: hierarchy.LevelClient}); f.Scope != ScopeNone {
		t.Fatalf("profile-less subject scope = %s", f.Scope)
	}
	orgless := agentSub
	orgless.OrganizationID = ""
	if f := VisibleResourceFilter(orgless); f.Scope != ScopeNone {
		t.Fatalf("organization-less agent scope = %s", f.Scope)
	}
}

func TestFilterMatches(t *testing.T) {
	masterRes := Resource{Type: "account", OrganizationID: "org-1", Master: true}
	clientRes := Resource{Type: "account", ProfileID: "p-client", OrganizationID: "org-1"}
	childRes := Resource{Type: "account", ProfileID: "p-sub", ParentID: "p-client", OrganizationID: "org-1"}
	orphanRes := Resource{Type: "account"}

	agentFilter := VisibleResourceFilter(agentSub)
	if !agentFilter.Matches(masterRes) {
		t.Fatal("agent cannot see master account")
	}
	if agentFilter.Matches(orphanRes) {
		t.Fatal("agent sees unscoped resource")
	}
	clientFilter := VisibleResourceFilter(clientSub)
	if !clientFilter.Matches(clientRes) || !clientFilter.Matches(childRes) {
		t.Fatal("client cannot see self or child")
	}
	if clientFilter.Matches(masterRes) {
		t.Fatal("client sees master account")
	}
}

// For non-master resources, visibility never exceeds permission: any
// resource a filter admits is also a resource the subject may view. Master
// accounts are the exception, listed for every agent by policy.
func TestFilterConsistentWithCanPerform(t *testing.T) {
	subjects := []Subject{adminSub, agentSub, clientSub, subclientSub}
	resources := []Resource{
		{Type: "account", ProfileID: "p-client", OrganizationID: "org-1"},
		{Type: "account", ProfileID: "p-sub", ParentID: "p-client", OrganizationID: "org-1"},
		{Type: "account", ProfileID: "p-x", OrganizationID: "org-2"},
		{Type: "account"},
	}
	for _, sub := range subjects {
		f := VisibleResourceFilter(sub)
		for _, res := range resources {
			if f.Matches(res) && !CanPerform(sub, ActionView, res) {
				t.Errorf("%s filter admits %+v but view is denied", sub.Level, res)
			}
		}
	}
}
