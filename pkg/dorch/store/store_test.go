package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

const (
	testUser      = "admin"
	testGreBridge = "of:00000000000000aa"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", Options{GreBridgeID: testGreBridge})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// sampleGraph returns a two-endpoint graph traversing one VNF.
func sampleGraph() *nffg.NFFG {
	g := &nffg.NFFG{
		ID:   "g1",
		Name: "chain",
		EndPoints: []*nffg.Endpoint{
			{
				ID: "in", Type: nffg.EndpointTypeInterface,
				Interface: &nffg.InterfacePort{NodeID: "of:0000000000000001", IfName: "1"},
			},
			{
				ID: "out", Type: nffg.EndpointTypeVlan,
				Vlan: &nffg.VlanPort{VlanID: "297", NodeID: "of:0000000000000002", IfName: "2"},
			},
		},
		VNFs: []*nffg.VNF{
			{
				ID: "nat1", Name: "nat", FunctionalCapability: "NAT",
				Ports: []*nffg.VNFPort{{ID: "inout:0"}, {ID: "inout:1"}},
			},
		},
	}
	g.AddFlowRule(&nffg.FlowRule{
		ID: "fr1", Priority: 1001,
		Match:   &nffg.Match{PortIn: "endpoint:in"},
		Actions: []*nffg.Action{{Output: "vnf:nat1:inout:0"}},
	})
	g.AddFlowRule(&nffg.FlowRule{
		ID: "fr2", Priority: 1001,
		Match:   &nffg.Match{PortIn: "vnf:nat1:inout:1"},
		Actions: []*nffg.Action{{Output: "endpoint:out"}},
	})
	return g
}

// storeSampleGraph persists sampleGraph under a fresh session.
func storeSampleGraph(t *testing.T, s *Store) (string, *nffg.NFFG) {
	t.Helper()
	ctx := context.Background()
	sessionID, err := s.NewSessionID(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g := sampleGraph()
	err = s.StoreGraph(ctx, sessionID, testUser, g, map[string]string{"nat1": "org.onosproject.nat"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return sessionID, g
}

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM "` + table + `"`).Scan(&n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return n
}

func intPtr(v int) *int { return &v }

func TestNewSessionID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.NewSessionID(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := s.NewSessionID(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("session id %q is not 32 hex chars", a)
	}
	if a == b {
		t.Fatalf("session ids repeat: %q", a)
	}
}

func TestActiveSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessionID, _ := storeSampleGraph(t, s)

	sess, err := s.ActiveSession(ctx, testUser, "g1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess == nil || sess.ID != sessionID {
		t.Fatalf("got session %+v, want id %s", sess, sessionID)
	}
	if sess.Status != SessionInitializing {
		t.Fatalf("got status %q, want %q", sess.Status, SessionInitializing)
	}

	if sess, _ := s.ActiveSession(ctx, testUser, "other", true); sess != nil {
		t.Fatalf("unexpected session for unknown graph: %+v", sess)
	}
	if sess, _ := s.ActiveSession(ctx, "nobody", "g1", true); sess != nil {
		t.Fatalf("unexpected session for unknown user: %+v", sess)
	}

	if err := s.UpdateStatus(ctx, sessionID, SessionComplete); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sess, _ = s.ActiveSession(ctx, testUser, "g1", true)
	if sess.Status != SessionComplete {
		t.Fatalf("got status %q, want %q", sess.Status, SessionComplete)
	}

	// A failed session stays visible to plain lookups only.
	if err := s.UpdateError(ctx, sessionID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess, _ := s.ActiveSession(ctx, testUser, "g1", true); sess != nil {
		t.Fatalf("error-aware lookup returned failed session %+v", sess)
	}
	sess, _ = s.ActiveSession(ctx, testUser, "g1", false)
	if sess == nil || sess.Status != SessionError {
		t.Fatalf("plain lookup lost failed session: %+v", sess)
	}

	// An ended session is gone for both.
	if err := s.UpdateEnded(ctx, sessionID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess, _ := s.ActiveSession(ctx, testUser, "g1", false); sess != nil {
		t.Fatalf("lookup returned ended session %+v", sess)
	}
}

func TestActiveSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessionID, _ := storeSampleGraph(t, s)

	sessions, err := s.ActiveSessions(ctx, testUser)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != sessionID {
		t.Fatalf("got sessions %+v, want one with id %s", sessions, sessionID)
	}
	if err := s.UpdateError(ctx, sessionID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sessions, _ := s.ActiveSessions(ctx, testUser); len(sessions) != 0 {
		t.Fatalf("failed session still listed: %+v", sessions)
	}
}

func TestFlowRuleProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessionID, _ := storeSampleGraph(t, s)

	progress, err := s.FlowRuleProgress(ctx, sessionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress != 0 {
		t.Fatalf("got %d%%, want 0%%", progress)
	}

	rule := &nffg.FlowRule{ID: "fr1", Priority: 1001,
		Match:   &nffg.Match{PortIn: "1"},
		Actions: []*nffg.Action{{Output: "2"}}}
	if _, err := s.AddExternalFlow(ctx, sessionID, "of:0000000000000001", "fr1_0", rule, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress, _ = s.FlowRuleProgress(ctx, sessionID); progress != 50 {
		t.Fatalf("got %d%%, want 50%%", progress)
	}

	rule.ID = "fr2"
	if _, err := s.AddExternalFlow(ctx, sessionID, "of:0000000000000002", "fr2_0", rule, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progress, _ = s.FlowRuleProgress(ctx, sessionID); progress != 100 {
		t.Fatalf("got %d%%, want 100%%", progress)
	}
}

func TestNextGreInterfaceName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	name, err := s.NextGreInterfaceName(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "gre0" {
		t.Fatalf("got %q, want gre0", name)
	}

	// Occupy gre0 and gre10; non-numeric names must not confuse the scan.
	for _, gid := range []string{"gre0", "gre10", "green0", "eth1"} {
		_, err := s.db.Exec(
			`INSERT INTO port (graph_port_id, session_id) VALUES (?, ?)`, gid, "x")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if name, _ = s.NextGreInterfaceName(ctx); name != "gre11" {
		t.Fatalf("got %q, want gre11", name)
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if u, err := s.UserByName(ctx, "admin"); err != nil || u != nil {
		t.Fatalf("got %+v, %v for absent user", u, err)
	}
	if err := s.CreateUser(ctx, "admin", "$2a$10$hash", "tenant1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CreateUser(ctx, "viewer", "$2a$10$hash2", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := s.UserByName(ctx, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.PasswordHash != "$2a$10$hash" || u.Tenant != "tenant1" {
		t.Fatalf("got %+v", u)
	}

	users, err := s.Users(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 2 || users[0].Username != "admin" || users[1].Username != "viewer" {
		t.Fatalf("got %+v", users)
	}

	// Duplicate names are rejected by the schema.
	if err := s.CreateUser(ctx, "admin", "x", ""); err == nil {
		t.Fatal("expected error for duplicate user")
	}

	if err := s.DeleteUser(ctx, "viewer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DeleteUser(ctx, "viewer"); !errors.Is(err, util.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUserTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, "admin", "$2a$10$hash", "tenant1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := s.UserByName(ctx, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Token != "" || u.TokenTimestamp.Valid {
		t.Fatalf("fresh user already has a token: %+v", u)
	}

	// Empty tokens never match, even though every fresh user stores one.
	if got, err := s.UserByToken(ctx, ""); err != nil || got != nil {
		t.Fatalf("got %+v, %v for empty token", got, err)
	}

	issued := time.Date(2019, 6, 12, 9, 30, 0, 0, time.UTC)
	if err := s.UpdateUserToken(ctx, u.ID, "deadbeef", issued); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.UserByToken(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Username != "admin" {
		t.Fatalf("got %+v", got)
	}
	if !got.TokenTimestamp.Valid || !got.TokenTimestamp.Time.Equal(issued) {
		t.Fatalf("got timestamp %+v, want %v", got.TokenTimestamp, issued)
	}

	if got, err := s.UserByToken(ctx, "feedface"); err != nil || got != nil {
		t.Fatalf("got %+v, %v for unknown token", got, err)
	}
}
