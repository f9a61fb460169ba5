//go:build e2e

// Full-stack tests: the complete orchestrator wired together the way the
// daemon boots it, driven through the northbound HTTP API, with the real
// ONOS client programmed against a fake controller. Only the controller
// is faked; store, topology, realiser, locking and authentication run
// for real.
package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dorch-network/dorch/internal/testutil"
	"github.com/dorch-network/dorch/pkg/dorch/api"
	"github.com/dorch-network/dorch/pkg/dorch/auth"
	"github.com/dorch-network/dorch/pkg/dorch/controller/onos"
	"github.com/dorch-network/dorch/pkg/dorch/domain"
	"github.com/dorch-network/dorch/pkg/dorch/locking"
	"github.com/dorch-network/dorch/pkg/dorch/orchestrator"
	"github.com/dorch-network/dorch/pkg/dorch/realizer"
	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/dorch/topology"
	"github.com/dorch-network/dorch/pkg/util"
)

const (
	sw1 = "of:0000000000000001"
	sw2 = "of:0000000000000002"
	sw3 = "of:0000000000000003"

	natApp = "org.dorch.app.nat"
)

// descriptionTemplate advertises port 1 of every switch as an attachment
// point, including the linkless sw4 some scenarios add. Capabilities
// start empty and are discovered from the controller, as on a daemon
// boot.
const descriptionTemplate = `{
  "id": "e2e-domain",
  "name": "e2e test domain",
  "interfaces": [
    {"node": "of:0000000000000001", "name": "1"},
    {"node": "of:0000000000000002", "name": "1"},
    {"node": "of:0000000000000003", "name": "1"},
    {"node": "of:0000000000000004", "name": "1"}
  ],
  "capabilities": {"functional-capabilities": []}
}`

type stack struct {
	fake *testutil.FakeONOS
	api  *httptest.Server
}

// newStack boots the orchestrator against a fake three-switch line
// topology, sw1 --(3:3)-- sw2 --(4:4)-- sw3, with host ports "1", and
// one admin user.
func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := testutil.Context(t)

	fake := testutil.NewFakeONOS()
	fake.AddSwitch(sw1, "1", "3")
	fake.AddSwitch(sw2, "1", "3", "4")
	fake.AddSwitch(sw3, "1", "4")
	fake.Connect(sw1, "3", sw2, "3")
	fake.Connect(sw2, "4", sw3, "4")
	fake.AddCapability("nat", natApp, true)

	client := onos.New(onos.Options{Endpoint: fake.Start(t)})

	st, err := store.Open(":memory:", store.Options{})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	topo := topology.New(client, false)
	if err := topo.Refresh(ctx); err != nil {
		t.Fatalf("refreshing topology: %v", err)
	}

	dir := t.TempDir()
	template := filepath.Join(dir, "description.json")
	if err := os.WriteFile(template, []byte(descriptionTemplate), 0o644); err != nil {
		t.Fatalf("writing description template: %v", err)
	}
	vlans := util.ParseVlanRanges("280-289")
	desc, err := domain.Load(template, filepath.Join(dir, "description-dynamic.json"), vlans)
	if err != nil {
		t.Fatalf("loading description: %v", err)
	}
	caps, err := client.Capabilities(ctx, "nfcapabilities")
	if err != nil {
		t.Fatalf("discovering capabilities: %v", err)
	}
	for _, c := range caps {
		desc.MergeCapability(c.Type, c.Name, c.Ready)
	}

	r := realizer.New(st, client, topo, desc, vlans, realizer.Options{})
	notifier := domain.NewNotifier(desc, &domain.LogPublisher{Topic: "dorch:domain-description"})
	notifyCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go notifier.Run(notifyCtx)

	coord := orchestrator.New(st, r, topo, desc, notifier, locking.NewLocal())
	tokens := auth.New(st, time.Hour)

	hash, err := auth.HashPassword("e2e-secret")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	if err := st.CreateUser(ctx, "admin", hash, "tenant-one"); err != nil {
		t.Fatalf("creating user: %v", err)
	}

	srv := httptest.NewServer(api.New(coord, tokens, topo).Router())
	t.Cleanup(srv.Close)

	return &stack{fake: fake, api: srv}
}

// request sends one API call and returns status code and body.
func (s *stack) request(t *testing.T, method, path, token, body string) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, s.api.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading answer: %v", err)
	}
	return resp.StatusCode, data
}

// login authenticates the admin user and returns its token.
func (s *stack) login(t *testing.T) string {
	t.Helper()

	code, body := s.request(t, http.MethodPost, "/login", "",
		`{"username": "admin", "password": "e2e-secret"}`)
	if code != http.StatusOK {
		t.Fatalf("login = %d: %s", code, body)
	}
	var answer struct {
		Token string `json:"token"`
	}
	decodeAnswer(t, body, &answer)
	if answer.Token == "" {
		t.Fatal("login answered without a token")
	}
	return answer.Token
}

func decodeAnswer(t *testing.T, body []byte, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(body, out); err != nil {
		t.Fatalf("decoding answer %s: %v", body, err)
	}
}
