package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dorch-network/dorch/pkg/dorch/controller"
	"github.com/dorch-network/dorch/pkg/dorch/domain"
	"github.com/dorch-network/dorch/pkg/dorch/locking"
	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/dorch/realizer"
	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/dorch/topology"
	"github.com/dorch-network/dorch/pkg/util"
)

const (
	sw1 = "of:0000000000000001"
	sw2 = "of:0000000000000002"
	sw3 = "of:0000000000000003"
)

// fakeController serves a fixed line topology, sw1 --(3:3)-- sw2
// --(4:4)-- sw3, and records what the deployment asks of it.
type fakeController struct {
	devices []controller.Device
	links   []controller.Link
	ports   map[string][]controller.Port

	created   []string
	deleted   []string
	activated []string

	appActiveAfter int
	appPolls       int

	createErr error
	deleteErr error
}

func link(srcDev, srcPort, dstDev, dstPort string) controller.Link {
	return controller.Link{
		Src: controller.ConnectPoint{Device: srcDev, Port: srcPort},
		Dst: controller.ConnectPoint{Device: dstDev, Port: dstPort},
	}
}

func newFakeController() *fakeController {
	return &fakeController{
		devices: []controller.Device{
			{ID: sw1, Available: true}, {ID: sw2, Available: true}, {ID: sw3, Available: true},
		},
		links: []controller.Link{
			link(sw1, "3", sw2, "3"), link(sw2, "3", sw1, "3"),
			link(sw2, "4", sw3, "4"), link(sw3, "4", sw2, "4"),
		},
		ports: map[string][]controller.Port{
			sw1: {{Number: "1", Enabled: true}, {Number: "3", Enabled: true}},
			sw2: {{Number: "1", Enabled: true}, {Number: "3", Enabled: true}, {Number: "4", Enabled: true}},
			sw3: {{Number: "1", Enabled: true}, {Number: "4", Enabled: true}},
		},
	}
}

func (f *fakeController) Devices(ctx context.Context) ([]controller.Device, error) {
	return f.devices, nil
}

func (f *fakeController) Links(ctx context.Context) ([]controller.Link, error) {
	return f.links, nil
}

func (f *fakeController) DevicePorts(ctx context.Context, switchID string) ([]controller.Port, error) {
	return f.ports[switchID], nil
}

func (f *fakeController) CreateFlow(ctx context.Context, switchID, name string, rule *nffg.FlowRule) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, switchID+"/"+name)
	return name, nil
}

func (f *fakeController) DeleteFlow(ctx context.Context, switchID, handle string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, switchID+"/"+handle)
	return nil
}

func (f *fakeController) ActivateApp(ctx context.Context, name string) error {
	f.activated = append(f.activated, name)
	return nil
}

func (f *fakeController) DeactivateApp(ctx context.Context, name string) error { return nil }

func (f *fakeController) IsAppActive(ctx context.Context, name string) (bool, error) {
	f.appPolls++
	return f.appPolls > f.appActiveAfter, nil
}

func (f *fakeController) PushAppConfiguration(ctx context.Context, name string, cfg map[string]interface{}) error {
	return nil
}

func (f *fakeController) Capabilities(ctx context.Context, appName string) ([]controller.Capability, error) {
	return nil, nil
}

func (f *fakeController) AddPort(ctx context.Context, bridge, port string) error { return nil }

func (f *fakeController) AddGreTunnel(ctx context.Context, bridge, port, localIP, remoteIP, greKey string) error {
	return nil
}

func (f *fakeController) DeleteGreTunnel(ctx context.Context, bridge, port string) error {
	return nil
}

type fakeCaps map[string]string

func (f fakeCaps) HasCapability(capability string) bool {
	_, ok := f[strings.ToLower(capability)]
	return ok
}

func (f fakeCaps) ApplicationNameFor(capability string) (string, bool) {
	app, ok := f[strings.ToLower(capability)]
	return app, ok
}

// fakeDescription counts refreshes. With a nil endpoint set every
// attachment point is known.
type fakeDescription struct {
	endpoints map[string]bool
	updates   int
	saves     int
}

func (d *fakeDescription) CheckEndpoint(node, iface string) bool {
	if d.endpoints == nil {
		return true
	}
	return d.endpoints[node+"/"+iface]
}

func (d *fakeDescription) UpdateAll(ctx context.Context, usage domain.VlanUsageSource, ports domain.PortResolver) error {
	d.updates++
	return nil
}

func (d *fakeDescription) Save() error {
	d.saves++
	return nil
}

type fakeNotifier struct{ notifies int }

func (n *fakeNotifier) Notify() { n.notifies++ }

// ============================================================================
// Harness
// ============================================================================

type testEnv struct {
	coord *Coordinator
	fc    *fakeController
	st    *store.Store
	desc  *fakeDescription
	note  *fakeNotifier
	locks *locking.Local
}

func newTestCoordinator(t *testing.T) *testEnv {
	t.Helper()
	fc := newFakeController()
	st, err := store.Open(":memory:", store.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	topo := topology.New(fc, false)
	if err := topo.Refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	caps := fakeCaps{"nat": "org.dorch.app.nat"}
	r := realizer.New(st, fc, topo, caps, util.ParseVlanRanges("280-289"), realizer.Options{})

	env := &testEnv{
		fc:    fc,
		st:    st,
		desc:  &fakeDescription{},
		note:  &fakeNotifier{},
		locks: locking.NewLocal(),
	}
	env.coord = New(st, r, topo, env.desc, env.note, env.locks)
	return env
}

func ifEndpoint(id, node, port string) *nffg.Endpoint {
	return &nffg.Endpoint{ID: id, Type: nffg.EndpointTypeInterface,
		Interface: &nffg.InterfacePort{NodeID: node, IfName: port}}
}

func vlanEndpoint(id, vid, node, port string) *nffg.Endpoint {
	return &nffg.Endpoint{ID: id, Type: nffg.EndpointTypeVlan,
		Vlan: &nffg.VlanPort{VlanID: vid, NodeID: node, IfName: port}}
}

func epFlow(id string, prio int, from, to string) *nffg.FlowRule {
	return &nffg.FlowRule{ID: id, Priority: prio,
		Match:   &nffg.Match{PortIn: "endpoint:" + from},
		Actions: []*nffg.Action{{Output: "endpoint:" + to}}}
}

// twoPortGraph builds the standard test graph: tagged traffic entering
// sw1 port 1 is carried to sw2 port 1.
func twoPortGraph() *nffg.NFFG {
	g := &nffg.NFFG{Name: "test-graph",
		EndPoints: []*nffg.Endpoint{
			vlanEndpoint("a", "25", sw1, "1"),
			ifEndpoint("b", sw2, "1"),
		}}
	g.AddFlowRule(epFlow("f1", 500, "a", "b"))
	return g
}

func mustPost(t *testing.T, env *testEnv, g *nffg.NFFG) string {
	t.Helper()
	id, err := env.coord.PostGraph(context.Background(), "admin", g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return id
}

// ============================================================================
// POST
// ============================================================================

func TestPostGraphDeploys(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	id := mustPost(t, env, twoPortGraph())
	if id == "" {
		t.Fatal("expected a graph id")
	}

	sess, err := env.st.ActiveSession(ctx, "admin", id, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess == nil || sess.Status != store.SessionComplete {
		t.Fatalf("session = %+v, want complete", sess)
	}
	if len(env.fc.created) != 2 {
		t.Errorf("installed flows = %v, want one per hop", env.fc.created)
	}
	if env.desc.updates != 1 || env.desc.saves != 1 {
		t.Errorf("description refreshes = %d/%d, want 1/1", env.desc.updates, env.desc.saves)
	}
	if env.note.notifies != 1 {
		t.Errorf("notifies = %d, want 1", env.note.notifies)
	}
}

func TestPostGraphAssignsFreshID(t *testing.T) {
	env := newTestCoordinator(t)

	g := twoPortGraph()
	g.ID = "client-chosen"
	id := mustPost(t, env, g)
	if id == "client-chosen" {
		t.Error("client-supplied graph id survived")
	}
	if g.ID != id {
		t.Errorf("graph id = %s, returned id = %s", g.ID, id)
	}
}

func TestPostGraphValidatesFirst(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	g := twoPortGraph()
	g.FlowRules()[0].Match = nil
	_, err := env.coord.PostGraph(ctx, "admin", g)
	if !errors.Is(err, util.ErrGraphInvalid) {
		t.Fatalf("err = %v, want a graph error", err)
	}

	sessions, err := env.st.ActiveSessions(ctx, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("%d sessions created for an invalid graph", len(sessions))
	}
	if env.note.notifies != 0 {
		t.Errorf("notifies = %d, want none", env.note.notifies)
	}
}

func TestPostGraphRejectsUnknownAttachment(t *testing.T) {
	env := newTestCoordinator(t)
	env.desc.endpoints = map[string]bool{sw1 + "/1": true}

	_, err := env.coord.PostGraph(context.Background(), "admin", twoPortGraph())
	if !errors.Is(err, util.ErrGraphInvalid) {
		t.Fatalf("err = %v, want a graph error", err)
	}
	if !strings.Contains(err.Error(), "attachment point") {
		t.Errorf("err = %v, want the attachment point named", err)
	}
}

func TestPostGraphRollsBackOnInstallFailure(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	env.fc.createErr = &util.ControllerError{Operation: "create flow", StatusCode: 500}
	_, err := env.coord.PostGraph(ctx, "admin", twoPortGraph())
	if err == nil {
		t.Fatal("expected the deployment to fail")
	}

	if _, err := env.coord.ListGraphs(ctx, "admin"); !errors.Is(err, util.ErrSessionNotFound) {
		t.Errorf("ListGraphs err = %v, want no deployed graphs", err)
	}
	if env.note.notifies != 0 {
		t.Errorf("notifies = %d, want none after rollback", env.note.notifies)
	}
}

func TestPostGraphRollsBackInstalledFlows(t *testing.T) {
	env := newTestCoordinator(t)

	// The flows install fine; the NAT application then never comes up.
	g := twoPortGraph()
	g.VNFs = []*nffg.VNF{{ID: "v1", FunctionalCapability: "nat",
		Ports: []*nffg.VNFPort{{ID: "inout:0"}}}}
	env.fc.appActiveAfter = 1 << 30

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_, err := env.coord.PostGraph(ctx, "admin", g)
	if err == nil {
		t.Fatal("expected the deployment to fail")
	}

	if len(env.fc.created) != 2 {
		t.Errorf("installed flows = %v, want both hops before the failure", env.fc.created)
	}
	if len(env.fc.deleted) != 2 {
		t.Errorf("deleted flows = %v, want the rollback to remove both hops", env.fc.deleted)
	}
	sessions, err := env.st.ActiveSessions(context.Background(), "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("%d sessions still active after rollback", len(sessions))
	}
}

func TestPostGraphReleasesSwitchLocks(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	mustPost(t, env, twoPortGraph())
	if err := env.locks.Acquire(ctx, "probe", []string{sw1, sw2}); err != nil {
		t.Errorf("switches still locked after deployment: %v", err)
	}
}

// ============================================================================
// PUT
// ============================================================================

func TestPutGraphRequiresDeployment(t *testing.T) {
	env := newTestCoordinator(t)

	_, err := env.coord.PutGraph(context.Background(), "admin", "no-such-graph", twoPortGraph())
	if !errors.Is(err, util.ErrNoGraphFound) {
		t.Fatalf("err = %v, want ErrNoGraphFound", err)
	}
}

func TestPutGraphAppliesDiff(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	id := mustPost(t, env, twoPortGraph())

	// b leaves, c arrives on sw3, and f1 now points at c.
	updated := &nffg.NFFG{Name: "test-graph",
		EndPoints: []*nffg.Endpoint{
			vlanEndpoint("a", "25", sw1, "1"),
			ifEndpoint("c", sw3, "1"),
		}}
	updated.AddFlowRule(epFlow("f1", 500, "a", "c"))

	got, err := env.coord.PutGraph(ctx, "admin", id, updated)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != id {
		t.Errorf("returned id = %s, want %s", got, id)
	}

	if len(env.fc.deleted) != 2 {
		t.Errorf("deleted flows = %v, want the two stale hops", env.fc.deleted)
	}
	// 2 hops from the first deployment plus 3 for the sw1-sw2-sw3 path.
	if len(env.fc.created) != 5 {
		t.Errorf("created flows = %v, want 5", env.fc.created)
	}

	sess, err := env.st.ActiveSession(ctx, "admin", id, true)
	if err != nil || sess == nil {
		t.Fatalf("session lookup: %+v, %v", sess, err)
	}
	if sess.Status != store.SessionComplete {
		t.Errorf("session status = %s, want complete", sess.Status)
	}
	if ep, err := env.st.EndpointByGraphID(ctx, sess.ID, "b"); err != nil || ep != nil {
		t.Errorf("endpoint b still stored: %+v, %v", ep, err)
	}
	flows, err := env.st.FlowsBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The logical rule plus its three per-switch flows.
	if len(flows) != 4 {
		t.Errorf("%d flow rows stored, want 4", len(flows))
	}

	g, err := env.coord.GetGraph(ctx, "admin", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(g.EndPoints) != 2 || g.GetEndPoint("c") == nil {
		t.Errorf("endpoints after update = %+v", g.EndPoints)
	}
	out := g.FlowRules()[0].OutputAction()
	if out == nil || out.Output != "endpoint:c" {
		t.Errorf("rule output = %+v, want endpoint:c", out)
	}
}

func TestPutGraphKeepsDeployedFlows(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	id := mustPost(t, env, twoPortGraph())
	installed := len(env.fc.created)

	if _, err := env.coord.PutGraph(ctx, "admin", id, twoPortGraph()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.fc.created) != installed {
		t.Errorf("created flows grew to %v on an unchanged graph", env.fc.created)
	}
	if len(env.fc.deleted) != 0 {
		t.Errorf("deleted flows = %v, want none", env.fc.deleted)
	}

	status, err := env.coord.StatusGraph(ctx, "admin", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != store.SessionComplete || status.Percentage != 100 {
		t.Errorf("status = %+v, want complete at 100%%", status)
	}
}

func TestPutGraphValidatesBeforeTouchingSession(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	id := mustPost(t, env, twoPortGraph())

	bad := twoPortGraph()
	bad.FlowRules()[0].Match.PortIn = ""
	if _, err := env.coord.PutGraph(ctx, "admin", id, bad); !errors.Is(err, util.ErrGraphInvalid) {
		t.Fatalf("err = %v, want a graph error", err)
	}

	status, err := env.coord.StatusGraph(ctx, "admin", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != store.SessionComplete {
		t.Errorf("status = %s, the deployment should be untouched", status.Status)
	}
	if len(env.fc.deleted) != 0 {
		t.Errorf("deleted flows = %v, want none", env.fc.deleted)
	}
}

// ============================================================================
// DELETE
// ============================================================================

func TestDeleteGraphRemovesDeployment(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	id := mustPost(t, env, twoPortGraph())
	if err := env.coord.DeleteGraph(ctx, "admin", id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(env.fc.deleted) != 2 {
		t.Errorf("deleted flows = %v, want both hops", env.fc.deleted)
	}
	if _, err := env.coord.GetGraph(ctx, "admin", id); !errors.Is(err, util.ErrSessionNotFound) {
		t.Errorf("GetGraph err = %v, want ErrSessionNotFound", err)
	}
	if _, err := env.coord.StatusGraph(ctx, "admin", id); !errors.Is(err, util.ErrSessionNotFound) {
		t.Errorf("StatusGraph err = %v, want ErrSessionNotFound", err)
	}
	if env.note.notifies != 2 {
		t.Errorf("notifies = %d, want one per change", env.note.notifies)
	}
}

func TestDeleteGraphMissing(t *testing.T) {
	env := newTestCoordinator(t)

	err := env.coord.DeleteGraph(context.Background(), "admin", "no-such-graph")
	if !errors.Is(err, util.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestDeleteGraphIsBestEffort(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	id := mustPost(t, env, twoPortGraph())
	sess, err := env.st.ActiveSession(ctx, "admin", id, true)
	if err != nil || sess == nil {
		t.Fatalf("session lookup: %+v, %v", sess, err)
	}

	// The controller refuses the deletions; the session closes anyway.
	env.fc.deleteErr = &util.ControllerError{Operation: "delete flow", StatusCode: 500}
	if err := env.coord.DeleteGraph(ctx, "admin", id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := env.coord.StatusGraph(ctx, "admin", id); !errors.Is(err, util.ErrSessionNotFound) {
		t.Errorf("StatusGraph err = %v, want the session closed", err)
	}
	flows, err := env.st.FlowsBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(flows) != 2 {
		t.Errorf("%d flow rows kept, want the 2 unremoved switch entries", len(flows))
	}
}

// ============================================================================
// GET / STATUS / LIST
// ============================================================================

func TestGetGraphReturnsLogicalGraph(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	id := mustPost(t, env, twoPortGraph())
	g, err := env.coord.GetGraph(ctx, "admin", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.ID != id {
		t.Errorf("graph id = %s, want %s", g.ID, id)
	}
	if len(g.EndPoints) != 2 || len(g.FlowRules()) != 1 {
		t.Errorf("graph = %d endpoints, %d rules; the per-switch flows must stay internal",
			len(g.EndPoints), len(g.FlowRules()))
	}
}

func TestStatusGraphFailedUpdate(t *testing.T) {
	env := newTestCoordinator(t)

	id := mustPost(t, env, twoPortGraph())

	// The update's NAT application never comes up and the rollback
	// cannot reach the controller either, so the session stays visible
	// in its failed state.
	updated := twoPortGraph()
	updated.VNFs = []*nffg.VNF{{ID: "v1", FunctionalCapability: "nat",
		Ports: []*nffg.VNFPort{{ID: "inout:0"}}}}
	env.fc.appActiveAfter = 1 << 30
	env.fc.deleteErr = &util.ControllerError{Operation: "delete flow", StatusCode: 500}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if _, err := env.coord.PutGraph(ctx, "admin", id, updated); err == nil {
		t.Fatal("expected the update to fail")
	}

	status, err := env.coord.StatusGraph(context.Background(), "admin", id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != store.SessionError || status.Percentage != 0 {
		t.Errorf("status = %+v, want error at 0%%", status)
	}
	if _, err := env.coord.GetGraph(context.Background(), "admin", id); !errors.Is(err, util.ErrSessionNotFound) {
		t.Errorf("GetGraph err = %v, failed sessions must not read back", err)
	}
}

func TestListGraphs(t *testing.T) {
	env := newTestCoordinator(t)
	ctx := context.Background()

	id1 := mustPost(t, env, twoPortGraph())

	g2 := &nffg.NFFG{EndPoints: []*nffg.Endpoint{
		vlanEndpoint("c", "26", sw1, "1"),
		ifEndpoint("d", sw3, "1"),
	}}
	g2.AddFlowRule(epFlow("f1", 500, "c", "d"))
	id2 := mustPost(t, env, g2)

	records, err := env.coord.ListGraphs(ctx, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("%d records, want 2", len(records))
	}
	got := map[string]bool{}
	for _, rec := range records {
		got[rec.Graph.ID] = true
	}
	if !got[id1] || !got[id2] {
		t.Errorf("listed ids = %v, want %s and %s", got, id1, id2)
	}

	if _, err := env.coord.ListGraphs(ctx, "nobody"); !errors.Is(err, util.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound for a user without graphs", err)
	}
}
