package realizer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

func TestTunnelSetupBindsEndpoint(t *testing.T) {
	fc := newFakeController()
	r, st := newTestRealizer(t, fc, Options{})
	ctx := context.Background()

	g := newGraph("g1", greEndpoint("t", "10.0.0.1", "10.0.0.2", "99"))
	if err := st.StoreGraph(ctx, "sess1", "admin", g, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.SetupTunnels(ctx, g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "br-gre/gre0/10.0.0.1/10.0.0.2/99"
	if len(fc.greAdded) != 1 || fc.greAdded[0] != want {
		t.Errorf("gre tunnels = %v, want [%s]", fc.greAdded, want)
	}

	// The endpoint now looks like a plain interface on the GRE bridge.
	ep := g.EndPoints[0]
	if ep.Type != nffg.EndpointTypeInterface {
		t.Errorf("endpoint type = %s after binding", ep.Type)
	}
	if ep.NodeID() != swGre || ep.InterfaceName() != "gre0" {
		t.Errorf("endpoint bound to %s/%s", ep.NodeID(), ep.InterfaceName())
	}
}

func TestTunnelSetupDetachedMode(t *testing.T) {
	fc := newFakeController()
	r, st := newTestRealizer(t, fc, Options{DetachedMode: true})
	ctx := context.Background()

	g := newGraph("g1", greEndpoint("t", "10.0.0.1", "10.0.0.2", "99"))
	if err := st.StoreGraph(ctx, "sess1", "admin", g, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.SetupTunnels(ctx, g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fc.greAdded) != 0 {
		t.Errorf("controller saw %d gre tunnels in detached mode", len(fc.greAdded))
	}
	if g.EndPoints[0].InterfaceName() != "gre0" {
		t.Errorf("endpoint not rebound: %s", g.EndPoints[0].InterfaceName())
	}
}

func TestTunnelSetupSkipsDeployedEndpoints(t *testing.T) {
	fc := newFakeController()
	r, st := newTestRealizer(t, fc, Options{})
	ctx := context.Background()

	g := newGraph("g1", greEndpoint("t", "10.0.0.1", "10.0.0.2", "99"))
	if err := st.StoreGraph(ctx, "sess1", "admin", g, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	g.EndPoints[0].Status = nffg.StatusAlreadyDeployed
	if err := r.SetupTunnels(ctx, g); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fc.greAdded) != 0 {
		t.Errorf("gre tunnels = %v, want none for a deployed endpoint", fc.greAdded)
	}
	if g.EndPoints[0].InterfaceName() != "gre0" {
		t.Errorf("endpoint not rebound: %s", g.EndPoints[0].InterfaceName())
	}
}

func TestTunnelSetupRequiresStoredEndpoint(t *testing.T) {
	fc := newFakeController()
	r, _ := newTestRealizer(t, fc, Options{})

	g := newGraph("g1", greEndpoint("t", "10.0.0.1", "10.0.0.2", "99"))
	err := r.SetupTunnels(context.Background(), g)
	if !errors.Is(err, util.ErrStorage) {
		t.Fatalf("expected a storage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "never stored") {
		t.Errorf("error = %v", err)
	}
}
