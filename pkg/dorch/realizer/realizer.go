// Package realizer turns logical forwarding-graph rules into per-switch
// OpenFlow rules. One endpoint-to-endpoint rule expands into one external
// flow per hop of the shortest path, kept apart from other traffic on the
// inter-switch links by transport VLAN tags. VNFs are realised by
// activating and configuring controller-hosted applications. The store
// supplies collision checks and VLAN bookkeeping, the controller the
// data plane.
package realizer

import (
	"strconv"

	"github.com/dorch-network/dorch/pkg/dorch/controller"
	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/dorch/topology"
	"github.com/dorch-network/dorch/pkg/util"
)

// CapabilitySource answers which functional capabilities this domain
// offers and which controller application implements each.
type CapabilitySource interface {
	HasCapability(capability string) bool
	ApplicationNameFor(capability string) (string, bool)
}

// Options tune how graphs are realised.
type Options struct {
	// DetachedMode keeps every controller interaction local: flows,
	// applications and tunnels are only recorded in the store.
	DetachedMode bool

	// Jolnet switches the flow synthesis to the variant for networks
	// whose switches only support set_vlan_id, not push/pop.
	Jolnet bool

	// InitialConfiguration pushes the nf-id document to applications
	// right after activation.
	InitialConfiguration bool

	// GreBridge is the OVSDB name of the bridge terminating GRE tunnels.
	GreBridge string
}

// Realizer maps forwarding graphs onto the switches of one domain.
type Realizer struct {
	store  *store.Store
	client controller.Client
	topo   *topology.Provider
	caps   CapabilitySource
	vlans  *VlanAllocator
	ranges []util.VlanRange
	opts   Options
}

// New wires a realizer over its collaborators. ranges lists the VLAN ids
// usable as transport tags on inter-switch links.
func New(st *store.Store, client controller.Client, topo *topology.Provider,
	caps CapabilitySource, ranges []util.VlanRange, opts Options) *Realizer {
	return &Realizer{
		store:  st,
		client: client,
		topo:   topo,
		caps:   caps,
		vlans:  NewVlanAllocator(st, ranges),
		ranges: ranges,
		opts:   opts,
	}
}

// ApplicationNames resolves every VNF of the graph to the controller
// application implementing its functional capability. VNFs asking for a
// capability the domain does not offer fail with a CapabilityError.
func (r *Realizer) ApplicationNames(g *nffg.NFFG) (map[string]string, error) {
	names := make(map[string]string, len(g.VNFs))
	for _, vnf := range g.VNFs {
		app, ok := r.caps.ApplicationNameFor(vnf.FunctionalCapability)
		if !ok {
			return nil, &util.CapabilityError{Vnf: vnf.ID, Capability: vnf.FunctionalCapability}
		}
		names[vnf.ID] = app
	}
	return names, nil
}

// PathSwitches returns every switch the graph touches: the attachment
// switches of its endpoints plus each hop of every endpoint-to-endpoint
// path. The session locks this set before changing the data plane.
// Unreachable pairs contribute nothing here; installation reports them.
func (r *Realizer) PathSwitches(profile *nffg.ProfileGraph) []string {
	seen := make(map[string]bool)
	var switches []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			switches = append(switches, id)
		}
	}

	for _, ep := range profile.Graph().EndPoints {
		add(ep.NodeID())
	}
	for _, rule := range profile.EndpointFlowRules() {
		epIn := profile.Endpoint(nffg.EndpointIDFromRef(rule.Match.PortIn))
		out := rule.OutputAction()
		if epIn == nil || out == nil {
			continue
		}
		epOut := profile.Endpoint(nffg.EndpointIDFromRef(out.Output))
		if epOut == nil || epIn.NodeID() == "" || epOut.NodeID() == "" {
			continue
		}
		for _, hop := range r.topo.ShortestPath(epIn.NodeID(), epOut.NodeID()) {
			add(hop)
		}
	}
	return switches
}

// isNew treats the empty status as new, matching freshly parsed graphs.
func isNew(status string) bool {
	return status == "" || status == nffg.StatusNew
}

// vlanPtr parses a VLAN id string into the nullable form the VLAN
// tracking rows use. Empty and malformed ids become nil, untagged.
func vlanPtr(vid string) *int {
	if vid == "" {
		return nil
	}
	n, err := strconv.Atoi(vid)
	if err != nil {
		return nil
	}
	return &n
}
