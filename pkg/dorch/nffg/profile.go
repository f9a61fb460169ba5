package nffg

// ProfileGraph is the realisation-time view of a validated graph: endpoint
// lookup by graph id and the partition of VNFs into detached (flows only
// to/from endpoints) and attached (flows to/from another VNF).
type ProfileGraph struct {
	graph     *NFFG
	endpoints map[string]*Endpoint
	attached  map[string]bool
}

// NewProfileGraph builds the derived view. The graph is shared, not copied;
// status changes made by the reconciler stay visible through the profile.
func NewProfileGraph(g *NFFG) *ProfileGraph {
	p := &ProfileGraph{
		graph:     g,
		endpoints: make(map[string]*Endpoint, len(g.EndPoints)),
		attached:  make(map[string]bool),
	}
	for _, ep := range g.EndPoints {
		p.endpoints[ep.ID] = ep
	}

	// A VNF is attached as soon as one flow connects it to another VNF,
	// on either side of the rule.
	for _, fr := range g.FlowRules() {
		ingress := VNFRefFromString(matchPortIn(fr))
		for _, a := range fr.Actions {
			if a.Output == "" {
				continue
			}
			egress := VNFRefFromString(a.Output)
			if ingress != nil && egress != nil {
				p.attached[ingress.VnfID] = true
				p.attached[egress.VnfID] = true
			}
		}
	}
	return p
}

// Graph returns the underlying forwarding graph.
func (p *ProfileGraph) Graph() *NFFG {
	return p.graph
}

// Endpoint returns the endpoint with the given graph id, or nil.
func (p *ProfileGraph) Endpoint(gid string) *Endpoint {
	return p.endpoints[gid]
}

// EndpointFlowRules returns the flow rules whose ingress is an endpoint,
// in graph order.
func (p *ProfileGraph) EndpointFlowRules() []*FlowRule {
	var rules []*FlowRule
	for _, fr := range p.graph.FlowRules() {
		if EndpointIDFromRef(matchPortIn(fr)) != "" {
			rules = append(rules, fr)
		}
	}
	return rules
}

// DetachedVNFs returns the VNFs whose flows only touch endpoints.
func (p *ProfileGraph) DetachedVNFs() []*VNF {
	var vnfs []*VNF
	for _, vnf := range p.graph.VNFs {
		if !p.attached[vnf.ID] {
			vnfs = append(vnfs, vnf)
		}
	}
	return vnfs
}

// AttachedVNFs returns the VNFs connected to at least one other VNF.
func (p *ProfileGraph) AttachedVNFs() []*VNF {
	var vnfs []*VNF
	for _, vnf := range p.graph.VNFs {
		if p.attached[vnf.ID] {
			vnfs = append(vnfs, vnf)
		}
	}
	return vnfs
}

// FlowsFromVNF returns the flow rules whose ingress is a port of the given
// VNF.
func (p *ProfileGraph) FlowsFromVNF(vnf *VNF) []*FlowRule {
	var rules []*FlowRule
	for _, fr := range p.graph.FlowRules() {
		if ref := VNFRefFromString(matchPortIn(fr)); ref != nil && ref.VnfID == vnf.ID {
			rules = append(rules, fr)
		}
	}
	return rules
}

func matchPortIn(fr *FlowRule) string {
	if fr.Match == nil {
		return ""
	}
	return fr.Match.PortIn
}
