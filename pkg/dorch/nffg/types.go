// Package nffg holds the forwarding-graph model: the wire format accepted
// by the northbound API, the structural diff used on updates, and the
// ProfileGraph view consumed during realisation.
package nffg

import "strings"

// ============================================================================
// Entity statuses
// ============================================================================

// Entity statuses assigned by Diff and consumed by the reconciler.
// An empty status is equivalent to StatusNew.
const (
	StatusNew             = "new"
	StatusAlreadyDeployed = "already_deployed"
	StatusToBeDeleted     = "to_be_deleted"
	StatusToBeUpdated     = "to_be_updated"
)

// Endpoint types accepted by this orchestrator.
const (
	EndpointTypeInterface = "interface"
	EndpointTypeVlan      = "vlan"
	EndpointTypeGreTunnel = "gre-tunnel"
)

// ============================================================================
// Forwarding graph
// ============================================================================

// Document is the wire wrapper around a forwarding graph. Every request and
// response body carrying a graph uses this envelope.
type Document struct {
	ForwardingGraph *NFFG `json:"forwarding-graph"`
}

// NFFG is a Network Function Forwarding Graph: endpoints, VNFs and the
// logical flow rules connecting them.
type NFFG struct {
	ID          string      `json:"id,omitempty"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	VNFs        []*VNF      `json:"VNFs,omitempty"`
	EndPoints   []*Endpoint `json:"end-points,omitempty"`
	BigSwitch   *BigSwitch  `json:"big-switch,omitempty"`
}

// BigSwitch groups the flow rules of the graph. The name comes from the
// abstraction presented to tenants: the whole domain behaves as one switch.
type BigSwitch struct {
	FlowRules []*FlowRule `json:"flow-rules,omitempty"`
}

// FlowRules returns the flow-rule list, tolerating a nil BigSwitch.
func (n *NFFG) FlowRules() []*FlowRule {
	if n.BigSwitch == nil {
		return nil
	}
	return n.BigSwitch.FlowRules
}

// AddFlowRule appends a flow rule, allocating the BigSwitch section on first use.
func (n *NFFG) AddFlowRule(fr *FlowRule) {
	if n.BigSwitch == nil {
		n.BigSwitch = &BigSwitch{}
	}
	n.BigSwitch.FlowRules = append(n.BigSwitch.FlowRules, fr)
}

// GetEndPoint returns the endpoint with the given graph id, or nil.
func (n *NFFG) GetEndPoint(gid string) *Endpoint {
	for _, ep := range n.EndPoints {
		if ep.ID == gid {
			return ep
		}
	}
	return nil
}

// GetVNF returns the VNF with the given graph id, or nil.
func (n *NFFG) GetVNF(gid string) *VNF {
	for _, vnf := range n.VNFs {
		if vnf.ID == gid {
			return vnf
		}
	}
	return nil
}

// GetFlowRule returns the flow rule with the given graph id, or nil.
func (n *NFFG) GetFlowRule(gid string) *FlowRule {
	for _, fr := range n.FlowRules() {
		if fr.ID == gid {
			return fr
		}
	}
	return nil
}

// ============================================================================
// Endpoints
// ============================================================================

// Endpoint is an attachment point of the graph to the outside world.
// Exactly one of the three sections is populated, matching Type.
type Endpoint struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`

	Interface *InterfacePort `json:"interface,omitempty"`
	Vlan      *VlanPort      `json:"vlan,omitempty"`
	GreTunnel *GreTunnel     `json:"gre-tunnel,omitempty"`

	// Set by Diff and by the store; never serialised.
	Status string `json:"-"`
	DBID   string `json:"-"`
}

// InterfacePort binds an endpoint to a physical switch port.
type InterfacePort struct {
	NodeID string `json:"node-id,omitempty"`
	IfName string `json:"if-name"`
}

// VlanPort binds an endpoint to a VLAN on a physical switch port.
type VlanPort struct {
	VlanID string `json:"vlan-id"`
	NodeID string `json:"node-id,omitempty"`
	IfName string `json:"if-name"`
}

// GreTunnel binds an endpoint to a GRE tunnel terminated on the GRE bridge.
type GreTunnel struct {
	LocalIP  string `json:"local-ip"`
	RemoteIP string `json:"remote-ip"`
	GreKey   string `json:"gre-key,omitempty"`
	TTL      string `json:"ttl,omitempty"`
}

// NodeID returns the switch the endpoint is attached to, independent of type.
func (e *Endpoint) NodeID() string {
	switch {
	case e.Interface != nil:
		return e.Interface.NodeID
	case e.Vlan != nil:
		return e.Vlan.NodeID
	}
	return ""
}

// InterfaceName returns the switch interface the endpoint is attached to.
func (e *Endpoint) InterfaceName() string {
	switch {
	case e.Interface != nil:
		return e.Interface.IfName
	case e.Vlan != nil:
		return e.Vlan.IfName
	}
	return ""
}

// VlanID returns the endpoint VLAN id, or "" when the endpoint is untagged.
func (e *Endpoint) VlanID() string {
	if e.Vlan != nil {
		return e.Vlan.VlanID
	}
	return ""
}

// BindInterface rewrites the endpoint in place to an interface endpoint on
// the given switch port. Used after GRE tunnel creation so that downstream
// routing treats every endpoint uniformly, and when reloading endpoints
// whose port assignment lives in the store.
func (e *Endpoint) BindInterface(nodeID, ifName string) {
	e.Type = EndpointTypeInterface
	e.Interface = &InterfacePort{NodeID: nodeID, IfName: ifName}
	e.Vlan = nil
	e.GreTunnel = nil
}

// ============================================================================
// VNFs
// ============================================================================

// VNF is a network function requested by the graph, implemented on this
// domain by a controller-hosted application.
type VNF struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name,omitempty"`
	VnfTemplate          string     `json:"vnf_template,omitempty"`
	FunctionalCapability string     `json:"functional-capability,omitempty"`
	Ports                []*VNFPort `json:"ports,omitempty"`

	Status string `json:"-"`
	DBID   string `json:"-"`
}

// VNFPort is a logical port of a VNF, referenced by flow rules as
// "vnf:<vnf-id>:<port-id>".
type VNFPort struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`

	Status string `json:"-"`
	DBID   string `json:"-"`
}

// GetPort returns the VNF port with the given graph id, or nil.
func (v *VNF) GetPort(gid string) *VNFPort {
	for _, p := range v.Ports {
		if p.ID == gid {
			return p
		}
	}
	return nil
}

// ============================================================================
// Flow rules
// ============================================================================

// FlowRule is one logical forwarding entry of the big switch.
type FlowRule struct {
	ID       string    `json:"id"`
	Priority int       `json:"priority"`
	Match    *Match    `json:"match,omitempty"`
	Actions  []*Action `json:"actions,omitempty"`

	Status string `json:"-"`
	DBID   string `json:"-"`
}

// Match selects the traffic a flow rule applies to. All fields except
// priority are optional; empty means wildcard.
type Match struct {
	PortIn       string `json:"port_in,omitempty"`
	EtherType    string `json:"ether_type,omitempty"`
	VlanID       string `json:"vlan_id,omitempty"`
	VlanPriority string `json:"vlan_priority,omitempty"`
	SourceMAC    string `json:"source_mac,omitempty"`
	DestMAC      string `json:"dest_mac,omitempty"`
	SourceIP     string `json:"source_ip,omitempty"`
	DestIP       string `json:"dest_ip,omitempty"`
	TosBits      string `json:"tos_bits,omitempty"`
	SourcePort   string `json:"source_port,omitempty"`
	DestPort     string `json:"dest_port,omitempty"`
	Protocol     string `json:"protocol,omitempty"`
}

// Copy returns a field-by-field copy of the match.
func (m *Match) Copy() *Match {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Action is one step of a flow rule's action list. Wire objects carry
// exactly one populated field each; the synthesised external flows combine
// several in one ordered list.
type Action struct {
	Output          string `json:"output_to_port,omitempty"`
	Controller      bool   `json:"output_to_controller,omitempty"`
	Drop            bool   `json:"drop,omitempty"`
	SetVlanID       string `json:"set_vlan_id,omitempty"`
	SetVlanPriority string `json:"set_vlan_priority,omitempty"`
	PushVlan        string `json:"push_vlan,omitempty"`
	PopVlan         bool   `json:"pop_vlan,omitempty"`
	SetEthSrc       string `json:"set_ethernet_src_address,omitempty"`
	SetEthDst       string `json:"set_ethernet_dst_address,omitempty"`
	SetIPSrc        string `json:"set_ip_src_address,omitempty"`
	SetIPDst        string `json:"set_ip_dst_address,omitempty"`
	SetIPTos        string `json:"set_ip_tos,omitempty"`
	SetL4Src        string `json:"set_l4_src_port,omitempty"`
	SetL4Dst        string `json:"set_l4_dst_port,omitempty"`
	OutputToQueue   string `json:"output_to_queue,omitempty"`
}

// OutputAction returns the rule's output action, or nil. Validation
// guarantees at most one exists.
func (f *FlowRule) OutputAction() *Action {
	for _, a := range f.Actions {
		if a.Output != "" {
			return a
		}
	}
	return nil
}

// DropAction reports whether any action of the rule drops the traffic.
func (f *FlowRule) DropAction() bool {
	for _, a := range f.Actions {
		if a.Drop {
			return true
		}
	}
	return false
}

// ============================================================================
// Port references
// ============================================================================

// EndpointIDFromRef extracts the endpoint graph id from a port reference of
// the form "endpoint:<gid>". Returns "" for every other shape.
func EndpointIDFromRef(ref string) string {
	if rest, ok := strings.CutPrefix(ref, "endpoint:"); ok {
		return rest
	}
	return ""
}

// VNFRef holds the parsed pieces of a "vnf:<vnf-id>:<port-id>" reference.
type VNFRef struct {
	VnfID  string
	PortID string
}

// VNFRefFromString parses a VNF port reference. Returns nil for every other
// shape. Port ids may themselves contain colons ("inout:0").
func VNFRefFromString(ref string) *VNFRef {
	rest, ok := strings.CutPrefix(ref, "vnf:")
	if !ok {
		return nil
	}
	vnfID, portID, ok := strings.Cut(rest, ":")
	if !ok {
		return nil
	}
	return &VNFRef{VnfID: vnfID, PortID: portID}
}
