package store

import (
	"database/sql"
	"time"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
)

// Session statuses. A session is the unit of deployment: one stored graph
// for one user, alive until deleted or replaced.
const (
	SessionInitializing = "initialization"
	SessionUpdating     = "updating"
	SessionComplete     = "complete"
	SessionError        = "error"
	SessionDeleted      = "deleted"
)

// FlowRuleExternal marks the per-switch rules derived during realisation.
// Rules copied from the request graph instead carry a kind string built
// from what they connect, "ep-to-ep", "ep-to-vnf" and so on.
const FlowRuleExternal = "external"

// Resource types linking endpoints to the rows they own.
const (
	ResourcePort     = "port"
	ResourceFlowRule = "flow-rule"
)

// Session is one row of graph_session.
type Session struct {
	ID          string
	UserID      string
	GraphID     string
	GraphName   string
	Status      string
	StartedAt   time.Time
	LastUpdate  time.Time
	Error       sql.NullTime
	Ended       sql.NullTime
	Description string
}

// Endpoint is one row of the endpoint table.
type Endpoint struct {
	ID        int64
	GraphID   string
	Name      string
	Type      string
	SessionID string
}

// EndpointResource links an endpoint to a port or flow rule row it owns.
type EndpointResource struct {
	EndpointID   int64
	ResourceType string
	ResourceID   int64
}

// Port is one row of the port table. Interface and vlan endpoints record
// the switch attachment here; gre-tunnel endpoints also record the tunnel
// parameters.
type Port struct {
	ID             int64
	GraphPortID    string
	Status         string
	SwitchID       string
	SessionID      string
	MACAddress     string
	IPv4Address    string
	TunnelRemoteIP string
	VlanID         string
	GreKey         string
}

// FlowRule is one row of the flow_rule table.
type FlowRule struct {
	ID              int64
	GraphFlowRuleID string
	InternalID      string
	SessionID       string
	SwitchID        string
	Type            string
	Priority        int
	Status          string
	Description     string
}

// Match is the single match row of a flow rule. Its id equals the flow
// rule id. PortIn holds a raw port number for external rules and an
// endpoint or VNF port row id for graph rules, disambiguated by
// PortInType.
type Match struct {
	ID           int64
	FlowRuleID   int64
	PortInType   string
	PortIn       string
	EtherType    string
	VlanID       string
	VlanPriority string
	SourceMAC    string
	DestMAC      string
	SourceIP     string
	DestIP       string
	TosBits      string
	SourcePort   string
	DestPort     string
	Protocol     string
}

// ToNFFG converts the row back into a graph match. PortIn is carried over
// verbatim; resolving symbolic references is the caller's job.
func (m *Match) ToNFFG() *nffg.Match {
	return &nffg.Match{
		PortIn:       m.PortIn,
		EtherType:    m.EtherType,
		VlanID:       m.VlanID,
		VlanPriority: m.VlanPriority,
		SourceMAC:    m.SourceMAC,
		DestMAC:      m.DestMAC,
		SourceIP:     m.SourceIP,
		DestIP:       m.DestIP,
		TosBits:      m.TosBits,
		SourcePort:   m.SourcePort,
		DestPort:     m.DestPort,
		Protocol:     m.Protocol,
	}
}

// Action is one action row of a flow rule. Output holds a raw port number
// for external rules and an endpoint row id when OutputType is
// "endpoint".
type Action struct {
	ID              int64
	FlowRuleID      int64
	OutputType      string
	Output          string
	Controller      bool
	Drop            bool
	SetVlanID       string
	SetVlanPriority string
	PushVlan        string
	PopVlan         bool
	SetEthSrc       string
	SetEthDst       string
	SetIPSrc        string
	SetIPDst        string
	SetIPTos        string
	SetL4Src        string
	SetL4Dst        string
	OutputToQueue   string
}

// ToNFFG converts the row back into a graph action.
func (a *Action) ToNFFG() *nffg.Action {
	return &nffg.Action{
		Output:          a.Output,
		Controller:      a.Controller,
		Drop:            a.Drop,
		SetVlanID:       a.SetVlanID,
		SetVlanPriority: a.SetVlanPriority,
		PushVlan:        a.PushVlan,
		PopVlan:         a.PopVlan,
		SetEthSrc:       a.SetEthSrc,
		SetEthDst:       a.SetEthDst,
		SetIPSrc:        a.SetIPSrc,
		SetIPDst:        a.SetIPDst,
		SetIPTos:        a.SetIPTos,
		SetL4Src:        a.SetL4Src,
		SetL4Dst:        a.SetL4Dst,
		OutputToQueue:   a.OutputToQueue,
	}
}

// VlanTracking records the transport VLAN a flow rule occupies on a
// switch. Rows with a NULL VlanIn mark ports carrying untagged endpoint
// traffic.
type VlanTracking struct {
	ID         int64
	FlowRuleID int64
	SwitchID   string
	PortIn     string
	VlanIn     sql.NullInt64
	PortOut    string
	VlanOut    sql.NullInt64
}

// VNF is one row of the vnf table.
type VNF struct {
	ID              int64
	GraphVNFID      string
	SessionID       string
	Name            string
	Template        string
	ApplicationName string
}

// VNFPort is one row of the vnf_port table.
type VNFPort struct {
	ID          int64
	GraphPortID string
	VNFID       int64
	Name        string
}

// User is one row of the user table. PasswordHash is a bcrypt hash; the
// token columns hold the latest issued API token and when it was issued.
type User struct {
	ID             int64
	Username       string
	PasswordHash   string
	Tenant         string
	Token          string
	TokenTimestamp sql.NullTime
}
