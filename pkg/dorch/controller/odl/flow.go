package odl

import (
	"strconv"
	"strings"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
)

// The structs below mirror the OpenFlow plugin flow model as written into
// the restconf config datastore.

type flowBody struct {
	Flow []flowEntry `json:"flow"`
}

type flowEntry struct {
	ID           string            `json:"id"`
	FlowName     string            `json:"flow-name"`
	TableID      int               `json:"table_id"`
	Priority     int               `json:"priority"`
	HardTimeout  int               `json:"hard-timeout"`
	IdleTimeout  int               `json:"idle-timeout"`
	InstallHw    bool              `json:"installHw"`
	Match        *flowMatch        `json:"match,omitempty"`
	Instructions *flowInstructions `json:"instructions,omitempty"`
}

type flowMatch struct {
	InPort          string         `json:"in-port,omitempty"`
	VlanMatch       *vlanMatch     `json:"vlan-match,omitempty"`
	EthernetMatch   *ethernetMatch `json:"ethernet-match,omitempty"`
	IPv4Source      string         `json:"ipv4-source,omitempty"`
	IPv4Destination string         `json:"ipv4-destination,omitempty"`
	IPMatch         *ipMatch       `json:"ip-match,omitempty"`
	TCPSourcePort   int            `json:"tcp-source-port,omitempty"`
	TCPDestPort     int            `json:"tcp-destination-port,omitempty"`
	UDPSourcePort   int            `json:"udp-source-port,omitempty"`
	UDPDestPort     int            `json:"udp-destination-port,omitempty"`
}

type vlanMatch struct {
	VlanID  *vlanID `json:"vlan-id,omitempty"`
	VlanPCP int     `json:"vlan-pcp,omitempty"`
}

type vlanID struct {
	VlanID  int  `json:"vlan-id"`
	Present bool `json:"vlan-id-present"`
}

type ethernetMatch struct {
	EthernetType        *ethernetType `json:"ethernet-type,omitempty"`
	EthernetSource      *macAddress   `json:"ethernet-source,omitempty"`
	EthernetDestination *macAddress   `json:"ethernet-destination,omitempty"`
}

type ethernetType struct {
	Type int64 `json:"type"`
}

type macAddress struct {
	Address string `json:"address"`
}

type ipMatch struct {
	Protocol int `json:"ip-protocol,omitempty"`
	DSCP     int `json:"ip-dscp,omitempty"`
}

type flowInstructions struct {
	Instruction []flowInstruction `json:"instruction"`
}

type flowInstruction struct {
	Order        int           `json:"order"`
	ApplyActions *applyActions `json:"apply-actions,omitempty"`
}

type applyActions struct {
	Action []flowAction `json:"action"`
}

type flowAction struct {
	Order    int             `json:"order"`
	Output   *outputAction   `json:"output-action,omitempty"`
	Drop     *struct{}       `json:"drop-action,omitempty"`
	PopVlan  *struct{}       `json:"pop-vlan-action,omitempty"`
	PushVlan *pushVlanAction `json:"push-vlan-action,omitempty"`
	SetField *setField       `json:"set-field,omitempty"`
	SetDlSrc *macAddress     `json:"set-dl-src-action,omitempty"`
	SetDlDst *macAddress     `json:"set-dl-dst-action,omitempty"`
	SetNwSrc *nwAddress      `json:"set-nw-src-action,omitempty"`
	SetNwDst *nwAddress      `json:"set-nw-dst-action,omitempty"`
	SetNwTos *nwTos          `json:"set-nw-tos-action,omitempty"`
	SetTpSrc *tpPort         `json:"set-tp-src-action,omitempty"`
	SetTpDst *tpPort         `json:"set-tp-dst-action,omitempty"`
}

type outputAction struct {
	Connector string `json:"output-node-connector"`
	MaxLength int    `json:"max-length"`
}

type pushVlanAction struct {
	EthernetType int `json:"ethernet-type"`
}

type setField struct {
	VlanMatch *vlanMatch `json:"vlan-match,omitempty"`
}

type nwAddress struct {
	IPv4Address string `json:"ipv4-address"`
}

type nwTos struct {
	Tos int `json:"tos"`
}

type tpPort struct {
	Port int `json:"port"`
}

// dot1qEtherType is the TPID written by push-vlan.
const dot1qEtherType = 0x8100

func encodeFlow(switchID, name string, rule *nffg.FlowRule) *flowBody {
	entry := flowEntry{
		ID:        name,
		FlowName:  name,
		Priority:  rule.Priority,
		InstallHw: true,
		Match:     encodeMatch(switchID, rule.Match),
	}
	actions := encodeActions(rule)
	if len(actions) > 0 {
		entry.Instructions = &flowInstructions{
			Instruction: []flowInstruction{{ApplyActions: &applyActions{Action: actions}}},
		}
	}
	return &flowBody{Flow: []flowEntry{entry}}
}

func encodeMatch(switchID string, m *nffg.Match) *flowMatch {
	if m == nil {
		return nil
	}
	out := &flowMatch{}
	if m.PortIn != "" {
		out.InPort = connectorID(switchID, m.PortIn)
	}
	if m.VlanID != "" || m.VlanPriority != "" {
		vm := &vlanMatch{}
		if m.VlanID != "" {
			vm.VlanID = &vlanID{VlanID: atoi(m.VlanID), Present: true}
		}
		if m.VlanPriority != "" {
			vm.VlanPCP = atoi(m.VlanPriority)
		}
		out.VlanMatch = vm
	}
	if m.EtherType != "" || m.SourceMAC != "" || m.DestMAC != "" {
		em := &ethernetMatch{}
		if m.EtherType != "" {
			em.EthernetType = &ethernetType{Type: parseEtherType(m.EtherType)}
		}
		if m.SourceMAC != "" {
			em.EthernetSource = &macAddress{Address: m.SourceMAC}
		}
		if m.DestMAC != "" {
			em.EthernetDestination = &macAddress{Address: m.DestMAC}
		}
		out.EthernetMatch = em
	}
	if m.SourceIP != "" {
		out.IPv4Source = cidr(m.SourceIP)
	}
	if m.DestIP != "" {
		out.IPv4Destination = cidr(m.DestIP)
	}
	if m.Protocol != "" || m.TosBits != "" {
		im := &ipMatch{}
		if m.Protocol != "" {
			im.Protocol = protocolNumber(m.Protocol)
		}
		if m.TosBits != "" {
			im.DSCP = atoi(m.TosBits)
		}
		out.IPMatch = im
	}
	udp := strings.EqualFold(m.Protocol, "udp")
	if m.SourcePort != "" {
		if udp {
			out.UDPSourcePort = atoi(m.SourcePort)
		} else {
			out.TCPSourcePort = atoi(m.SourcePort)
		}
	}
	if m.DestPort != "" {
		if udp {
			out.UDPDestPort = atoi(m.DestPort)
		} else {
			out.TCPDestPort = atoi(m.DestPort)
		}
	}
	return out
}

func encodeActions(rule *nffg.FlowRule) []flowAction {
	var actions []flowAction
	add := func(a flowAction) {
		a.Order = len(actions)
		actions = append(actions, a)
	}

	for _, a := range rule.Actions {
		if a.Drop {
			return []flowAction{{Drop: &struct{}{}}}
		}

		if a.PopVlan {
			add(flowAction{PopVlan: &struct{}{}})
		}
		if a.PushVlan != "" {
			add(flowAction{PushVlan: &pushVlanAction{EthernetType: dot1qEtherType}})
			add(flowAction{SetField: &setField{VlanMatch: &vlanMatch{
				VlanID: &vlanID{VlanID: atoi(a.PushVlan), Present: true},
			}}})
		}
		if a.SetVlanID != "" {
			add(flowAction{SetField: &setField{VlanMatch: &vlanMatch{
				VlanID: &vlanID{VlanID: atoi(a.SetVlanID), Present: true},
			}}})
		}
		if a.SetVlanPriority != "" {
			add(flowAction{SetField: &setField{VlanMatch: &vlanMatch{
				VlanPCP: atoi(a.SetVlanPriority),
			}}})
		}
		if a.SetEthSrc != "" {
			add(flowAction{SetDlSrc: &macAddress{Address: a.SetEthSrc}})
		}
		if a.SetEthDst != "" {
			add(flowAction{SetDlDst: &macAddress{Address: a.SetEthDst}})
		}
		if a.SetIPSrc != "" {
			add(flowAction{SetNwSrc: &nwAddress{IPv4Address: a.SetIPSrc}})
		}
		if a.SetIPDst != "" {
			add(flowAction{SetNwDst: &nwAddress{IPv4Address: a.SetIPDst}})
		}
		if a.SetIPTos != "" {
			add(flowAction{SetNwTos: &nwTos{Tos: atoi(a.SetIPTos)}})
		}
		if a.SetL4Src != "" {
			add(flowAction{SetTpSrc: &tpPort{Port: atoi(a.SetL4Src)}})
		}
		if a.SetL4Dst != "" {
			add(flowAction{SetTpDst: &tpPort{Port: atoi(a.SetL4Dst)}})
		}
		if a.Output != "" {
			add(flowAction{Output: &outputAction{Connector: a.Output, MaxLength: 65535}})
		}
	}
	return actions
}

// connectorID widens a bare port number to the full node connector id the
// OpenFlow plugin expects.
func connectorID(switchID, port string) string {
	if strings.Contains(port, ":") {
		return port
	}
	return switchID + ":" + port
}

func atoi(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}

func parseEtherType(v string) int64 {
	n, err := strconv.ParseInt(v, 0, 64)
	if err != nil {
		return 0
	}
	return n
}

func cidr(ip string) string {
	if strings.Contains(ip, "/") {
		return ip
	}
	return ip + "/32"
}

func protocolNumber(name string) int {
	switch strings.ToLower(name) {
	case "icmp":
		return 1
	case "tcp":
		return 6
	case "udp":
		return 17
	case "sctp":
		return 132
	}
	return atoi(name)
}
