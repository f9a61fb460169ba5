package onos

import (
	"strconv"
	"strings"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
)

// flowEntry is the body POSTed to /onos/v1/flows/{deviceId}.
type flowEntry struct {
	Priority    int       `json:"priority"`
	Timeout     int       `json:"timeout"`
	IsPermanent bool      `json:"isPermanent"`
	DeviceID    string    `json:"deviceId"`
	TableID     int       `json:"tableId"`
	Selector    selector  `json:"selector"`
	Treatment   treatment `json:"treatment"`
}

type selector struct {
	Criteria []map[string]interface{} `json:"criteria"`
}

type treatment struct {
	Instructions []map[string]interface{} `json:"instructions"`
}

func encodeFlow(switchID string, rule *nffg.FlowRule) *flowEntry {
	return &flowEntry{
		Priority:    rule.Priority,
		IsPermanent: true,
		DeviceID:    switchID,
		Selector:    encodeSelector(rule.Match),
		Treatment:   encodeTreatment(rule),
	}
}

func encodeSelector(m *nffg.Match) selector {
	s := selector{Criteria: []map[string]interface{}{}}
	if m == nil {
		return s
	}
	add := func(kind string, key string, value interface{}) {
		s.Criteria = append(s.Criteria, map[string]interface{}{"type": kind, key: value})
	}

	if m.PortIn != "" {
		add("IN_PORT", "port", portValue(m.PortIn))
	}
	if m.EtherType != "" {
		add("ETH_TYPE", "ethType", m.EtherType)
	}
	if m.VlanID != "" {
		add("VLAN_VID", "vlanId", numberOrString(m.VlanID))
	}
	if m.VlanPriority != "" {
		add("VLAN_PCP", "priority", numberOrString(m.VlanPriority))
	}
	if m.SourceMAC != "" {
		add("ETH_SRC", "mac", m.SourceMAC)
	}
	if m.DestMAC != "" {
		add("ETH_DST", "mac", m.DestMAC)
	}
	if m.SourceIP != "" {
		add("IPV4_SRC", "ip", cidr(m.SourceIP))
	}
	if m.DestIP != "" {
		add("IPV4_DST", "ip", cidr(m.DestIP))
	}
	if m.TosBits != "" {
		add("IP_DSCP", "ipDscp", numberOrString(m.TosBits))
	}
	if m.Protocol != "" {
		add("IP_PROTO", "protocol", protocolNumber(m.Protocol))
	}
	if m.SourcePort != "" {
		kind, key := l4Criterion(m.Protocol, "SRC")
		add(kind, key, numberOrString(m.SourcePort))
	}
	if m.DestPort != "" {
		kind, key := l4Criterion(m.Protocol, "DST")
		add(kind, key, numberOrString(m.DestPort))
	}
	return s
}

func encodeTreatment(rule *nffg.FlowRule) treatment {
	t := treatment{Instructions: []map[string]interface{}{}}
	protocol := ""
	if rule.Match != nil {
		protocol = rule.Match.Protocol
	}
	l2 := func(subtype string, extra ...interface{}) {
		in := map[string]interface{}{"type": "L2MODIFICATION", "subtype": subtype}
		for i := 0; i+1 < len(extra); i += 2 {
			in[extra[i].(string)] = extra[i+1]
		}
		t.Instructions = append(t.Instructions, in)
	}

	for _, a := range rule.Actions {
		// A drop makes every other instruction irrelevant.
		if a.Drop {
			return treatment{Instructions: []map[string]interface{}{{"type": "NOACTION"}}}
		}

		if a.PopVlan {
			l2("VLAN_POP")
		}
		if a.PushVlan != "" {
			l2("VLAN_PUSH")
			l2("VLAN_ID", "vlanId", numberOrString(a.PushVlan))
		}
		if a.SetVlanID != "" {
			l2("VLAN_ID", "vlanId", numberOrString(a.SetVlanID))
		}
		if a.SetVlanPriority != "" {
			l2("VLAN_PCP", "vlanPcp", numberOrString(a.SetVlanPriority))
		}
		if a.SetEthSrc != "" {
			l2("ETH_SRC", "mac", a.SetEthSrc)
		}
		if a.SetEthDst != "" {
			l2("ETH_DST", "mac", a.SetEthDst)
		}
		if a.SetIPSrc != "" {
			t.Instructions = append(t.Instructions, map[string]interface{}{
				"type": "L3MODIFICATION", "subtype": "IPV4_SRC", "ip": a.SetIPSrc,
			})
		}
		if a.SetIPDst != "" {
			t.Instructions = append(t.Instructions, map[string]interface{}{
				"type": "L3MODIFICATION", "subtype": "IPV4_DST", "ip": a.SetIPDst,
			})
		}
		if a.SetIPTos != "" {
			t.Instructions = append(t.Instructions, map[string]interface{}{
				"type": "L3MODIFICATION", "subtype": "IP_DSCP", "ipDscp": numberOrString(a.SetIPTos),
			})
		}
		if a.SetL4Src != "" {
			kind, key := l4Modification(protocol, "SRC")
			t.Instructions = append(t.Instructions, map[string]interface{}{
				"type": "L4MODIFICATION", "subtype": kind, key: numberOrString(a.SetL4Src),
			})
		}
		if a.SetL4Dst != "" {
			kind, key := l4Modification(protocol, "DST")
			t.Instructions = append(t.Instructions, map[string]interface{}{
				"type": "L4MODIFICATION", "subtype": kind, key: numberOrString(a.SetL4Dst),
			})
		}
		if a.Output != "" {
			t.Instructions = append(t.Instructions, map[string]interface{}{
				"type": "OUTPUT", "port": portValue(a.Output),
			})
		}
	}
	return t
}

// portValue keeps numeric ports numeric; logical ports like LOCAL stay
// strings.
func portValue(port string) interface{} {
	if n, err := strconv.ParseInt(port, 10, 64); err == nil {
		return n
	}
	return port
}

func numberOrString(v string) interface{} {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	return v
}

// cidr widens a bare address to a host prefix the way ONOS expects.
func cidr(ip string) string {
	if strings.Contains(ip, "/") {
		return ip
	}
	return ip + "/32"
}

func protocolNumber(name string) interface{} {
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
	return numberOrString(name)
}

func l4Criterion(protocol, direction string) (string, string) {
	if strings.EqualFold(protocol, "udp") {
		return "UDP_" + direction, "udpPort"
	}
	return "TCP_" + direction, "tcpPort"
}

func l4Modification(protocol, direction string) (string, string) {
	if strings.EqualFold(protocol, "udp") {
		return "UDP_" + direction, "udpPort"
	}
	return "TCP_" + direction, "tcpPort"
}
