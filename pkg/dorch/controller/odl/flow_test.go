package odl

import (
	"testing"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
)

func sampleRule() *nffg.FlowRule {
	return &nffg.FlowRule{
		ID:       "fr1",
		Priority: 20001,
		Match:    &nffg.Match{PortIn: "1", VlanID: "297"},
		Actions:  []*nffg.Action{{SetVlanID: "302"}, {Output: "2"}},
	}
}

func TestEncodeMatch(t *testing.T) {
	m := &nffg.Match{
		PortIn:     "2",
		EtherType:  "0x800",
		VlanID:     "297",
		SourceMAC:  "00:11:22:33:44:55",
		SourceIP:   "10.0.0.1",
		Protocol:   "udp",
		SourcePort: "53",
	}

	out := encodeMatch("openflow:1", m)

	if out.InPort != "openflow:1:2" {
		t.Errorf("in-port = %q", out.InPort)
	}
	if out.VlanMatch == nil || out.VlanMatch.VlanID == nil ||
		out.VlanMatch.VlanID.VlanID != 297 || !out.VlanMatch.VlanID.Present {
		t.Errorf("vlan match = %+v", out.VlanMatch)
	}
	if out.EthernetMatch == nil || out.EthernetMatch.EthernetType == nil ||
		out.EthernetMatch.EthernetType.Type != 2048 {
		t.Errorf("ethernet type should parse 0x800 to 2048: %+v", out.EthernetMatch)
	}
	if out.EthernetMatch.EthernetSource == nil || out.EthernetMatch.EthernetSource.Address != "00:11:22:33:44:55" {
		t.Errorf("ethernet source = %+v", out.EthernetMatch.EthernetSource)
	}
	if out.IPv4Source != "10.0.0.1/32" {
		t.Errorf("ipv4 source = %q", out.IPv4Source)
	}
	if out.IPMatch == nil || out.IPMatch.Protocol != 17 {
		t.Errorf("ip match = %+v", out.IPMatch)
	}
	if out.UDPSourcePort != 53 || out.TCPSourcePort != 0 {
		t.Errorf("l4 ports = udp:%d tcp:%d", out.UDPSourcePort, out.TCPSourcePort)
	}
}

func TestEncodeMatchFullConnector(t *testing.T) {
	out := encodeMatch("openflow:1", &nffg.Match{PortIn: "openflow:1:3"})
	if out.InPort != "openflow:1:3" {
		t.Errorf("in-port = %q, full connector ids must pass through", out.InPort)
	}
}

func TestEncodeActionsOrder(t *testing.T) {
	rule := &nffg.FlowRule{
		ID: "fr1",
		Actions: []*nffg.Action{
			{PopVlan: true},
			{PushVlan: "42"},
			{Output: "3"},
		},
	}

	actions := encodeActions(rule)

	if len(actions) != 4 {
		t.Fatalf("expected 4 actions, got %+v", actions)
	}
	for i, a := range actions {
		if a.Order != i {
			t.Errorf("action %d has order %d", i, a.Order)
		}
	}
	if actions[0].PopVlan == nil {
		t.Errorf("first action should pop the vlan: %+v", actions[0])
	}
	if actions[1].PushVlan == nil || actions[1].PushVlan.EthernetType != dot1qEtherType {
		t.Errorf("second action should push a dot1q header: %+v", actions[1])
	}
	if actions[2].SetField == nil || actions[2].SetField.VlanMatch.VlanID.VlanID != 42 {
		t.Errorf("third action should set vlan 42: %+v", actions[2])
	}
	if actions[3].Output == nil || actions[3].Output.Connector != "3" {
		t.Errorf("last action should output to port 3: %+v", actions[3])
	}
}

func TestEncodeActionsDrop(t *testing.T) {
	rule := &nffg.FlowRule{
		ID:      "fr1",
		Actions: []*nffg.Action{{SetVlanID: "10"}, {Drop: true}},
	}

	actions := encodeActions(rule)

	if len(actions) != 1 || actions[0].Drop == nil {
		t.Errorf("drop should produce a single drop action: %+v", actions)
	}
}

func TestEncodeFlowBody(t *testing.T) {
	body := encodeFlow("openflow:1", "fr1_2", sampleRule())

	if len(body.Flow) != 1 {
		t.Fatalf("expected 1 flow, got %d", len(body.Flow))
	}
	f := body.Flow[0]
	if f.ID != "fr1_2" || f.FlowName != "fr1_2" {
		t.Errorf("flow should be addressed by name: %+v", f)
	}
	if f.TableID != 0 || !f.InstallHw {
		t.Errorf("flow should target table 0 with installHw: %+v", f)
	}
}
