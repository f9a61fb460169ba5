package onos

import (
	"reflect"
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

func TestEncodeSelector(t *testing.T) {
	m := &nffg.Match{
		PortIn:    "1",
		EtherType: "0x800",
		VlanID:    "297",
		SourceIP:  "10.0.0.1",
		DestIP:    "10.0.1.0/24",
		Protocol:  "udp",
		DestPort:  "53",
	}

	s := encodeSelector(m)

	want := []map[string]interface{}{
		{"type": "IN_PORT", "port": int64(1)},
		{"type": "ETH_TYPE", "ethType": "0x800"},
		{"type": "VLAN_VID", "vlanId": int64(297)},
		{"type": "IPV4_SRC", "ip": "10.0.0.1/32"},
		{"type": "IPV4_DST", "ip": "10.0.1.0/24"},
		{"type": "IP_PROTO", "protocol": 17},
		{"type": "UDP_DST", "udpPort": int64(53)},
	}
	if !reflect.DeepEqual(s.Criteria, want) {
		t.Errorf("criteria = %#v, want %#v", s.Criteria, want)
	}
}

func TestEncodeSelectorEmptyMatch(t *testing.T) {
	s := encodeSelector(nil)
	if len(s.Criteria) != 0 {
		t.Errorf("expected no criteria, got %#v", s.Criteria)
	}
}

func TestEncodeTreatmentOrder(t *testing.T) {
	rule := &nffg.FlowRule{
		ID: "fr1",
		Actions: []*nffg.Action{
			{PopVlan: true},
			{PushVlan: "42"},
			{Output: "3"},
		},
	}

	tr := encodeTreatment(rule)

	wantTypes := []string{"L2MODIFICATION", "L2MODIFICATION", "L2MODIFICATION", "OUTPUT"}
	if len(tr.Instructions) != len(wantTypes) {
		t.Fatalf("expected %d instructions, got %#v", len(wantTypes), tr.Instructions)
	}
	for i, wt := range wantTypes {
		if tr.Instructions[i]["type"] != wt {
			t.Errorf("instruction %d type = %v, want %s", i, tr.Instructions[i]["type"], wt)
		}
	}
	if tr.Instructions[0]["subtype"] != "VLAN_POP" {
		t.Errorf("first instruction = %#v, want VLAN_POP", tr.Instructions[0])
	}
	if tr.Instructions[1]["subtype"] != "VLAN_PUSH" {
		t.Errorf("second instruction = %#v, want VLAN_PUSH", tr.Instructions[1])
	}
	if tr.Instructions[2]["subtype"] != "VLAN_ID" || tr.Instructions[2]["vlanId"] != int64(42) {
		t.Errorf("third instruction = %#v, want VLAN_ID 42", tr.Instructions[2])
	}
	if tr.Instructions[3]["port"] != int64(3) {
		t.Errorf("output port = %v, want 3", tr.Instructions[3]["port"])
	}
}

func TestEncodeTreatmentDrop(t *testing.T) {
	rule := &nffg.FlowRule{
		ID: "fr1",
		Actions: []*nffg.Action{
			{SetVlanID: "10"},
			{Drop: true},
			{Output: "2"},
		},
	}

	tr := encodeTreatment(rule)

	if len(tr.Instructions) != 1 || tr.Instructions[0]["type"] != "NOACTION" {
		t.Errorf("drop treatment = %#v, want single NOACTION", tr.Instructions)
	}
}

func TestEncodeTreatmentRewrites(t *testing.T) {
	rule := &nffg.FlowRule{
		ID:    "fr1",
		Match: &nffg.Match{Protocol: "tcp"},
		Actions: []*nffg.Action{
			{SetEthDst: "00:11:22:33:44:55", SetL4Dst: "8080", Output: "local"},
		},
	}

	tr := encodeTreatment(rule)

	if len(tr.Instructions) != 3 {
		t.Fatalf("expected 3 instructions, got %#v", tr.Instructions)
	}
	if tr.Instructions[0]["subtype"] != "ETH_DST" || tr.Instructions[0]["mac"] != "00:11:22:33:44:55" {
		t.Errorf("eth rewrite = %#v", tr.Instructions[0])
	}
	if tr.Instructions[1]["subtype"] != "TCP_DST" || tr.Instructions[1]["tcpPort"] != int64(8080) {
		t.Errorf("l4 rewrite = %#v", tr.Instructions[1])
	}
	if tr.Instructions[2]["type"] != "OUTPUT" || tr.Instructions[2]["port"] != "local" {
		t.Errorf("output = %#v", tr.Instructions[2])
	}
}

func TestProtocolNumber(t *testing.T) {
	tests := []struct {
		in   string
		want interface{}
	}{
		{"tcp", 6},
		{"TCP", 6},
		{"udp", 17},
		{"icmp", 1},
		{"sctp", 132},
		{"89", int64(89)},
	}
	for _, tt := range tests {
		if got := protocolNumber(tt.in); got != tt.want {
			t.Errorf("protocolNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEncodeFlow(t *testing.T) {
	rule := &nffg.FlowRule{
		ID:       "fr1",
		Priority: 20001,
		Match:    &nffg.Match{PortIn: "1"},
		Actions:  []*nffg.Action{{Output: "2"}},
	}

	f := encodeFlow("of:0000000000000001", rule)

	if f.DeviceID != "of:0000000000000001" {
		t.Errorf("deviceId = %q", f.DeviceID)
	}
	if f.Priority != 20001 {
		t.Errorf("priority = %d", f.Priority)
	}
	if !f.IsPermanent || f.Timeout != 0 {
		t.Errorf("expected permanent flow, got timeout=%d permanent=%v", f.Timeout, f.IsPermanent)
	}
}
