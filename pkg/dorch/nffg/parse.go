package nffg

import (
	"encoding/json"
	"fmt"

	"github.com/dorch-network/dorch/pkg/util"
)

// Parse decodes a forwarding-graph document from a request body.
// Unknown fields are tolerated; the domain-specific restrictions (endpoint
// types, action kinds) are enforced later by the realiser's validation.
func Parse(data []byte) (*NFFG, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, util.NewGraphError("malformed forwarding-graph document: %v", err)
	}
	if doc.ForwardingGraph == nil {
		return nil, util.NewGraphError("missing 'forwarding-graph' section")
	}
	g := doc.ForwardingGraph
	if g.BigSwitch == nil {
		g.BigSwitch = &BigSwitch{}
	}
	for _, fr := range g.BigSwitch.FlowRules {
		if fr.ID == "" {
			return nil, util.NewGraphError("flow rule without an id")
		}
	}
	for _, ep := range g.EndPoints {
		if ep.ID == "" {
			return nil, util.NewGraphError("endpoint without an id")
		}
	}
	for _, vnf := range g.VNFs {
		if vnf.ID == "" {
			return nil, util.NewGraphError("VNF without an id")
		}
	}
	return g, nil
}

// Marshal encodes the graph back into its wire envelope.
func (n *NFFG) Marshal() ([]byte, error) {
	data, err := json.Marshal(Document{ForwardingGraph: n})
	if err != nil {
		return nil, fmt.Errorf("encoding forwarding graph %s: %w", n.ID, err)
	}
	return data, nil
}
