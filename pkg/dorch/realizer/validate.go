package realizer

import (
	"strconv"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

// Validate checks a graph against what this domain can realise before
// anything is stored or touched on the data plane. Requests carrying
// features the orchestrator knows about but does not process fail with
// UselessInfo errors; malformed rules fail with graph errors; VNFs whose
// capability the domain does not offer fail with a CapabilityError.
func (r *Realizer) Validate(g *nffg.NFFG) error {
	if _, err := r.ApplicationNames(g); err != nil {
		return err
	}

	for _, ep := range g.EndPoints {
		switch ep.Type {
		case "", nffg.EndpointTypeInterface, nffg.EndpointTypeVlan, nffg.EndpointTypeGreTunnel:
		default:
			return util.NewUselessInfoError(
				"'end-points.type' must be 'interface', 'vlan' or 'gre-tunnel' (not %q)", ep.Type)
		}
		if ep.GreTunnel != nil && ep.GreTunnel.TTL != "" {
			return util.NewUselessInfoError("presence of 'ttl' in endpoint %s", ep.ID)
		}
	}

	for _, fr := range g.FlowRules() {
		if err := r.validateFlowRule(fr); err != nil {
			return err
		}
	}
	return nil
}

func (r *Realizer) validateFlowRule(fr *nffg.FlowRule) error {
	if fr.Match == nil {
		return util.NewGraphError("flow rule %s has no match section", fr.ID)
	}
	if fr.Match.PortIn == "" {
		return util.NewGraphError("flow rule %s has no ingress port ('port_in')", fr.ID)
	}
	if nffg.EndpointIDFromRef(fr.Match.PortIn) == "" && nffg.VNFRefFromString(fr.Match.PortIn) == nil {
		return util.NewGraphError(
			"flow rule %s: port_in %q is neither an endpoint nor a vnf port",
			fr.ID, fr.Match.PortIn)
	}

	outputs := 0
	for _, a := range fr.Actions {
		if a.Controller {
			return util.NewUselessInfoError("presence of 'output_to_controller' in flow rule %s", fr.ID)
		}
		if a.OutputToQueue != "" {
			return util.NewUselessInfoError("presence of 'output_to_queue' in flow rule %s", fr.ID)
		}
		if a.Output != "" {
			outputs++
			if outputs > 1 {
				return util.NewUselessInfoError("multiple 'output_to_port' not allowed (flow rule %s)", fr.ID)
			}
			if nffg.EndpointIDFromRef(a.Output) == "" && nffg.VNFRefFromString(a.Output) == nil {
				return util.NewGraphError(
					"flow rule %s: output %q is neither an endpoint nor a vnf port",
					fr.ID, a.Output)
			}
		}
		if err := r.validateVlanID(a.PushVlan); err != nil {
			return err
		}
		if err := r.validateVlanID(a.SetVlanID); err != nil {
			return err
		}
	}
	return nil
}

// validateVlanID admits only ids inside the configured ranges; the same
// pool covers service tags and transport tags.
func (r *Realizer) validateVlanID(vid string) error {
	if vid == "" {
		return nil
	}
	n, err := strconv.Atoi(vid)
	if err != nil {
		return util.NewGraphError("invalid vlan id %q", vid)
	}
	if !util.VlanAllowed(r.ranges, n) {
		return util.NewGraphError("vlan id %d not allowed, valid ids are %s",
			n, util.FormatVlanRanges(r.ranges))
	}
	return nil
}
