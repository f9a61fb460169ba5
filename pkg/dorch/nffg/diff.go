package nffg

// Diff annotates updated with respect to the deployed graph n, element by
// element, keyed on graph ids:
//
//   - present in both, content unchanged: already_deployed, db id carried over
//   - present in both, content changed:   new, db id carried over so the
//     reconciler removes the stale deployment before reinstalling
//   - present only in updated:            new
//   - present only in n:                  appended to updated as to_be_deleted
//
// updated is modified in place and returned.
func (n *NFFG) Diff(updated *NFFG) *NFFG {
	// [ ENDPOINTS ]
	for _, ep := range updated.EndPoints {
		oldEp := n.GetEndPoint(ep.ID)
		if oldEp == nil {
			ep.Status = StatusNew
			continue
		}
		ep.DBID = oldEp.DBID
		if endpointEqual(ep, oldEp) {
			ep.Status = StatusAlreadyDeployed
		} else {
			ep.Status = StatusNew
		}
	}
	for _, oldEp := range n.EndPoints {
		if updated.GetEndPoint(oldEp.ID) == nil {
			oldEp.Status = StatusToBeDeleted
			updated.EndPoints = append(updated.EndPoints, oldEp)
		}
	}

	// [ VNFs ]
	for _, vnf := range updated.VNFs {
		oldVnf := n.GetVNF(vnf.ID)
		if oldVnf == nil {
			vnf.Status = StatusNew
			continue
		}
		vnf.DBID = oldVnf.DBID
		vnf.Status = StatusAlreadyDeployed
		for _, port := range vnf.Ports {
			oldPort := oldVnf.GetPort(port.ID)
			if oldPort == nil {
				port.Status = StatusNew
			} else {
				port.Status = StatusAlreadyDeployed
				port.DBID = oldPort.DBID
			}
		}
		for _, oldPort := range oldVnf.Ports {
			if vnf.GetPort(oldPort.ID) == nil {
				oldPort.Status = StatusToBeDeleted
				vnf.Ports = append(vnf.Ports, oldPort)
			}
		}
	}
	for _, oldVnf := range n.VNFs {
		if updated.GetVNF(oldVnf.ID) == nil {
			oldVnf.Status = StatusToBeDeleted
			updated.VNFs = append(updated.VNFs, oldVnf)
		}
	}

	// [ FLOW RULES ]
	for _, fr := range updated.FlowRules() {
		oldFr := n.GetFlowRule(fr.ID)
		if oldFr == nil {
			fr.Status = StatusNew
			continue
		}
		fr.DBID = oldFr.DBID
		if flowRuleEqual(fr, oldFr) {
			fr.Status = StatusAlreadyDeployed
		} else {
			fr.Status = StatusNew
		}
	}
	for _, oldFr := range n.FlowRules() {
		if updated.GetFlowRule(oldFr.ID) == nil {
			oldFr.Status = StatusToBeDeleted
			updated.AddFlowRule(oldFr)
		}
	}

	return updated
}

func endpointEqual(a, b *Endpoint) bool {
	return a.Type == b.Type &&
		interfacePortEqual(a.Interface, b.Interface) &&
		vlanPortEqual(a.Vlan, b.Vlan) &&
		greTunnelEqual(a.GreTunnel, b.GreTunnel)
}

func interfacePortEqual(a, b *InterfacePort) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func vlanPortEqual(a, b *VlanPort) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func greTunnelEqual(a, b *GreTunnel) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func flowRuleEqual(a, b *FlowRule) bool {
	if a.Priority != b.Priority || !matchEqual(a.Match, b.Match) {
		return false
	}
	if len(a.Actions) != len(b.Actions) {
		return false
	}
	for i := range a.Actions {
		if *a.Actions[i] != *b.Actions[i] {
			return false
		}
	}
	return true
}

func matchEqual(a, b *Match) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
