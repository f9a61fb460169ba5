package realizer

import (
	"context"
	"strconv"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

// DeleteAndUpdate applies the destructive half of a graph update to a
// diffed graph. Entities flagged to_be_deleted leave the data plane, the
// store and the graph itself. Changed endpoints and rules, new in the
// diff but carrying a stored row, shed that stale state too and redeploy
// from scratch; deployed rules that reference a replaced endpoint lose
// their installed flows and flip back to new, so the installation pass
// rebuilds them against the fresh endpoint. Deployed VNFs whose ports or
// endpoints changed flip to to_be_updated; the application pass pushes
// their port configuration again once the new state is in place.
func (r *Realizer) DeleteAndUpdate(ctx context.Context, sessionID string, g *nffg.NFFG) error {
	p := nffg.NewProfileGraph(g)
	log := util.WithSession(sessionID)

	updated := make(map[string]bool)
	var keptEps []*nffg.Endpoint
	for _, ep := range g.EndPoints {
		if ep.Status == nffg.StatusToBeDeleted {
			dbID, err := strconv.ParseInt(ep.DBID, 10, 64)
			if err != nil {
				log.Warnf("endpoint %s flagged for deletion but never stored", ep.ID)
				continue
			}
			if err := r.deleteEndpointRow(ctx, dbID); err != nil {
				return err
			}
			log.Infof("removed endpoint %s", ep.ID)
			continue
		}
		if isNew(ep.Status) {
			updated[ep.ID] = true
			if dbID, err := strconv.ParseInt(ep.DBID, 10, 64); err == nil {
				// Changed endpoint: the stored one is stale, rows and all.
				if err := r.deleteEndpointRow(ctx, dbID); err != nil {
					return err
				}
				ep.DBID = ""
				log.Debugf("endpoint %s changed, redeploying", ep.ID)
			}
		}
		keptEps = append(keptEps, ep)
	}
	g.EndPoints = keptEps

	var keptRules []*nffg.FlowRule
	for _, fr := range g.FlowRules() {
		if fr.Status == nffg.StatusToBeDeleted {
			if err := r.deleteFlowsByGraphRule(ctx, sessionID, fr.ID); err != nil {
				return err
			}
			log.Infof("removed flow rule %s", fr.ID)
			continue
		}
		if isNew(fr.Status) && fr.DBID != "" {
			// Changed rule: the deployed flows match the old content.
			if err := r.deleteFlowsByGraphRule(ctx, sessionID, fr.ID); err != nil {
				return err
			}
			fr.DBID = ""
			log.Debugf("flow rule %s changed, reinstalling", fr.ID)
		} else if fr.Status == nffg.StatusAlreadyDeployed && referencesUpdated(fr, updated) {
			// The installed flows still point at the replaced endpoint;
			// drop them now and let the rule reinstall from scratch.
			if err := r.deleteFlowsByGraphRule(ctx, sessionID, fr.ID); err != nil {
				return err
			}
			fr.Status = nffg.StatusNew
			fr.DBID = ""
			log.Debugf("flow rule %s reinstalls against an updated endpoint", fr.ID)
		}
		keptRules = append(keptRules, fr)
	}
	if g.BigSwitch != nil {
		g.BigSwitch.FlowRules = keptRules
	}

	var keptVNFs []*nffg.VNF
	for _, vnf := range g.VNFs {
		if vnf.Status == nffg.StatusToBeDeleted {
			row, err := r.store.VNFByGraphID(ctx, sessionID, vnf.ID)
			if err != nil {
				return err
			}
			if row != nil {
				if err := r.deactivateApp(ctx, row.ApplicationName); err != nil {
					return err
				}
				if err := r.store.DeleteVNF(ctx, row.ID); err != nil {
					return err
				}
			}
			log.Infof("removed vnf %s", vnf.ID)
			continue
		}

		if vnf.Status == nffg.StatusAlreadyDeployed {
			var keptPorts []*nffg.VNFPort
			for _, port := range vnf.Ports {
				if port.Status == nffg.StatusToBeDeleted {
					vnf.Status = nffg.StatusToBeUpdated
					if id, err := strconv.ParseInt(port.DBID, 10, 64); err == nil {
						if err := r.store.DeleteVNFPort(ctx, id); err != nil {
							return err
						}
					}
					continue
				}
				if isNew(port.Status) {
					vnf.Status = nffg.StatusToBeUpdated
				}
				keptPorts = append(keptPorts, port)
			}
			vnf.Ports = keptPorts

			if vnf.Status != nffg.StatusToBeUpdated {
				for _, flow := range p.FlowsFromVNF(vnf) {
					if referencesUpdated(flow, updated) {
						vnf.Status = nffg.StatusToBeUpdated
						break
					}
				}
			}
		}
		keptVNFs = append(keptVNFs, vnf)
	}
	g.VNFs = keptVNFs

	return nil
}

// referencesUpdated reports whether the rule touches any endpoint of the
// updated set, on either side.
func referencesUpdated(fr *nffg.FlowRule, updated map[string]bool) bool {
	if fr.Match != nil {
		if gid := nffg.EndpointIDFromRef(fr.Match.PortIn); gid != "" && updated[gid] {
			return true
		}
	}
	for _, a := range fr.Actions {
		if a.Output == "" {
			continue
		}
		if gid := nffg.EndpointIDFromRef(a.Output); gid != "" && updated[gid] {
			return true
		}
	}
	return false
}
