package realizer

import (
	"context"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/util"
)

// DeleteGraph tears down everything the session deployed: endpoints with
// their GRE ports and flows, leftover flows, then the VNFs with their
// applications. Items keep falling even when one fails, to free as much
// as possible; the first failure is still reported and the rows it
// concerns stay in the store. Session status is the caller's business.
func (r *Realizer) DeleteGraph(ctx context.Context, sessionID string) error {
	log := util.WithSession(sessionID)
	var firstErr error
	keep := func(err error) {
		if err != nil {
			log.Errorf("teardown: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	endpoints, err := r.store.EndpointsBySession(ctx, sessionID)
	keep(err)
	for _, ep := range endpoints {
		keep(r.deleteEndpointRow(ctx, ep.ID))
	}

	flows, err := r.store.FlowsBySession(ctx, sessionID)
	keep(err)
	for _, fr := range flows {
		keep(r.deleteStoredFlow(ctx, fr))
	}

	vnfs, err := r.store.VNFsBySession(ctx, sessionID)
	keep(err)
	for _, vnf := range vnfs {
		keep(r.deactivateApp(ctx, vnf.ApplicationName))
		keep(r.store.DeleteVNF(ctx, vnf.ID))
	}

	return firstErr
}

// deleteStoredFlow removes one stored flow row. External rows also leave
// the switch first; when that fails the row stays put, so a later retry
// still knows the controller handle.
func (r *Realizer) deleteStoredFlow(ctx context.Context, fr *store.FlowRule) error {
	if fr.Type == store.FlowRuleExternal && !r.opts.DetachedMode {
		err := r.client.DeleteFlow(ctx, fr.SwitchID, fr.InternalID)
		switch {
		case err == nil:
			util.WithSwitch(fr.SwitchID).Infof("removed flow %s", fr.InternalID)
		case util.IsControllerNotFound(err):
			util.WithSwitch(fr.SwitchID).Debugf("flow %s already gone", fr.InternalID)
		default:
			return err
		}
	}
	return r.store.DeleteFlowRule(ctx, fr.ID)
}

func (r *Realizer) deleteFlowsByGraphRule(ctx context.Context, sessionID, graphRuleID string) error {
	rows, err := r.store.FlowsByGraphRule(ctx, sessionID, graphRuleID)
	if err != nil {
		return err
	}
	for _, fr := range rows {
		if err := r.deleteStoredFlow(ctx, fr); err != nil {
			return err
		}
	}
	return nil
}

// deleteEndpointRow removes a stored endpoint and everything hanging off
// it: the GRE port for tunnel endpoints, then each linked resource, then
// the endpoint itself.
func (r *Realizer) deleteEndpointRow(ctx context.Context, endpointID int64) error {
	ep, err := r.store.EndpointByID(ctx, endpointID)
	if err != nil {
		return err
	}
	if ep == nil {
		return nil
	}

	if ep.Type == nffg.EndpointTypeGreTunnel {
		if err := r.removeGrePort(ctx, endpointID); err != nil {
			return err
		}
	}

	resources, err := r.store.EndpointResources(ctx, endpointID)
	if err != nil {
		return err
	}
	for _, res := range resources {
		switch res.ResourceType {
		case store.ResourceFlowRule:
			fr, err := r.store.FlowRuleByID(ctx, res.ResourceID)
			if err != nil {
				return err
			}
			if fr == nil {
				continue
			}
			if err := r.deleteStoredFlow(ctx, fr); err != nil {
				return err
			}
		case store.ResourcePort:
			if err := r.store.DeletePort(ctx, res.ResourceID); err != nil {
				return err
			}
		}
	}
	return r.store.DeleteEndpoint(ctx, endpointID)
}

func (r *Realizer) removeGrePort(ctx context.Context, endpointID int64) error {
	port, err := r.store.PortForEndpoint(ctx, endpointID)
	if err != nil {
		return err
	}
	if port == nil {
		return nil
	}
	if !r.opts.DetachedMode {
		err := r.client.DeleteGreTunnel(ctx, r.opts.GreBridge, port.GraphPortID)
		if err != nil && !util.IsControllerNotFound(err) {
			return err
		}
	}
	util.WithSwitch(port.SwitchID).Infof("removed gre port %s", port.GraphPortID)
	return nil
}

func (r *Realizer) deactivateApp(ctx context.Context, name string) error {
	if name == "" || r.opts.DetachedMode {
		return nil
	}
	err := r.client.DeactivateApp(ctx, name)
	if err != nil && !util.IsControllerNotFound(err) {
		return err
	}
	util.Logger.WithField("app", name).Infof("application deactivated")
	return nil
}
