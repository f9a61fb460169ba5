package realizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

// appPollInterval paces the wait for a freshly activated application to
// come up on the controller.
const appPollInterval = 100 * time.Millisecond

var errAppNotActive = errors.New("application not active yet")

// ActivateApplications realises the graph's VNFs. Each new detached VNF
// maps to a controller application which is activated, awaited and then
// configured with the ports its flows touch. VNFs flagged for update
// only get their port configuration pushed again. VNFs wired to other
// VNFs have no realisation on this domain.
func (r *Realizer) ActivateApplications(ctx context.Context, sessionID, userID string, profile *nffg.ProfileGraph) error {
	for _, vnf := range profile.DetachedVNFs() {
		switch {
		case isNew(vnf.Status):
			appName, ok := r.caps.ApplicationNameFor(vnf.FunctionalCapability)
			if !ok {
				return &util.CapabilityError{Vnf: vnf.ID, Capability: vnf.FunctionalCapability}
			}
			if err := r.activateVNF(ctx, sessionID, userID, profile, vnf, appName); err != nil {
				return err
			}

		case vnf.Status == nffg.StatusToBeUpdated:
			row, err := r.store.VNFByGraphID(ctx, sessionID, vnf.ID)
			if err != nil {
				return err
			}
			if row == nil {
				util.WithSession(sessionID).Warnf("vnf %s flagged for update but never stored", vnf.ID)
				continue
			}
			if err := r.configureVNFPorts(ctx, profile, vnf, row.ApplicationName); err != nil {
				return err
			}
		}
	}

	if len(profile.AttachedVNFs()) != 0 {
		return fmt.Errorf("%w: flows between two vnfs", util.ErrUnsupportedFeature)
	}
	return nil
}

func (r *Realizer) activateVNF(ctx context.Context, sessionID, userID string,
	profile *nffg.ProfileGraph, vnf *nffg.VNF, appName string) error {

	log := util.WithSession(sessionID).WithField("app", appName)
	if !r.opts.DetachedMode {
		if err := r.client.ActivateApp(ctx, appName); err != nil {
			return err
		}
		if err := r.waitForApp(ctx, appName); err != nil {
			return err
		}
	}
	log.Infof("application active for vnf %s", vnf.ID)

	if err := r.configureVNFPorts(ctx, profile, vnf, appName); err != nil {
		return err
	}

	if r.opts.InitialConfiguration && !r.opts.DetachedMode {
		cfg := map[string]interface{}{
			"nf-id": map[string]interface{}{
				"user-id":  userID,
				"graph-id": profile.Graph().ID,
				"nf-id":    vnf.ID,
			},
		}
		if err := r.client.PushAppConfiguration(ctx, appName, cfg); err != nil {
			return err
		}
		log.Debugf("initial configuration pushed")
	}
	return nil
}

// waitForApp polls the controller until the application reports active.
// Activation is asynchronous on ONOS; flows pushed too early vanish.
func (r *Realizer) waitForApp(ctx context.Context, name string) error {
	operation := func() error {
		active, err := r.client.IsAppActive(ctx, name)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !active {
			return errAppNotActive
		}
		return nil
	}
	return backoff.Retry(operation,
		backoff.WithContext(backoff.NewConstantBackOff(appPollInterval), ctx))
}

// configureVNFPorts tells the application where its traffic attaches:
// for every flow leaving a port of the VNF towards an endpoint, the
// endpoint's switch, port number, VLAN and the flow's priority.
func (r *Realizer) configureVNFPorts(ctx context.Context, profile *nffg.ProfileGraph,
	vnf *nffg.VNF, appName string) error {

	type binding struct {
		ep       *nffg.Endpoint
		priority int
	}
	bindings := make(map[string]binding)
	for _, flow := range profile.FlowsFromVNF(vnf) {
		ref := nffg.VNFRefFromString(flow.Match.PortIn)
		for _, a := range flow.Actions {
			if a.Output == "" {
				continue
			}
			ep := profile.Endpoint(nffg.EndpointIDFromRef(a.Output))
			if ep == nil {
				continue
			}
			bindings[ref.PortID] = binding{ep: ep, priority: flow.Priority}
		}
	}

	ports := make(map[string]interface{}, len(bindings))
	for portID, b := range bindings {
		num, err := r.topo.PortNumber(ctx, b.ep.NodeID(), b.ep.InterfaceName())
		if err != nil {
			return err
		}
		var externalVlan interface{}
		if v := b.ep.VlanID(); v != "" {
			externalVlan = v
		}
		ports[portID] = map[string]interface{}{
			"device-id":     b.ep.NodeID(),
			"port-number":   num,
			"external-vlan": externalVlan,
			"flow-priority": b.priority,
		}
	}

	if r.opts.DetachedMode {
		return nil
	}
	return r.client.PushAppConfiguration(ctx, appName, map[string]interface{}{"ports": ports})
}
