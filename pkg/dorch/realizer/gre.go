package realizer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

// SetupTunnels creates the GRE ports for the graph's tunnel endpoints and
// rebinds each endpoint to its port on the GRE bridge, so the rest of the
// realisation treats them like any other interface endpoint. Endpoints
// already deployed keep their port and are only rebound.
func (r *Realizer) SetupTunnels(ctx context.Context, g *nffg.NFFG) error {
	for _, ep := range g.EndPoints {
		if ep.Type != nffg.EndpointTypeGreTunnel {
			continue
		}
		dbID, err := strconv.ParseInt(ep.DBID, 10, 64)
		if err != nil {
			return util.NewStorageError("setup gre tunnel",
				fmt.Errorf("endpoint %s was never stored", ep.ID))
		}
		port, err := r.store.PortForEndpoint(ctx, dbID)
		if err != nil {
			return err
		}
		if port == nil {
			return util.NewStorageError("setup gre tunnel",
				fmt.Errorf("endpoint %s has no stored port", ep.ID))
		}

		if isNew(ep.Status) && !r.opts.DetachedMode {
			err := r.client.AddGreTunnel(ctx, r.opts.GreBridge, port.GraphPortID,
				ep.GreTunnel.LocalIP, ep.GreTunnel.RemoteIP, ep.GreTunnel.GreKey)
			if err != nil {
				return err
			}
		}
		util.WithSwitch(port.SwitchID).Infof("gre port %s bound to endpoint %s", port.GraphPortID, ep.ID)

		ep.BindInterface(port.SwitchID, port.GraphPortID)
		r.topo.InvalidatePorts(port.SwitchID)
	}
	return nil
}
