package realizer

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/dorch/store"
	"github.com/dorch-network/dorch/pkg/util"
)

// ============================================================================
// Graph installation
// ============================================================================

// InstallFlows realises every new endpoint-to-endpoint rule of the graph
// on the data plane. Rules steering traffic into a VNF are left alone:
// the application implementing the VNF takes care of its own traffic
// once its ports are configured.
func (r *Realizer) InstallFlows(ctx context.Context, sessionID string, profile *nffg.ProfileGraph) error {
	for _, rule := range profile.EndpointFlowRules() {
		if !isNew(rule.Status) {
			continue
		}
		if out := rule.OutputAction(); out != nil && nffg.VNFRefFromString(out.Output) != nil {
			continue
		}
		if err := r.processRule(ctx, sessionID, profile, rule); err != nil {
			return err
		}
	}
	return nil
}

func (r *Realizer) processRule(ctx context.Context, sessionID string, profile *nffg.ProfileGraph, rule *nffg.FlowRule) error {
	epIn := profile.Endpoint(nffg.EndpointIDFromRef(rule.Match.PortIn))
	if epIn == nil {
		return util.NewGraphError("flow rule %s has an unknown ingress endpoint", rule.ID)
	}

	// Traffic of a VLAN endpoint is selected by its tag, whatever the
	// rule's own match says.
	if epIn.Type == nffg.EndpointTypeVlan {
		rule.Match.VlanID = epIn.VlanID()
	}

	portIn, err := r.topo.PortNumber(ctx, epIn.NodeID(), epIn.InterfaceName())
	if err != nil {
		return err
	}
	if err := r.checkIngress(ctx, epIn, portIn, rule); err != nil {
		return err
	}

	if rule.DropAction() {
		return r.installDrop(ctx, sessionID, epIn, portIn, rule)
	}

	var epOut *nffg.Endpoint
	if out := rule.OutputAction(); out != nil {
		epOut = profile.Endpoint(nffg.EndpointIDFromRef(out.Output))
	}
	if epOut == nil {
		return util.NewGraphError("flow rule %s has an invalid egress endpoint", rule.ID)
	}
	if epIn.NodeID() == epOut.NodeID() && epIn.InterfaceName() == epOut.InterfaceName() {
		return util.NewGraphError("flow rule %s is wrong: endpoints are overlapping", rule.ID)
	}

	portOut, err := r.topo.PortNumber(ctx, epOut.NodeID(), epOut.InterfaceName())
	if err != nil {
		return err
	}

	path := []string{epIn.NodeID()}
	if epIn.NodeID() != epOut.NodeID() {
		path = r.topo.ShortestPath(epIn.NodeID(), epOut.NodeID())
		if path == nil {
			return &util.NoPathError{Src: epIn.NodeID(), Dst: epOut.NodeID()}
		}
		if !r.pathAvoidsEndpoints(path, portIn, portOut) {
			util.WithSession(sessionID).Debugf(
				"flow rule %s: path between %s and %s runs through an endpoint port, nothing to install",
				rule.ID, epIn.NodeID(), epOut.NodeID())
			return nil
		}
	}
	util.WithSession(sessionID).Debugf("flow rule %s: path %v", rule.ID, path)

	return r.linkEndpoints(ctx, sessionID, path, epIn, epOut, rule, portIn, portOut)
}

// checkIngress rejects rules whose ingress port cannot take another
// flow: a port already carrying untagged endpoint traffic is exclusive,
// and an identical deployed match on the same port would shadow this one
// or be shadowed by it.
func (r *Realizer) checkIngress(ctx context.Context, epIn *nffg.Endpoint, portIn string, rule *nffg.FlowRule) error {
	busy, err := r.store.IsDirectEndpoint(ctx, epIn.NodeID(), portIn)
	if err != nil {
		return err
	}
	if busy {
		return util.NewGraphError("the ingress endpoint %s is a busy direct endpoint", epIn.ID)
	}

	m := rule.Match.Copy()
	m.PortIn = portIn
	existing, err := r.store.FlowOnSwitch(ctx, epIn.NodeID(), &nffg.FlowRule{Priority: rule.Priority, Match: m})
	if err != nil {
		return err
	}
	if existing != nil {
		return util.NewGraphError(
			"flow rule %s collides with another flow rule on the ingress port (ingress endpoint %s)",
			rule.ID, epIn.ID)
	}
	return nil
}

// pathAvoidsEndpoints rejects paths that enter or leave through the very
// ports the endpoints sit on; such flows would capture the transport
// links themselves.
func (r *Realizer) pathAvoidsEndpoints(path []string, portIn, portOut string) bool {
	if len(path) < 2 {
		return true
	}
	if p, ok := r.topo.SwitchPortIn(path[0], path[1]); ok && p == portIn {
		return false
	}
	last := len(path) - 1
	if p, ok := r.topo.SwitchPortIn(path[last], path[last-1]); ok && p == portOut {
		return false
	}
	return true
}

// installDrop realises a dropping rule as a single flow on the ingress
// switch; nothing ever leaves it, so no path is needed.
func (r *Realizer) installDrop(ctx context.Context, sessionID string, epIn *nffg.Endpoint, portIn string, rule *nffg.FlowRule) error {
	m := rule.Match.Copy()
	m.PortIn = portIn
	return r.pushExternal(ctx, sessionID, &externalFlow{
		switchID: epIn.NodeID(),
		name:     rule.ID + "_1",
		rule: &nffg.FlowRule{
			ID:       rule.ID,
			Priority: rule.Priority,
			Match:    m,
			Actions:  []*nffg.Action{{Drop: true}},
		},
		usage: &store.VlanUsage{PortIn: portIn, VlanIn: vlanPtr(m.VlanID)},
	})
}

// ============================================================================
// Path transform
// ============================================================================

// Position of a hop on its path.
const (
	posSingle = -2 // the only switch, both endpoints attach here
	posFirst  = -1
	posMiddle = 0
	posLast   = 1
)

func hopPosition(i, pathLen int) int {
	switch {
	case pathLen == 1:
		return posSingle
	case i == 0:
		return posFirst
	case i == pathLen-1:
		return posLast
	default:
		return posMiddle
	}
}

// linkEndpoints expands one logical rule into one external flow per hop.
// Each hop's match selects the traffic as it arrives there; the actions
// rewrite the VLAN stack for the next leg. The first hop strips the
// endpoint tag and pushes the transport tag, middle hops rewrite it when
// the next link needs a different id, the last hop pops it and rebuilds
// the service and endpoint tags. A single-switch path never tags.
func (r *Realizer) linkEndpoints(ctx context.Context, sessionID string, path []string,
	epIn, epOut *nffg.Endpoint, rule *nffg.FlowRule, portIn, portOut string) error {

	base, pushOut, setOut, popFlag := splitActions(rule.Actions)

	// carrier is the transport tag the traffic wears between switches,
	// zero before the first link.
	carrier := 0
	for i, hop := range path {
		pos := hopPosition(i, len(path))

		hopIn := portIn
		if pos == posMiddle || pos == posLast {
			p, ok := r.topo.SwitchPortIn(hop, path[i-1])
			if !ok {
				return &util.NoPathError{Src: path[i-1], Dst: hop}
			}
			hopIn = p
		}
		hopOut := portOut
		if pos == posFirst || pos == posMiddle {
			p, ok := r.topo.SwitchPortOut(hop, path[i+1])
			if !ok {
				return &util.NoPathError{Src: hop, Dst: path[i+1]}
			}
			hopOut = p
		}

		m := rule.Match.Copy()
		m.PortIn = hopIn
		if carrier != 0 {
			m.VlanID = strconv.Itoa(carrier)
		}

		// The tag for the next link is allocated on the downstream
		// switch, keeping the current one when it is still free there.
		transport := carrier
		if pos == posFirst || pos == posMiddle {
			next := path[i+1]
			nextIn, ok := r.topo.SwitchPortIn(next, hop)
			if !ok {
				return &util.NoPathError{Src: hop, Dst: next}
			}
			vid, err := r.vlans.FreeVlan(ctx, next, nextIn, rule.Match, carrier)
			if err != nil {
				return err
			}
			if vid == 0 {
				return util.NewGraphError("no free vlan ids on switch %s", next)
			}
			transport = vid
		}

		actions := r.hopActions(pos, epIn, epOut, base, pushOut, setOut, popFlag, transport)
		actions = append(actions, &nffg.Action{Output: hopOut})

		err := r.pushExternal(ctx, sessionID, &externalFlow{
			switchID: hop,
			name:     fmt.Sprintf("%s_%d", rule.ID, i),
			rule:     &nffg.FlowRule{ID: rule.ID, Priority: rule.Priority, Match: m, Actions: actions},
			usage: &store.VlanUsage{
				PortIn:  hopIn,
				VlanIn:  vlanPtr(m.VlanID),
				PortOut: hopOut,
				VlanOut: egressVlan(actions, m.VlanID),
			},
		})
		if err != nil {
			return err
		}
		carrier = transport
	}
	return nil
}

// hopActions builds the VLAN rewrite for one hop. transport is the tag
// the traffic must wear when leaving towards the next switch; it is
// meaningless on the last hop of a path and on single-switch paths.
func (r *Realizer) hopActions(pos int, epIn, epOut *nffg.Endpoint,
	base []*nffg.Action, pushOut, setOut string, popFlag bool, transport int) []*nffg.Action {

	if r.opts.Jolnet {
		return jolnetHopActions(pos, epOut, base, setOut, transport)
	}

	var actions []*nffg.Action
	first := pos == posFirst || pos == posSingle
	last := pos == posLast || pos == posSingle

	if first {
		// Strip what arrives tagged: the endpoint tag, then whatever
		// the rule itself asked to pop.
		if epIn.Type == nffg.EndpointTypeVlan {
			actions = append(actions, &nffg.Action{PopVlan: true})
		}
		if popFlag {
			actions = append(actions, &nffg.Action{PopVlan: true})
		}
	}

	switch pos {
	case posFirst:
		actions = append(actions, &nffg.Action{PushVlan: strconv.Itoa(transport)})
	case posMiddle:
		actions = append(actions, &nffg.Action{SetVlanID: strconv.Itoa(transport)})
	case posLast:
		actions = append(actions, &nffg.Action{PopVlan: true})
	}

	if last {
		actions = append(actions, copyActions(base)...)
		if pushOut != "" {
			actions = append(actions, &nffg.Action{PushVlan: pushOut})
		}
		if setOut != "" {
			actions = append(actions, &nffg.Action{SetVlanID: setOut})
		}
		if epOut.Type == nffg.EndpointTypeVlan {
			actions = append(actions, &nffg.Action{PushVlan: epOut.VlanID()})
		}
	}
	return actions
}

// jolnetHopActions is the variant for networks whose switches only
// rewrite tags. Traffic is expected to arrive tagged already; pushes and
// pops never appear, the transport tag is set in place of the current
// one and the egress tag is set back at the end.
func jolnetHopActions(pos int, epOut *nffg.Endpoint, base []*nffg.Action, setOut string, transport int) []*nffg.Action {
	var actions []*nffg.Action
	switch pos {
	case posFirst, posMiddle:
		actions = append(actions, &nffg.Action{SetVlanID: strconv.Itoa(transport)})
	case posLast, posSingle:
		actions = append(actions, copyActions(base)...)
		if setOut != "" {
			actions = append(actions, &nffg.Action{SetVlanID: setOut})
		}
		if epOut.Type == nffg.EndpointTypeVlan {
			actions = append(actions, &nffg.Action{SetVlanID: epOut.VlanID()})
		}
	}
	return actions
}

// splitActions partitions a rule's actions for the path transform: the
// service-tag rewrites are replayed at the edges of the path, everything
// else is carried to the last hop unchanged. Outputs are rebuilt per hop.
func splitActions(actions []*nffg.Action) (base []*nffg.Action, pushOut, setOut string, popFlag bool) {
	for _, a := range actions {
		switch {
		case a.Output != "":
		case a.PushVlan != "":
			pushOut = a.PushVlan
		case a.SetVlanID != "":
			setOut = a.SetVlanID
		case a.PopVlan:
			popFlag = true
		default:
			c := *a
			base = append(base, &c)
		}
	}
	return base, pushOut, setOut, popFlag
}

func copyActions(actions []*nffg.Action) []*nffg.Action {
	out := make([]*nffg.Action, 0, len(actions))
	for _, a := range actions {
		c := *a
		out = append(out, &c)
	}
	return out
}

// egressVlan derives the tag traffic wears when it leaves the hop, by
// replaying the action list over the tag the match selects. Nil means it
// leaves untagged.
func egressVlan(actions []*nffg.Action, matchVlan string) *int {
	var stack []string
	if matchVlan != "" {
		stack = []string{matchVlan}
	}
	for _, a := range actions {
		switch {
		case a.PopVlan:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case a.PushVlan != "":
			stack = append(stack, a.PushVlan)
		case a.SetVlanID != "":
			if len(stack) == 0 {
				stack = []string{a.SetVlanID}
			} else {
				stack[len(stack)-1] = a.SetVlanID
			}
		}
	}
	if len(stack) == 0 {
		return nil
	}
	return vlanPtr(stack[len(stack)-1])
}

// ============================================================================
// External flow push
// ============================================================================

// externalFlow is one synthesised per-switch flow about to be installed.
type externalFlow struct {
	switchID string
	name     string
	rule     *nffg.FlowRule
	usage    *store.VlanUsage
}

// pushExternal installs one synthesised flow: collision check, naming,
// controller push, store record with its VLAN tracking row, in that
// order. In detached mode the proposed name doubles as the controller
// handle.
func (r *Realizer) pushExternal(ctx context.Context, sessionID string, ext *externalFlow) error {
	existing, err := r.store.FlowOnSwitch(ctx, ext.switchID, ext.rule)
	if err != nil {
		return err
	}
	if existing != nil {
		return util.NewGraphError("cannot install flow rule %s: collision on switch %s",
			ext.name, ext.switchID)
	}

	name, err := r.resolveFlowName(ctx, ext)
	if err != nil {
		return err
	}

	handle := name
	if !r.opts.DetachedMode {
		handle, err = r.client.CreateFlow(ctx, ext.switchID, name, ext.rule)
		if err != nil {
			return err
		}
	}
	if _, err := r.store.AddExternalFlow(ctx, sessionID, ext.switchID, handle, ext.rule, ext.usage); err != nil {
		return err
	}
	util.WithSwitch(ext.switchID).Infof("new flow %s", name)
	return nil
}

// resolveFlowName keeps the proposed name unless a flow of the same rule
// already took it; then the first unused numeric suffix wins, filling
// gaps left by partial deletes. Suffixes are read back from the stored
// handles; handles the controller made opaque simply do not take part.
func (r *Realizer) resolveFlowName(ctx context.Context, ext *externalFlow) (string, error) {
	taken, err := r.store.ExternalFlowExists(ctx, ext.switchID, ext.name)
	if err != nil {
		return "", err
	}
	if !taken {
		return ext.name, nil
	}

	rows, err := r.store.ExternalFlowsByGraphRule(ctx, ext.switchID, ext.rule.ID)
	if err != nil {
		return "", err
	}
	prefix := ext.rule.ID + "_"
	var used []int
	for _, row := range rows {
		rest, ok := strings.CutPrefix(row.InternalID, prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(rest); err == nil {
			used = append(used, n)
		}
	}
	sort.Ints(used)

	current := 0
	for _, n := range used {
		if n-current >= 2 {
			break
		}
		current = n
	}
	return prefix + strconv.Itoa(current+1), nil
}
