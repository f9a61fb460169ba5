// Package topology keeps a cached view of the controller's switch inventory
// and answers the port and path queries flow synthesis needs.
package topology

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dorch-network/dorch/pkg/dorch/controller"
	"github.com/dorch-network/dorch/pkg/util"
)

// Provider answers topology queries from a snapshot of the controller
// inventory. Refresh replaces the snapshot; the realiser refreshes once per
// realisation attempt so every path decision within one session sees the
// same topology. Ports are fetched lazily per switch and cached until the
// next Refresh or InvalidatePorts.
type Provider struct {
	client            controller.Client
	useInterfaceNames bool

	mu       sync.RWMutex
	devices  []controller.Device
	links    []controller.Link
	ports    map[string][]controller.Port
	adjacent map[string][]string
}

// New returns a Provider reading from client. With useInterfaceNames the
// graph addresses ports by their device interface names and PortNumber
// translates them; without it the graph already carries port numbers.
func New(client controller.Client, useInterfaceNames bool) *Provider {
	return &Provider{
		client:            client,
		useInterfaceNames: useInterfaceNames,
		ports:             map[string][]controller.Port{},
	}
}

// Refresh pulls a fresh device and link snapshot and drops cached ports.
func (p *Provider) Refresh(ctx context.Context) error {
	devices, err := p.client.Devices(ctx)
	if err != nil {
		return err
	}
	links, err := p.client.Links(ctx)
	if err != nil {
		return err
	}

	adjacent := map[string][]string{}
	for _, l := range links {
		adjacent[l.Src.Device] = append(adjacent[l.Src.Device], l.Dst.Device)
	}
	// Sorted, deduplicated neighbours keep path search deterministic.
	for node := range adjacent {
		sort.Strings(adjacent[node])
		adjacent[node] = dedupe(adjacent[node])
	}

	p.mu.Lock()
	p.devices = devices
	p.links = links
	p.adjacent = adjacent
	p.ports = map[string][]controller.Port{}
	p.mu.Unlock()

	util.Logger.Debugf("topology refreshed: %d devices, %d links", len(devices), len(links))
	return nil
}

// Snapshot returns copies of the cached devices and links.
func (p *Provider) Snapshot() ([]controller.Device, []controller.Link) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	devices := make([]controller.Device, len(p.devices))
	copy(devices, p.devices)
	links := make([]controller.Link, len(p.links))
	copy(links, p.links)
	return devices, links
}

// PortNumber resolves an endpoint interface to the controller port number
// used in flow matches. Without interface-name mode the value passes
// through unchanged.
func (p *Provider) PortNumber(ctx context.Context, switchID, iface string) (string, error) {
	if !p.useInterfaceNames {
		return iface, nil
	}
	ports, err := p.switchPorts(ctx, switchID)
	if err != nil {
		return "", err
	}
	for _, port := range ports {
		if port.Name == iface {
			return port.Number, nil
		}
	}
	return "", fmt.Errorf("%w: no port named %s on switch %s", util.ErrNotFound, iface, switchID)
}

// InvalidatePorts drops the cached ports of one switch. Needed after a GRE
// port is created so the new bridge port becomes visible.
func (p *Provider) InvalidatePorts(switchID string) {
	p.mu.Lock()
	delete(p.ports, switchID)
	p.mu.Unlock()
}

func (p *Provider) switchPorts(ctx context.Context, switchID string) ([]controller.Port, error) {
	p.mu.RLock()
	ports, ok := p.ports[switchID]
	p.mu.RUnlock()
	if ok {
		return ports, nil
	}

	ports, err := p.client.DevicePorts(ctx, switchID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.ports[switchID] = ports
	p.mu.Unlock()
	return ports, nil
}

// SwitchPortOut returns the port on hopA that faces hopB.
func (p *Provider) SwitchPortOut(hopA, hopB string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, l := range p.links {
		if l.Src.Device == hopA && l.Dst.Device == hopB {
			return l.Src.Port, true
		}
	}
	// Some controllers report a link in one direction only.
	for _, l := range p.links {
		if l.Src.Device == hopB && l.Dst.Device == hopA {
			return l.Dst.Port, true
		}
	}
	return "", false
}

// SwitchPortIn returns the port on hopB that faces hopA.
func (p *Provider) SwitchPortIn(hopB, hopA string) (string, bool) {
	return p.SwitchPortOut(hopB, hopA)
}

// ShortestPath returns the switch sequence from src to dst, both included.
// Unweighted breadth-first search; neighbours expand in ascending switch-id
// order so equal-length paths always resolve the same way. Returns nil when
// dst is unreachable.
func (p *Provider) ShortestPath(src, dst string) []string {
	if src == dst {
		return []string{src}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	visited := map[string]bool{src: true}
	parent := map[string]string{}
	queue := []string{src}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range p.adjacent[node] {
			if visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = node
			if next == dst {
				return buildPath(parent, src, dst)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func buildPath(parent map[string]string, src, dst string) []string {
	path := []string{dst}
	for at := dst; at != src; {
		at = parent[at]
		path = append(path, at)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
