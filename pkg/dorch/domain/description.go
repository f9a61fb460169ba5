// Package domain maintains the domain description: the JSON document
// advertising this domain's interfaces, free VLANs and network function
// capabilities to the upper orchestration layers.
//
// The description starts from a hand-written template file. After every
// successful realisation the orchestrator refreshes the computed parts
// (free VLAN sets) and atomically rewrites the dynamic copy, which is
// what other orchestrators actually read.
package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dorch-network/dorch/pkg/util"
)

// Document is the description file payload.
type Document struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Type              string       `json:"type,omitempty"`
	ManagementAddress string       `json:"management-address,omitempty"`
	Interfaces        []*Interface `json:"interfaces"`
	Capabilities      Capabilities `json:"capabilities"`
}

// Interface is one advertised attachment point: a port of one of the
// domain's switches that external traffic may enter or leave through.
type Interface struct {
	Node      string `json:"node"`
	Name      string `json:"name"`
	Side      string `json:"side,omitempty"`
	Gre       bool   `json:"gre,omitempty"`
	FreeVlans string `json:"free-vlans,omitempty"`
}

// Capabilities groups what the domain can do beyond plain forwarding.
type Capabilities struct {
	Functional []*FunctionalCapability `json:"functional-capabilities"`
}

// FunctionalCapability maps a network function type to the controller
// application implementing it.
type FunctionalCapability struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// VlanUsageSource yields the VLAN ids currently recorded on a switch port.
// *store.Store satisfies it.
type VlanUsageSource interface {
	UsedVlansOn(ctx context.Context, switchID, port string) ([]int, error)
}

// PortResolver maps an interface name to the controller port number.
// *topology.Provider satisfies it.
type PortResolver interface {
	PortNumber(ctx context.Context, switchID, iface string) (string, error)
}

// Description owns the document and serialises every read and write.
type Description struct {
	mu          sync.Mutex
	dynamicPath string
	vlanRanges  []util.VlanRange
	doc         *Document
}

// Load reads the description template and prepares the dynamic copy at
// dynamicPath. The template is the source of truth on every start; runtime
// state (free VLANs, capability readiness) is recomputed, not carried over.
func Load(templatePath, dynamicPath string, vlanRanges []util.VlanRange) (*Description, error) {
	data, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("reading domain description template: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing domain description template: %w", err)
	}

	return &Description{
		dynamicPath: dynamicPath,
		vlanRanges:  vlanRanges,
		doc:         &doc,
	}, nil
}

// CheckEndpoint reports whether (node, interface) is one of the domain's
// advertised attachment points. Graph endpoints referring to anything else
// are rejected during validation.
func (d *Description) CheckEndpoint(node, iface string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, in := range d.doc.Interfaces {
		if in.Node == node && in.Name == iface {
			return true
		}
	}
	return false
}

// HasCapability reports whether the domain offers the functional
// capability, compared case-insensitively.
func (d *Description) HasCapability(capability string) bool {
	_, ok := d.ApplicationNameFor(capability)
	return ok
}

// ApplicationNameFor returns the controller application implementing the
// functional capability, compared case-insensitively.
func (d *Description) ApplicationNameFor(capability string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	want := strings.ToLower(capability)
	for _, fc := range d.doc.Capabilities.Functional {
		if strings.ToLower(fc.Type) == want {
			return fc.Name, true
		}
	}
	return "", false
}

// CapabilityTypes returns the advertised functional capability types,
// lowercased.
func (d *Description) CapabilityTypes() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	types := make([]string, 0, len(d.doc.Capabilities.Functional))
	for _, fc := range d.doc.Capabilities.Functional {
		types = append(types, strings.ToLower(fc.Type))
	}
	return types
}

// MergeCapability records a capability reported by the controller's
// registry application. A matching type updates the template entry;
// an unknown type is appended.
func (d *Description) MergeCapability(ctype, name string, ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, fc := range d.doc.Capabilities.Functional {
		if strings.EqualFold(fc.Type, ctype) {
			if name != "" {
				fc.Name = name
			}
			fc.Ready = ready
			return
		}
	}
	d.doc.Capabilities.Functional = append(d.doc.Capabilities.Functional,
		&FunctionalCapability{Type: ctype, Name: name, Ready: ready})
}

// UpdateAll recomputes the free VLAN set of every advertised interface:
// the configured ranges minus whatever the store has recorded in use on
// that port. Interface names are resolved to controller port numbers when
// a resolver is given; resolution failures fall back to the raw name.
func (d *Description) UpdateAll(ctx context.Context, usage VlanUsageSource, ports PortResolver) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, in := range d.doc.Interfaces {
		if in.Node == "" {
			continue
		}
		port := in.Name
		if ports != nil {
			resolved, err := ports.PortNumber(ctx, in.Node, in.Name)
			if err == nil && resolved != "" {
				port = resolved
			} else if err != nil {
				util.WithSwitch(in.Node).Debugf("interface %s not resolvable, keeping name: %v", in.Name, err)
			}
		}

		used, err := usage.UsedVlansOn(ctx, in.Node, port)
		if err != nil {
			return err
		}
		in.FreeVlans = freeVlans(d.vlanRanges, used)
	}
	return nil
}

// Export marshals the current document.
func (d *Description) Export() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.MarshalIndent(d.doc, "", "  ")
}

// Save atomically rewrites the dynamic copy (temp file + rename).
func (d *Description) Save() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.MarshalIndent(d.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling domain description: %w", err)
	}
	data = append(data, '\n')

	// Temp file in the same directory keeps the rename atomic.
	dir := filepath.Dir(d.dynamicPath)
	tmp, err := os.CreateTemp(dir, "description-*.json.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, d.dynamicPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// freeVlans renders the configured ranges minus the used ids in range
// notation.
func freeVlans(ranges []util.VlanRange, used []int) string {
	busy := make(map[int]bool, len(used))
	for _, vid := range used {
		busy[vid] = true
	}

	var free []int
	for _, r := range ranges {
		for vid := r.Lo; vid <= r.Hi; vid++ {
			if !busy[vid] {
				free = append(free, vid)
			}
		}
	}
	return util.CompactRange(free)
}
