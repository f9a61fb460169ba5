// Package controller defines the client surface the orchestrator uses to
// drive an SDN controller. Two dialects implement it: onos and odl. The
// realiser only ever talks to the Client interface, so switching controller
// is a configuration change, not a code change.
package controller

import (
	"context"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
)

// Client is the south-bound adapter to one network controller instance.
//
// All methods honour ctx cancellation. Read-only calls may retry on
// transient failures; mutating calls are issued exactly once and surface
// a *util.ControllerError on any non-2xx answer.
type Client interface {
	// Devices lists the switches the controller currently manages.
	Devices(ctx context.Context) ([]Device, error)

	// Links lists the unidirectional inter-switch links.
	Links(ctx context.Context) ([]Link, error)

	// DevicePorts lists the ports of one switch, including the
	// human-readable interface names.
	DevicePorts(ctx context.Context, switchID string) ([]Port, error)

	// CreateFlow installs one OpenFlow rule on a switch and returns the
	// handle needed to delete it later. The handle is dialect specific:
	// an ONOS flow id, or the flow name itself for OpenDaylight.
	CreateFlow(ctx context.Context, switchID, name string, rule *nffg.FlowRule) (string, error)

	// DeleteFlow removes a previously installed rule by its handle.
	DeleteFlow(ctx context.Context, switchID, handle string) error

	// ActivateApp starts the controller application implementing a VNF.
	ActivateApp(ctx context.Context, name string) error

	// DeactivateApp stops a controller application.
	DeactivateApp(ctx context.Context, name string) error

	// IsAppActive reports whether a controller application has reached
	// its running state.
	IsAppActive(ctx context.Context, name string) (bool, error)

	// PushAppConfiguration sends a configuration document to a running
	// controller application.
	PushAppConfiguration(ctx context.Context, name string, cfg map[string]interface{}) error

	// Capabilities queries the capability registry application for the
	// network functions this controller can instantiate.
	Capabilities(ctx context.Context, appName string) ([]Capability, error)

	// AddPort attaches a physical interface to a bridge through the
	// controller's OVSDB integration.
	AddPort(ctx context.Context, bridge, port string) error

	// AddGreTunnel creates a GRE port on a bridge and returns nothing;
	// the caller learns the resulting bridge port through DevicePorts.
	AddGreTunnel(ctx context.Context, bridge, port, localIP, remoteIP, greKey string) error

	// DeleteGreTunnel removes a GRE port from a bridge.
	DeleteGreTunnel(ctx context.Context, bridge, port string) error
}

// Device is one switch in the controller inventory.
type Device struct {
	ID        string `json:"id"`
	Type      string `json:"type,omitempty"`
	Available bool   `json:"available"`
}

// ConnectPoint identifies one end of a link as (switch, port number).
type ConnectPoint struct {
	Device string `json:"device"`
	Port   string `json:"port"`
}

// Link is a unidirectional connection between two switch ports.
type Link struct {
	Src   ConnectPoint `json:"src"`
	Dst   ConnectPoint `json:"dst"`
	Type  string       `json:"type,omitempty"`
	State string       `json:"state,omitempty"`
}

// Port is one switch port. Number is the controller-side port number used
// in flow matches; Name is the interface name seen on the device.
type Port struct {
	Number  string `json:"port"`
	Name    string `json:"name,omitempty"`
	Enabled bool   `json:"isEnabled"`
}

// Capability is one network function the controller can realise, as
// reported by the capability registry application. Type is the functional
// capability it implements (firewall, nat, ...); Name is the controller
// application providing it.
type Capability struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}
