// Package odl implements the controller client against OpenDaylight.
//
// Flow programming goes through the restconf config datastore of the
// OpenFlow plugin: flows are written by name, so the handle returned by
// CreateFlow is the flow name itself. Topology comes from the operational
// network-topology model, port inventory from opendaylight-inventory.
// Bridge plumbing uses the OVSDB southbound topology.
//
// OpenDaylight has no REST surface for application lifecycle, so the
// application methods fail with ErrUnsupportedFeature; domains that need
// VNF activation run ONOS.
package odl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/dorch-network/dorch/pkg/dorch/controller"
	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 2048

	// openflowPrefix marks switch nodes in the topology model; host
	// nodes from the host tracker are skipped.
	openflowPrefix = "openflow:"
)

// Options configures a Client.
type Options struct {
	Endpoint string
	Username string
	Password string

	// Version names the OpenDaylight release. The Hydrogen-era API is
	// not supported.
	Version string

	// OvsdbNodeIP and OvsdbNodePort identify the OVSDB server reachable
	// through the southbound plugin. Empty IP disables bridge plumbing.
	OvsdbNodeIP   string
	OvsdbNodePort int

	Timeout time.Duration
}

// Client is a controller.Client backed by an OpenDaylight instance.
type Client struct {
	endpoint  string
	username  string
	password  string
	version   string
	ovsdbNode string
	http      *http.Client
}

var _ controller.Client = (*Client)(nil)

// New returns a client for the OpenDaylight instance at opts.Endpoint.
func New(opts Options) (*Client, error) {
	if strings.EqualFold(opts.Version, "hydrogen") {
		return nil, fmt.Errorf("opendaylight version %q uses the pre-restconf API and is not supported", opts.Version)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	node := opts.OvsdbNodeIP
	if node != "" && opts.OvsdbNodePort > 0 {
		node = net.JoinHostPort(opts.OvsdbNodeIP, strconv.Itoa(opts.OvsdbNodePort))
	}
	return &Client{
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
		username:  opts.Username,
		password:  opts.Password,
		version:   opts.Version,
		ovsdbNode: node,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

// ============================================================
// Inventory
// ============================================================

type inventoryAnswer struct {
	Nodes struct {
		Node []inventoryNode `json:"node"`
	} `json:"nodes"`
}

type inventoryNode struct {
	ID         string          `json:"id"`
	Connectors []nodeConnector `json:"node-connector"`
}

type singleNodeAnswer struct {
	Node []inventoryNode `json:"node"`
}

type nodeConnector struct {
	ID         string      `json:"id"`
	PortNumber json.Number `json:"flow-node-inventory:port-number"`
	PortName   string      `json:"flow-node-inventory:port-name"`
	State      struct {
		LinkDown bool `json:"link-down"`
	} `json:"flow-node-inventory:state"`
}

// Devices lists the OpenFlow nodes in the operational inventory.
func (c *Client) Devices(ctx context.Context) ([]controller.Device, error) {
	var raw inventoryAnswer
	if err := c.getJSON(ctx, "get devices", "/restconf/operational/opendaylight-inventory:nodes", &raw); err != nil {
		return nil, err
	}
	devices := make([]controller.Device, 0, len(raw.Nodes.Node))
	for _, n := range raw.Nodes.Node {
		if !strings.HasPrefix(n.ID, openflowPrefix) {
			continue
		}
		// Presence in the operational datastore means the switch is
		// connected.
		devices = append(devices, controller.Device{ID: n.ID, Type: "SWITCH", Available: true})
	}
	return devices, nil
}

// DevicePorts lists the connectors of one switch.
func (c *Client) DevicePorts(ctx context.Context, switchID string) ([]controller.Port, error) {
	var raw singleNodeAnswer
	path := "/restconf/operational/opendaylight-inventory:nodes/node/" + url.PathEscape(switchID)
	if err := c.getJSON(ctx, "get device ports", path, &raw); err != nil {
		return nil, err
	}
	if len(raw.Node) == 0 {
		return nil, &util.ControllerError{Operation: "get device ports", StatusCode: http.StatusNotFound, Detail: "node " + switchID + " not in inventory"}
	}
	ports := make([]controller.Port, 0, len(raw.Node[0].Connectors))
	for _, conn := range raw.Node[0].Connectors {
		ports = append(ports, controller.Port{
			Number:  conn.PortNumber.String(),
			Name:    conn.PortName,
			Enabled: !conn.State.LinkDown,
		})
	}
	return ports, nil
}

type topologyAnswer struct {
	NetworkTopology struct {
		Topology []struct {
			TopologyID string `json:"topology-id"`
			Link       []struct {
				Source struct {
					SourceNode string `json:"source-node"`
					SourceTP   string `json:"source-tp"`
				} `json:"source"`
				Destination struct {
					DestNode string `json:"dest-node"`
					DestTP   string `json:"dest-tp"`
				} `json:"destination"`
			} `json:"link"`
		} `json:"topology"`
	} `json:"network-topology"`
}

// Links lists the switch-to-switch links from the operational topology.
// Host attachment points reported by the host tracker are skipped.
func (c *Client) Links(ctx context.Context) ([]controller.Link, error) {
	var raw topologyAnswer
	if err := c.getJSON(ctx, "get links", "/restconf/operational/network-topology:network-topology/", &raw); err != nil {
		return nil, err
	}
	var links []controller.Link
	for _, topo := range raw.NetworkTopology.Topology {
		for _, l := range topo.Link {
			if !strings.HasPrefix(l.Source.SourceNode, openflowPrefix) ||
				!strings.HasPrefix(l.Destination.DestNode, openflowPrefix) {
				continue
			}
			links = append(links, controller.Link{
				Src:   connectPoint(l.Source.SourceNode, l.Source.SourceTP),
				Dst:   connectPoint(l.Destination.DestNode, l.Destination.DestTP),
				State: "ACTIVE",
			})
		}
	}
	return links, nil
}

// connectPoint splits a termination point id like openflow:1:2 into its
// switch and port number.
func connectPoint(node, tp string) controller.ConnectPoint {
	port := tp
	if idx := strings.LastIndex(tp, ":"); idx >= 0 {
		port = tp[idx+1:]
	}
	return controller.ConnectPoint{Device: node, Port: port}
}

// ============================================================
// Flow programming
// ============================================================

// CreateFlow writes one rule into table 0 of the config datastore. The
// handle is the flow name: OpenDaylight addresses flows by name.
func (c *Client) CreateFlow(ctx context.Context, switchID, name string, rule *nffg.FlowRule) (string, error) {
	body := encodeFlow(switchID, name, rule)
	resp, err := c.do(ctx, "create flow", http.MethodPut, c.flowPath(switchID, name), body)
	if err != nil {
		return "", err
	}
	drain(resp)
	util.WithSwitch(switchID).Debugf("installed flow %s", name)
	return name, nil
}

// DeleteFlow removes a rule by name.
func (c *Client) DeleteFlow(ctx context.Context, switchID, handle string) error {
	resp, err := c.do(ctx, "delete flow", http.MethodDelete, c.flowPath(switchID, handle), nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

func (c *Client) flowPath(switchID, name string) string {
	return "/restconf/config/opendaylight-inventory:nodes/node/" + url.PathEscape(switchID) +
		"/table/0/flow/" + url.PathEscape(name)
}

// ============================================================
// Application lifecycle (unsupported)
// ============================================================

func (c *Client) appError(operation string) error {
	return fmt.Errorf("%w: opendaylight cannot %s, application lifecycle requires onos", util.ErrUnsupportedFeature, operation)
}

// ActivateApp always fails: OpenDaylight has no application REST API.
func (c *Client) ActivateApp(ctx context.Context, name string) error {
	return c.appError("activate application " + name)
}

// DeactivateApp always fails: OpenDaylight has no application REST API.
func (c *Client) DeactivateApp(ctx context.Context, name string) error {
	return c.appError("deactivate application " + name)
}

// IsAppActive always fails: OpenDaylight has no application REST API.
func (c *Client) IsAppActive(ctx context.Context, name string) (bool, error) {
	return false, c.appError("query application " + name)
}

// PushAppConfiguration always fails: OpenDaylight has no application REST API.
func (c *Client) PushAppConfiguration(ctx context.Context, name string, cfg map[string]interface{}) error {
	return c.appError("configure application " + name)
}

// Capabilities always fails: an OpenDaylight domain offers no VNF
// capabilities.
func (c *Client) Capabilities(ctx context.Context, appName string) ([]controller.Capability, error) {
	return nil, c.appError("discover capabilities")
}

// ============================================================
// Bridge plumbing (OVSDB southbound)
// ============================================================

type terminationPointBody struct {
	TerminationPoint []terminationPoint `json:"network-topology:termination-point"`
}

type terminationPoint struct {
	TPID          string        `json:"tp-id"`
	Name          string        `json:"ovsdb:name"`
	InterfaceType string        `json:"ovsdb:interface-type,omitempty"`
	Options       []ovsdbOption `json:"ovsdb:options,omitempty"`
}

type ovsdbOption struct {
	Option string `json:"ovsdb:option"`
	Value  string `json:"ovsdb:value"`
}

// AddPort attaches a physical interface to a bridge.
func (c *Client) AddPort(ctx context.Context, bridge, port string) error {
	path, err := c.terminationPointPath(bridge, port)
	if err != nil {
		return err
	}
	body := terminationPointBody{TerminationPoint: []terminationPoint{{TPID: port, Name: port}}}
	resp, err := c.do(ctx, "add port", http.MethodPut, path, body)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// AddGreTunnel creates a GRE port on a bridge.
func (c *Client) AddGreTunnel(ctx context.Context, bridge, port, localIP, remoteIP, greKey string) error {
	path, err := c.terminationPointPath(bridge, port)
	if err != nil {
		return err
	}
	body := terminationPointBody{TerminationPoint: []terminationPoint{{
		TPID:          port,
		Name:          port,
		InterfaceType: "ovsdb:interface-type-gre",
		Options: []ovsdbOption{
			{Option: "local_ip", Value: localIP},
			{Option: "remote_ip", Value: remoteIP},
			{Option: "key", Value: greKey},
		},
	}}}
	resp, err := c.do(ctx, "add gre tunnel", http.MethodPut, path, body)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// DeleteGreTunnel removes a GRE port from a bridge.
func (c *Client) DeleteGreTunnel(ctx context.Context, bridge, port string) error {
	path, err := c.terminationPointPath(bridge, port)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, "delete gre tunnel", http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

func (c *Client) terminationPointPath(bridge, port string) (string, error) {
	if c.ovsdbNode == "" {
		return "", fmt.Errorf("%w: no ovsdb node configured", util.ErrController)
	}
	bridgeNode := "ovsdb://" + c.ovsdbNode + "/bridge/" + bridge
	return "/restconf/config/network-topology:network-topology/topology/" + url.PathEscape("ovsdb:1") +
		"/node/" + url.PathEscape(bridgeNode) + "/termination-point/" + url.PathEscape(port), nil
}

// ============================================================
// HTTP plumbing
// ============================================================

func (c *Client) do(ctx context.Context, operation, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", operation, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &util.ControllerError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Detail:     strings.TrimSpace(string(detail)),
		}
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, operation, path string, out interface{}) error {
	attempt := func() error {
		resp, err := c.do(ctx, operation, http.MethodGet, path, nil)
		if err != nil {
			var ce *util.ControllerError
			if errors.As(err, &ce) {
				return backoff.Permanent(err)
			}
			return err
		}
		defer drain(resp)
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s answer: %w", operation, err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(attempt, backoff.WithContext(policy, ctx))
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
