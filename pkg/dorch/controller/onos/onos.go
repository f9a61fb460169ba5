// Package onos implements the controller client against the ONOS REST API.
//
// Flow programming goes through /onos/v1/flows; the flow handle returned by
// CreateFlow is the ONOS-assigned flow id taken from the Location header of
// the POST answer. Application lifecycle uses /onos/v1/applications, and
// bridge plumbing (physical ports, GRE tunnels) goes through the ovsdbrest
// companion application.
package onos

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

	// maxErrorBody caps how much of an error answer is kept for logs.
	maxErrorBody = 2048
)

// Options configures a Client.
type Options struct {
	Endpoint string
	Username string
	Password string

	// OvsdbNodeIP and OvsdbNodePort identify the OVSDB server the
	// ovsdbrest application manages. Empty IP disables bridge plumbing.
	OvsdbNodeIP   string
	OvsdbNodePort int

	Timeout time.Duration
}

// Client is a controller.Client backed by an ONOS cluster head.
type Client struct {
	endpoint  string
	username  string
	password  string
	ovsdbNode string
	http      *http.Client
}

var _ controller.Client = (*Client)(nil)

// New returns a client for the ONOS instance at opts.Endpoint.
func New(opts Options) *Client {
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
		ovsdbNode: node,
		http:      &http.Client{Timeout: timeout},
	}
}

// ============================================================
// Inventory
// ============================================================

type deviceList struct {
	Devices []struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Available bool   `json:"available"`
	} `json:"devices"`
}

// Devices lists the switches ONOS currently manages.
func (c *Client) Devices(ctx context.Context) ([]controller.Device, error) {
	var raw deviceList
	if err := c.getJSON(ctx, "get devices", "/onos/v1/devices", &raw); err != nil {
		return nil, err
	}
	devices := make([]controller.Device, 0, len(raw.Devices))
	for _, d := range raw.Devices {
		devices = append(devices, controller.Device{ID: d.ID, Type: d.Type, Available: d.Available})
	}
	return devices, nil
}

type linkList struct {
	Links []struct {
		Src   controller.ConnectPoint `json:"src"`
		Dst   controller.ConnectPoint `json:"dst"`
		Type  string                  `json:"type"`
		State string                  `json:"state"`
	} `json:"links"`
}

// Links lists the unidirectional inter-switch links.
func (c *Client) Links(ctx context.Context) ([]controller.Link, error) {
	var raw linkList
	if err := c.getJSON(ctx, "get links", "/onos/v1/links", &raw); err != nil {
		return nil, err
	}
	links := make([]controller.Link, 0, len(raw.Links))
	for _, l := range raw.Links {
		links = append(links, controller.Link{Src: l.Src, Dst: l.Dst, Type: l.Type, State: l.State})
	}
	return links, nil
}

type portList struct {
	Ports []struct {
		Port        string `json:"port"`
		IsEnabled   bool   `json:"isEnabled"`
		Annotations struct {
			PortName string `json:"portName"`
		} `json:"annotations"`
	} `json:"ports"`
}

// DevicePorts lists the ports of one switch. The interface name comes from
// the portName annotation ONOS learns from the device.
func (c *Client) DevicePorts(ctx context.Context, switchID string) ([]controller.Port, error) {
	var raw portList
	path := "/onos/v1/devices/" + url.PathEscape(switchID) + "/ports"
	if err := c.getJSON(ctx, "get device ports", path, &raw); err != nil {
		return nil, err
	}
	ports := make([]controller.Port, 0, len(raw.Ports))
	for _, p := range raw.Ports {
		ports = append(ports, controller.Port{
			Number:  p.Port,
			Name:    p.Annotations.PortName,
			Enabled: p.IsEnabled,
		})
	}
	return ports, nil
}

// ============================================================
// Flow programming
// ============================================================

// CreateFlow installs one rule and returns the ONOS flow id parsed from the
// Location header. The flow name is kept for logging only; ONOS names flows
// itself.
func (c *Client) CreateFlow(ctx context.Context, switchID, name string, rule *nffg.FlowRule) (string, error) {
	body := encodeFlow(switchID, rule)
	resp, err := c.do(ctx, "create flow", http.MethodPost, "/onos/v1/flows/"+url.PathEscape(switchID), body)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	location := resp.Header.Get("Location")
	if location == "" {
		return "", &util.ControllerError{Operation: "create flow", StatusCode: resp.StatusCode, Detail: "answer carries no Location header"}
	}
	flowID := location[strings.LastIndex(location, "/")+1:]
	util.WithSwitch(switchID).Debugf("installed flow %s as onos id %s", name, flowID)
	return flowID, nil
}

// DeleteFlow removes a rule by the id CreateFlow returned.
func (c *Client) DeleteFlow(ctx context.Context, switchID, handle string) error {
	path := "/onos/v1/flows/" + url.PathEscape(switchID) + "/" + url.PathEscape(handle)
	resp, err := c.do(ctx, "delete flow", http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// ============================================================
// Application lifecycle
// ============================================================

// ActivateApp starts a controller application.
func (c *Client) ActivateApp(ctx context.Context, name string) error {
	path := "/onos/v1/applications/" + url.PathEscape(name) + "/active"
	resp, err := c.do(ctx, "activate application", http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// DeactivateApp stops a controller application.
func (c *Client) DeactivateApp(ctx context.Context, name string) error {
	path := "/onos/v1/applications/" + url.PathEscape(name) + "/active"
	resp, err := c.do(ctx, "deactivate application", http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// IsAppActive reports whether the application state is ACTIVE.
func (c *Client) IsAppActive(ctx context.Context, name string) (bool, error) {
	resp, err := c.do(ctx, "get application", http.MethodGet, "/onos/v1/applications/"+url.PathEscape(name), nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	var app struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&app); err != nil {
		return false, fmt.Errorf("decode application state: %w", err)
	}
	return app.State == "ACTIVE", nil
}

// PushAppConfiguration sends cfg to an application through the network
// configuration subsystem.
func (c *Client) PushAppConfiguration(ctx context.Context, name string, cfg map[string]interface{}) error {
	path := "/onos/v1/network/configuration/apps/" + url.PathEscape(name)
	resp, err := c.do(ctx, "push application configuration", http.MethodPost, path, cfg)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

type capabilityList struct {
	Capabilities []controller.Capability `json:"capabilities"`
}

// Capabilities queries the capability registry application for the network
// functions this controller offers.
func (c *Client) Capabilities(ctx context.Context, appName string) ([]controller.Capability, error) {
	var raw capabilityList
	path := "/onos/" + url.PathEscape(appName) + "/capabilities"
	if err := c.getJSON(ctx, "get capabilities", path, &raw); err != nil {
		return nil, err
	}
	return raw.Capabilities, nil
}

// ============================================================
// Bridge plumbing (ovsdbrest)
// ============================================================

// AddPort attaches a physical interface to a bridge.
func (c *Client) AddPort(ctx context.Context, bridge, port string) error {
	path, err := c.ovsdbPath("bridge/" + url.PathEscape(bridge) + "/port/" + url.PathEscape(port))
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, "add port", http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// AddGreTunnel creates a GRE port on a bridge.
func (c *Client) AddGreTunnel(ctx context.Context, bridge, port, localIP, remoteIP, greKey string) error {
	path, err := c.ovsdbPath("bridge/" + url.PathEscape(bridge) + "/gre/" + url.PathEscape(port) +
		"/" + url.PathEscape(localIP) + "/" + url.PathEscape(remoteIP) + "/" + url.PathEscape(greKey))
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, "add gre tunnel", http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// DeleteGreTunnel removes a GRE port from a bridge.
func (c *Client) DeleteGreTunnel(ctx context.Context, bridge, port string) error {
	path, err := c.ovsdbPath("bridge/" + url.PathEscape(bridge) + "/gre/" + url.PathEscape(port))
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

func (c *Client) ovsdbPath(suffix string) (string, error) {
	if c.ovsdbNode == "" {
		return "", fmt.Errorf("%w: no ovsdb node configured", util.ErrController)
	}
	return "/onos/ovsdb/" + url.PathEscape(c.ovsdbNode) + "/" + suffix, nil
}

// ============================================================
// HTTP plumbing
// ============================================================

// do issues one request and maps any non-2xx answer to a ControllerError.
// The caller owns the response body on success.
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

// getJSON fetches path and decodes the answer, retrying transport failures
// with exponential backoff. HTTP-level errors are not retried.
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

// drain finishes reading a response so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
