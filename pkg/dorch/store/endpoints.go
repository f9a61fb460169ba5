package store

import (
	"context"
	"database/sql"
	"regexp"
	"strconv"
	"time"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

// ============================================================================
// Inserts
// ============================================================================

// insertEndpoint stores an endpoint row and, depending on its type, the
// port row recording the switch attachment or tunnel parameters. Sets the
// endpoint's DBID. greName must be the pre-allocated interface name for
// gre-tunnel endpoints and is ignored otherwise.
func (s *Store) insertEndpoint(ctx context.Context, tx *sql.Tx, sessionID string, ep *nffg.Endpoint, greName string) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO endpoint (graph_endpoint_id, name, type, session_id)
		VALUES (?, ?, ?, ?)`,
		ep.ID, ep.Name, ep.Type, sessionID)
	if err != nil {
		return err
	}
	epID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ep.DBID = strconv.FormatInt(epID, 10)

	port := Port{SessionID: sessionID, Status: SessionComplete}
	switch ep.Type {
	case nffg.EndpointTypeInterface:
		port.SwitchID = ep.Interface.NodeID
		port.GraphPortID = ep.Interface.IfName
	case nffg.EndpointTypeVlan:
		port.SwitchID = ep.Vlan.NodeID
		port.GraphPortID = ep.Vlan.IfName
		port.VlanID = ep.Vlan.VlanID
	case nffg.EndpointTypeGreTunnel:
		port.SwitchID = s.opts.GreBridgeID
		port.GraphPortID = greName
		port.IPv4Address = ep.GreTunnel.LocalIP
		port.TunnelRemoteIP = ep.GreTunnel.RemoteIP
		port.GreKey = ep.GreTunnel.GreKey
	default:
		return nil
	}
	return insertPort(ctx, tx, epID, &port)
}

func insertPort(ctx context.Context, tx *sql.Tx, endpointID int64, port *Port) error {
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO port (graph_port_id, status, switch_id, session_id,
			mac_address, ipv4_address, tunnel_remote_ip, vlan_id, gre_key,
			creation_date, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		port.GraphPortID, port.Status, port.SwitchID, port.SessionID,
		port.MACAddress, port.IPv4Address, port.TunnelRemoteIP, port.VlanID,
		port.GreKey, now, now)
	if err != nil {
		return err
	}
	portID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	port.ID = portID
	_, err = tx.ExecContext(ctx,
		`INSERT INTO endpoint_resource (endpoint_id, resource_type, resource_id)
		VALUES (?, ?, ?)`, endpointID, ResourcePort, portID)
	return err
}

// ============================================================================
// Queries
// ============================================================================

const endpointColumns = `id, graph_endpoint_id, name, type, session_id`

// EndpointByGraphID returns the session's endpoint with the given graph
// id, or nil.
func (s *Store) EndpointByGraphID(ctx context.Context, sessionID, graphEndpointID string) (*Endpoint, error) {
	var ep Endpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoint
		WHERE session_id = ? AND graph_endpoint_id = ?`,
		sessionID, graphEndpointID).
		Scan(&ep.ID, &ep.GraphID, &ep.Name, &ep.Type, &ep.SessionID)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("load endpoint", err)
	}
	return &ep, nil
}

// EndpointByID returns the endpoint row with the given id, or nil.
func (s *Store) EndpointByID(ctx context.Context, endpointID int64) (*Endpoint, error) {
	var ep Endpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoint WHERE id = ?`, endpointID).
		Scan(&ep.ID, &ep.GraphID, &ep.Name, &ep.Type, &ep.SessionID)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("load endpoint", err)
	}
	return &ep, nil
}

// EndpointsBySession returns every endpoint of the session.
func (s *Store) EndpointsBySession(ctx context.Context, sessionID string) ([]*Endpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+endpointColumns+` FROM endpoint WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
	if err != nil {
		return nil, util.NewStorageError("list endpoints", err)
	}
	defer rows.Close()

	var eps []*Endpoint
	for rows.Next() {
		var ep Endpoint
		if err := rows.Scan(&ep.ID, &ep.GraphID, &ep.Name, &ep.Type, &ep.SessionID); err != nil {
			return nil, util.NewStorageError("list endpoints", err)
		}
		eps = append(eps, &ep)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewStorageError("list endpoints", err)
	}
	return eps, nil
}

// EndpointResources returns the resource links of an endpoint.
func (s *Store) EndpointResources(ctx context.Context, endpointID int64) ([]*EndpointResource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint_id, resource_type, resource_id FROM endpoint_resource
		WHERE endpoint_id = ? ORDER BY resource_id ASC`, endpointID)
	if err != nil {
		return nil, util.NewStorageError("list endpoint resources", err)
	}
	defer rows.Close()

	var ers []*EndpointResource
	for rows.Next() {
		var er EndpointResource
		if err := rows.Scan(&er.EndpointID, &er.ResourceType, &er.ResourceID); err != nil {
			return nil, util.NewStorageError("list endpoint resources", err)
		}
		ers = append(ers, &er)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewStorageError("list endpoint resources", err)
	}
	return ers, nil
}

const portColumns = `id, graph_port_id, status, switch_id, session_id,
	mac_address, ipv4_address, tunnel_remote_ip, vlan_id, gre_key`

func scanPort(row interface {
	Scan(dest ...interface{}) error
}) (*Port, error) {
	var p Port
	err := row.Scan(&p.ID, &p.GraphPortID, &p.Status, &p.SwitchID, &p.SessionID,
		&p.MACAddress, &p.IPv4Address, &p.TunnelRemoteIP, &p.VlanID, &p.GreKey)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PortForEndpoint returns the port row recording the endpoint's switch
// attachment, or nil when the endpoint owns no port.
func (s *Store) PortForEndpoint(ctx context.Context, endpointID int64) (*Port, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+portColumns+` FROM port
		WHERE id IN (SELECT resource_id FROM endpoint_resource
			WHERE endpoint_id = ? AND resource_type = ?)
		LIMIT 1`, endpointID, ResourcePort)
	p, err := scanPort(row)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("load endpoint port", err)
	}
	return p, nil
}

var greNamePattern = regexp.MustCompile(`^gre(\d+)$`)

// NextGreInterfaceName allocates the next free gre<N> interface name on
// the GRE bridge, scanning all sessions since the bridge is shared.
func (s *Store) NextGreInterfaceName(ctx context.Context) (string, error) {
	name, err := nextGreName(ctx, s.db)
	if err != nil {
		return "", util.NewStorageError("allocate gre interface", err)
	}
	return name, nil
}

func nextGreName(ctx context.Context, q querier) (string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT graph_port_id FROM port WHERE graph_port_id LIKE 'gre%'`)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	next := 0
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		m := greNamePattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n >= next {
			next = n + 1
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return "gre" + strconv.Itoa(next), nil
}

// ============================================================================
// Deletes
// ============================================================================

// DeletePort removes a port row and its endpoint_resource link.
func (s *Store) DeletePort(ctx context.Context, portID int64) error {
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		return deletePortTx(ctx, tx, portID)
	})
	return storageError("delete port", err)
}

func deletePortTx(ctx context.Context, tx *sql.Tx, portID int64) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM endpoint_resource WHERE resource_type = ? AND resource_id = ?`,
		ResourcePort, portID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM port WHERE id = ?`, portID)
	return err
}

// DeleteEndpoint removes an endpoint and everything it owns: ports and
// any flow rules still linked to it.
func (s *Store) DeleteEndpoint(ctx context.Context, endpointID int64) error {
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT resource_type, resource_id FROM endpoint_resource WHERE endpoint_id = ?`,
			endpointID)
		if err != nil {
			return err
		}
		type resource struct {
			kind string
			id   int64
		}
		var resources []resource
		for rows.Next() {
			var r resource
			if err := rows.Scan(&r.kind, &r.id); err != nil {
				rows.Close()
				return err
			}
			resources = append(resources, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, r := range resources {
			switch r.kind {
			case ResourcePort:
				if err := deletePortTx(ctx, tx, r.id); err != nil {
					return err
				}
			case ResourceFlowRule:
				if err := deleteFlowRuleTx(ctx, tx, r.id); err != nil {
					return err
				}
			}
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM endpoint_resource WHERE endpoint_id = ?`, endpointID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM endpoint WHERE id = ?`, endpointID)
		return err
	})
	return storageError("delete endpoint", err)
}
