package store

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

// insertVNF stores a VNF row and its ports, setting DBIDs as it goes.
// applicationName is the controller application chosen for the VNF's
// functional capability.
func insertVNF(ctx context.Context, tx *sql.Tx, sessionID string, vnf *nffg.VNF, applicationName string) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO vnf (graph_vnf_id, session_id, name, template, application_name)
		VALUES (?, ?, ?, ?, ?)`,
		vnf.ID, sessionID, vnf.Name, vnf.VnfTemplate, applicationName)
	if err != nil {
		return err
	}
	vnfID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	vnf.DBID = strconv.FormatInt(vnfID, 10)

	for _, p := range vnf.Ports {
		if err := insertVNFPort(ctx, tx, vnfID, p); err != nil {
			return err
		}
	}
	return nil
}

func insertVNFPort(ctx context.Context, tx *sql.Tx, vnfID int64, port *nffg.VNFPort) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO vnf_port (graph_port_id, vnf_id, name) VALUES (?, ?, ?)`,
		port.ID, vnfID, port.Name)
	if err != nil {
		return err
	}
	portID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	port.DBID = strconv.FormatInt(portID, 10)
	return nil
}

// VNFByGraphID returns the session's VNF with the given graph id, or nil.
func (s *Store) VNFByGraphID(ctx context.Context, sessionID, graphVNFID string) (*VNF, error) {
	var v VNF
	err := s.db.QueryRowContext(ctx,
		`SELECT id, graph_vnf_id, session_id, name, template, application_name
		FROM vnf WHERE session_id = ? AND graph_vnf_id = ?`,
		sessionID, graphVNFID).
		Scan(&v.ID, &v.GraphVNFID, &v.SessionID, &v.Name, &v.Template, &v.ApplicationName)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("load vnf", err)
	}
	return &v, nil
}

// VNFsBySession returns every VNF of the session.
func (s *Store) VNFsBySession(ctx context.Context, sessionID string) ([]*VNF, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, graph_vnf_id, session_id, name, template, application_name
		FROM vnf WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, util.NewStorageError("list vnfs", err)
	}
	defer rows.Close()

	var vnfs []*VNF
	for rows.Next() {
		var v VNF
		err := rows.Scan(&v.ID, &v.GraphVNFID, &v.SessionID, &v.Name,
			&v.Template, &v.ApplicationName)
		if err != nil {
			return nil, util.NewStorageError("list vnfs", err)
		}
		vnfs = append(vnfs, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewStorageError("list vnfs", err)
	}
	return vnfs, nil
}

// VNFPorts returns the ports of a VNF row.
func (s *Store) VNFPorts(ctx context.Context, vnfID int64) ([]*VNFPort, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, graph_port_id, vnf_id, name FROM vnf_port
		WHERE vnf_id = ? ORDER BY id ASC`, vnfID)
	if err != nil {
		return nil, util.NewStorageError("list vnf ports", err)
	}
	defer rows.Close()

	var ports []*VNFPort
	for rows.Next() {
		var p VNFPort
		if err := rows.Scan(&p.ID, &p.GraphPortID, &p.VNFID, &p.Name); err != nil {
			return nil, util.NewStorageError("list vnf ports", err)
		}
		ports = append(ports, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewStorageError("list vnf ports", err)
	}
	return ports, nil
}

// DeleteVNF removes a VNF row together with its ports.
func (s *Store) DeleteVNF(ctx context.Context, vnfID int64) error {
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vnf_port WHERE vnf_id = ?`, vnfID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM vnf WHERE id = ?`, vnfID)
		return err
	})
	return storageError("delete vnf", err)
}

// DeleteVNFPort removes a single VNF port row.
func (s *Store) DeleteVNFPort(ctx context.Context, portID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vnf_port WHERE id = ?`, portID)
	return storageError("delete vnf port", err)
}
