package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

// GraphRecord pairs a stored graph with the session realising it.
type GraphRecord struct {
	SessionID string
	Graph     *nffg.NFFG
}

// StoreGraph persists a fresh session and the whole request graph in one
// transaction: the session row, endpoints with their ports (allocating
// gre<N> interface names for tunnel endpoints), VNFs with their ports,
// and the graph flow rules with matches, actions and endpoint links.
// appNames maps VNF graph ids to the controller application chosen for
// their functional capability. DBIDs are set on the graph as rows are
// created.
func (s *Store) StoreGraph(ctx context.Context, sessionID, userID string, g *nffg.NFFG, appNames map[string]string) error {
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO graph_session (session_id, user_id, graph_id, graph_name,
				status, started_at, last_update, description)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, userID, g.ID, g.Name, SessionInitializing, now, now, g.Description)
		if err != nil {
			return err
		}
		return s.insertGraphEntities(ctx, tx, sessionID, g, appNames, false)
	})
	return storageError("store graph", err)
}

// UpdateGraph stores the entities a graph update added. The graph must
// carry diff statuses: only endpoints, VNFs, VNF ports and flow rules
// marked new (or unmarked) are inserted, everything else is assumed
// already stored. The session moves to the updating status.
func (s *Store) UpdateGraph(ctx context.Context, sessionID string, g *nffg.NFFG, appNames map[string]string) error {
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE graph_session SET status = ?, graph_name = ?, description = ?, last_update = ?
			WHERE session_id = ?`,
			SessionUpdating, g.Name, g.Description, time.Now().UTC(), sessionID)
		if err != nil {
			return err
		}
		return s.insertGraphEntities(ctx, tx, sessionID, g, appNames, true)
	})
	return storageError("update graph", err)
}

func isNew(status string) bool {
	return status == "" || status == nffg.StatusNew
}

// insertGraphEntities writes the graph's rows. With newOnly set, entities
// carrying a non-new diff status are skipped; ports added to an already
// stored VNF are still picked up.
func (s *Store) insertGraphEntities(ctx context.Context, tx *sql.Tx, sessionID string, g *nffg.NFFG, appNames map[string]string, newOnly bool) error {
	for _, ep := range g.EndPoints {
		if newOnly && !isNew(ep.Status) {
			continue
		}
		greName := ""
		if ep.Type == nffg.EndpointTypeGreTunnel {
			var err error
			if greName, err = nextGreName(ctx, tx); err != nil {
				return err
			}
		}
		if err := s.insertEndpoint(ctx, tx, sessionID, ep, greName); err != nil {
			return err
		}
	}

	for _, vnf := range g.VNFs {
		if !newOnly || isNew(vnf.Status) {
			if err := insertVNF(ctx, tx, sessionID, vnf, appNames[vnf.ID]); err != nil {
				return err
			}
			continue
		}
		// Existing VNF: an update may still have grown its port list.
		vnfID, err := strconv.ParseInt(vnf.DBID, 10, 64)
		if err != nil {
			continue
		}
		for _, p := range vnf.Ports {
			if p.DBID == "" && isNew(p.Status) {
				if err := insertVNFPort(ctx, tx, vnfID, p); err != nil {
					return err
				}
			}
		}
	}

	for _, fr := range g.FlowRules() {
		if newOnly && !isNew(fr.Status) {
			continue
		}
		if err := insertGraphFlowRule(ctx, tx, sessionID, g, fr); err != nil {
			return err
		}
	}
	return nil
}

// LoadGraph rebuilds the request graph stored under a session: endpoints
// regain their type sections from the port rows, flow rules regain their
// symbolic endpoint and VNF port references, and every entity carries its
// DBID. External flows are not part of the result.
func (s *Store) LoadGraph(ctx context.Context, sessionID string) (*nffg.NFFG, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM graph_session WHERE session_id = ?`, sessionID))
	if noRows(err) {
		return nil, util.ErrSessionNotFound
	}
	if err != nil {
		return nil, util.NewStorageError("load graph", err)
	}

	g := &nffg.NFFG{ID: sess.GraphID, Name: sess.GraphName, Description: sess.Description}

	endpointGID := map[int64]string{}
	eps, err := s.EndpointsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, row := range eps {
		ep := &nffg.Endpoint{
			ID:   row.GraphID,
			Name: row.Name,
			Type: row.Type,
			DBID: strconv.FormatInt(row.ID, 10),
		}
		endpointGID[row.ID] = row.GraphID
		port, err := s.PortForEndpoint(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		if port != nil {
			switch row.Type {
			case nffg.EndpointTypeInterface:
				ep.Interface = &nffg.InterfacePort{NodeID: port.SwitchID, IfName: port.GraphPortID}
			case nffg.EndpointTypeVlan:
				ep.Vlan = &nffg.VlanPort{VlanID: port.VlanID, NodeID: port.SwitchID, IfName: port.GraphPortID}
			case nffg.EndpointTypeGreTunnel:
				ep.GreTunnel = &nffg.GreTunnel{
					LocalIP:  port.IPv4Address,
					RemoteIP: port.TunnelRemoteIP,
					GreKey:   port.GreKey,
				}
			}
		}
		g.EndPoints = append(g.EndPoints, ep)
	}

	type vnfPortRef struct{ vnfGID, portGID string }
	vnfPortGID := map[int64]vnfPortRef{}
	vnfs, err := s.VNFsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, row := range vnfs {
		vnf := &nffg.VNF{
			ID:          row.GraphVNFID,
			Name:        row.Name,
			VnfTemplate: row.Template,
			DBID:        strconv.FormatInt(row.ID, 10),
		}
		ports, err := s.VNFPorts(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range ports {
			vnf.Ports = append(vnf.Ports, &nffg.VNFPort{
				ID:   p.GraphPortID,
				Name: p.Name,
				DBID: strconv.FormatInt(p.ID, 10),
			})
			vnfPortGID[p.ID] = vnfPortRef{vnfGID: row.GraphVNFID, portGID: p.GraphPortID}
		}
		g.VNFs = append(g.VNFs, vnf)
	}

	resolveRef := func(kind, ref string) string {
		id, err := strconv.ParseInt(ref, 10, 64)
		if err != nil {
			return ref
		}
		switch kind {
		case "endpoint":
			if gid, ok := endpointGID[id]; ok {
				return "endpoint:" + gid
			}
		case "vnf":
			if vr, ok := vnfPortGID[id]; ok {
				return "vnf:" + vr.vnfGID + ":" + vr.portGID
			}
		}
		return ref
	}

	frs, err := s.queryFlowRules(ctx,
		`SELECT `+flowRuleColumns+` FROM flow_rule
		WHERE session_id = ? AND type != ? ORDER BY id ASC`,
		sessionID, FlowRuleExternal)
	if err != nil {
		return nil, err
	}
	for _, row := range frs {
		fr := &nffg.FlowRule{
			ID:       row.GraphFlowRuleID,
			Priority: row.Priority,
			DBID:     strconv.FormatInt(row.ID, 10),
		}
		mr, err := s.MatchForFlowRule(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		if mr != nil {
			fr.Match = mr.ToNFFG()
			fr.Match.PortIn = resolveRef(mr.PortInType, mr.PortIn)
		}
		actions, err := s.ActionsForFlowRule(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		for _, ar := range actions {
			a := ar.ToNFFG()
			if a.Output != "" {
				a.Output = resolveRef(ar.OutputType, ar.Output)
			}
			fr.Actions = append(fr.Actions, a)
		}
		g.AddFlowRule(fr)
	}
	return g, nil
}

// ListGraphs returns the user's fully deployed graphs, newest first.
func (s *Store) ListGraphs(ctx context.Context, userID string) ([]*GraphRecord, error) {
	sessions, err := s.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	var records []*GraphRecord
	for _, sess := range sessions {
		if sess.Status != SessionComplete {
			continue
		}
		g, err := s.LoadGraph(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		records = append(records, &GraphRecord{SessionID: sess.ID, Graph: g})
	}
	return records, nil
}
