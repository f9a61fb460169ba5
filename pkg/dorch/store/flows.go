package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/dorch-network/dorch/pkg/dorch/nffg"
	"github.com/dorch-network/dorch/pkg/util"
)

const flowRuleColumns = `id, graph_flow_rule_id, internal_id, session_id,
	switch_id, type, priority, status, description`

func scanFlowRule(row interface {
	Scan(dest ...interface{}) error
}) (*FlowRule, error) {
	var fr FlowRule
	err := row.Scan(&fr.ID, &fr.GraphFlowRuleID, &fr.InternalID, &fr.SessionID,
		&fr.SwitchID, &fr.Type, &fr.Priority, &fr.Status, &fr.Description)
	if err != nil {
		return nil, err
	}
	return &fr, nil
}

// VlanUsage records which transport VLAN an external flow occupies on its
// switch. Nil VlanIn or VlanOut means the traffic is untagged on that
// side; a row with nil VlanIn additionally marks the ingress port as a
// direct endpoint attachment.
type VlanUsage struct {
	PortIn  string
	VlanIn  *int
	PortOut string
	VlanOut *int
}

// ============================================================================
// Inserts
// ============================================================================

// AddExternalFlow stores one realised per-switch flow together with its
// match, actions and VLAN usage in a single transaction. internalID is
// the controller-side handle used to delete the flow later. Returns the
// new flow rule row id.
func (s *Store) AddExternalFlow(ctx context.Context, sessionID, switchID, internalID string, rule *nffg.FlowRule, usage *VlanUsage) (int64, error) {
	var id int64
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO flow_rule (graph_flow_rule_id, internal_id, session_id,
				switch_id, type, priority, status, creation_date, last_update)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID, internalID, sessionID, switchID, FlowRuleExternal,
			rule.Priority, SessionComplete, now, now)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if err := insertMatch(ctx, tx, id, "", rule.Match); err != nil {
			return err
		}
		for _, a := range rule.Actions {
			if err := insertAction(ctx, tx, id, "", a.Output, a); err != nil {
				return err
			}
		}
		if usage != nil {
			if err := insertVlanUsage(ctx, tx, id, switchID, usage); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, storageError("store external flow", err)
	}
	return id, nil
}

// insertGraphFlowRule stores one flow rule of the request graph, resolving
// symbolic endpoint and VNF port references in match and actions to row
// ids. Endpoints referenced on either side get an endpoint_resource link
// so that endpoint deletion can find the rules hanging off it. Sets the
// rule's DBID.
func insertGraphFlowRule(ctx context.Context, tx *sql.Tx, sessionID string, g *nffg.NFFG, rule *nffg.FlowRule) error {
	ingressType, ingressRef, err := resolvePortRef(g, rule.Match.PortIn)
	if err != nil {
		return err
	}
	ruleType := refKindShort(ingressType)
	out := rule.OutputAction()
	var outType, outRef string
	if out != nil {
		outType, outRef, err = resolvePortRef(g, out.Output)
		if err != nil {
			return err
		}
		ruleType += "-to-" + refKindShort(outType)
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO flow_rule (graph_flow_rule_id, session_id, type, priority,
			status, creation_date, last_update, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, sessionID, ruleType, rule.Priority, SessionComplete, now, now, "")
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rule.DBID = strconv.FormatInt(id, 10)

	m := rule.Match.Copy()
	m.PortIn = ingressRef
	if err := insertMatch(ctx, tx, id, ingressType, m); err != nil {
		return err
	}
	for _, a := range rule.Actions {
		ot, ref := "", a.Output
		if a.Output != "" {
			ot, ref = outType, outRef
		}
		if err := insertAction(ctx, tx, id, ot, ref, a); err != nil {
			return err
		}
	}

	// Both the ingress and the output endpoint own this rule.
	for _, side := range []struct{ kind, ref string }{
		{ingressType, ingressRef}, {outType, outRef},
	} {
		if side.kind != "endpoint" {
			continue
		}
		epID, err := strconv.ParseInt(side.ref, 10, 64)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO endpoint_resource (endpoint_id, resource_type, resource_id)
			VALUES (?, ?, ?)`, epID, ResourceFlowRule, id)
		if err != nil {
			return err
		}
	}
	return nil
}

// resolvePortRef maps a symbolic port reference to the owning row id.
// "endpoint:<gid>" and "vnf:<vnf>:<port>" resolve through the DBIDs set
// while storing the graph; anything else is a raw port and passes through.
func resolvePortRef(g *nffg.NFFG, ref string) (kind, resolved string, err error) {
	if gid := nffg.EndpointIDFromRef(ref); gid != "" {
		ep := g.GetEndPoint(gid)
		if ep == nil || ep.DBID == "" {
			return "", "", util.NewStorageError("resolve port reference",
				fmt.Errorf("unknown endpoint %s", gid))
		}
		return "endpoint", ep.DBID, nil
	}
	if vr := nffg.VNFRefFromString(ref); vr != nil {
		vnf := g.GetVNF(vr.VnfID)
		if vnf == nil {
			return "", "", util.NewStorageError("resolve port reference",
				fmt.Errorf("unknown vnf %s", vr.VnfID))
		}
		port := vnf.GetPort(vr.PortID)
		if port == nil || port.DBID == "" {
			return "", "", util.NewStorageError("resolve port reference",
				fmt.Errorf("unknown vnf port %s on %s", vr.PortID, vr.VnfID))
		}
		return "vnf", port.DBID, nil
	}
	return "", ref, nil
}

func refKindShort(kind string) string {
	if kind == "vnf" {
		return "vnf"
	}
	return "ep"
}

func insertMatch(ctx context.Context, tx *sql.Tx, flowRuleID int64, portInType string, m *nffg.Match) error {
	if m == nil {
		m = &nffg.Match{}
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO "match" (id, flow_rule_id, port_in_type, port_in,
			ether_type, vlan_id, vlan_priority, source_mac, dest_mac,
			source_ip, dest_ip, tos_bits, source_port, dest_port, protocol)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flowRuleID, flowRuleID, portInType, m.PortIn,
		m.EtherType, m.VlanID, m.VlanPriority, m.SourceMAC, m.DestMAC,
		m.SourceIP, m.DestIP, m.TosBits, m.SourcePort, m.DestPort, m.Protocol)
	return err
}

func insertAction(ctx context.Context, tx *sql.Tx, flowRuleID int64, outputType, output string, a *nffg.Action) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO "action" (flow_rule_id, output_type, output_to_port,
			output_to_controller, drop_packet, set_vlan_id, set_vlan_priority,
			push_vlan, pop_vlan, set_ethernet_src_address, set_ethernet_dst_address,
			set_ip_src_address, set_ip_dst_address, set_ip_tos,
			set_l4_src_port, set_l4_dst_port, output_to_queue)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		flowRuleID, outputType, output,
		a.Controller, a.Drop, a.SetVlanID, a.SetVlanPriority,
		a.PushVlan, a.PopVlan, a.SetEthSrc, a.SetEthDst,
		a.SetIPSrc, a.SetIPDst, a.SetIPTos,
		a.SetL4Src, a.SetL4Dst, a.OutputToQueue)
	return err
}

func insertVlanUsage(ctx context.Context, tx *sql.Tx, flowRuleID int64, switchID string, u *VlanUsage) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO vlan (flow_rule_id, switch_id, port_in, vlan_in, port_out, vlan_out)
		VALUES (?, ?, ?, ?, ?, ?)`,
		flowRuleID, switchID, u.PortIn, nullableInt(u.VlanIn), u.PortOut, nullableInt(u.VlanOut))
	return err
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// ============================================================================
// Queries
// ============================================================================

// FlowOnSwitch returns the stored external flow whose match equals the
// given rule on every field, priority included, or nil. A hit means
// installing the rule would collide with an already deployed graph.
func (s *Store) FlowOnSwitch(ctx context.Context, switchID string, rule *nffg.FlowRule) (*FlowRule, error) {
	m := rule.Match
	if m == nil {
		m = &nffg.Match{}
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT fr.id, fr.graph_flow_rule_id, fr.internal_id, fr.session_id,
			fr.switch_id, fr.type, fr.priority, fr.status, fr.description
		FROM flow_rule fr JOIN "match" m ON m.flow_rule_id = fr.id
		WHERE fr.switch_id = ? AND fr.type = ? AND fr.priority = ?
		AND m.port_in = ? AND m.ether_type = ? AND m.vlan_id = ?
		AND m.vlan_priority = ? AND m.source_mac = ? AND m.dest_mac = ?
		AND m.source_ip = ? AND m.dest_ip = ? AND m.tos_bits = ?
		AND m.source_port = ? AND m.dest_port = ? AND m.protocol = ?
		LIMIT 1`,
		switchID, FlowRuleExternal, rule.Priority,
		m.PortIn, m.EtherType, m.VlanID,
		m.VlanPriority, m.SourceMAC, m.DestMAC,
		m.SourceIP, m.DestIP, m.TosBits,
		m.SourcePort, m.DestPort, m.Protocol)

	fr, err := scanFlowRule(row)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("query flow collision", err)
	}
	return fr, nil
}

// MatchesOnSwitch returns the matches of stored external flows on
// (switch, port_in) that agree with m on every non-VLAN field.
func (s *Store) MatchesOnSwitch(ctx context.Context, switchID, portIn string, m *nffg.Match) ([]*Match, error) {
	if m == nil {
		m = &nffg.Match{}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.flow_rule_id, m.port_in_type, m.port_in, m.ether_type,
			m.vlan_id, m.vlan_priority, m.source_mac, m.dest_mac,
			m.source_ip, m.dest_ip, m.tos_bits, m.source_port, m.dest_port, m.protocol
		FROM "match" m JOIN flow_rule fr ON fr.id = m.flow_rule_id
		WHERE fr.switch_id = ? AND fr.type = ? AND m.port_in = ?
		AND m.ether_type = ? AND m.source_mac = ? AND m.dest_mac = ?
		AND m.source_ip = ? AND m.dest_ip = ? AND m.tos_bits = ?
		AND m.source_port = ? AND m.dest_port = ? AND m.protocol = ?`,
		switchID, FlowRuleExternal, portIn,
		m.EtherType, m.SourceMAC, m.DestMAC,
		m.SourceIP, m.DestIP, m.TosBits,
		m.SourcePort, m.DestPort, m.Protocol)
	if err != nil {
		return nil, util.NewStorageError("query matches on switch", err)
	}
	defer rows.Close()

	var matches []*Match
	for rows.Next() {
		var mr Match
		err := rows.Scan(&mr.ID, &mr.FlowRuleID, &mr.PortInType, &mr.PortIn,
			&mr.EtherType, &mr.VlanID, &mr.VlanPriority, &mr.SourceMAC,
			&mr.DestMAC, &mr.SourceIP, &mr.DestIP, &mr.TosBits,
			&mr.SourcePort, &mr.DestPort, &mr.Protocol)
		if err != nil {
			return nil, util.NewStorageError("query matches on switch", err)
		}
		matches = append(matches, &mr)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewStorageError("query matches on switch", err)
	}
	return matches, nil
}

// BusyVlansOn returns the VLAN ids already matched on (switch, port_in)
// by flows sharing every non-VLAN match field with m.
func (s *Store) BusyVlansOn(ctx context.Context, switchID, portIn string, m *nffg.Match) ([]int, error) {
	matches, err := s.MatchesOnSwitch(ctx, switchID, portIn, m)
	if err != nil {
		return nil, err
	}
	var vlans []int
	for _, mr := range matches {
		if mr.VlanID == "" {
			continue
		}
		vid, err := strconv.Atoi(mr.VlanID)
		if err != nil {
			continue
		}
		vlans = append(vlans, vid)
	}
	return vlans, nil
}

// UsedVlansOn returns every VLAN id recorded as entering or leaving the
// given switch port. The domain description refresh subtracts these from
// the configured ranges to export the free set.
func (s *Store) UsedVlansOn(ctx context.Context, switchID, port string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT vlan_in FROM vlan
		  WHERE switch_id = ? AND port_in = ? AND vlan_in IS NOT NULL
		 UNION
		 SELECT DISTINCT vlan_out FROM vlan
		  WHERE switch_id = ? AND port_out = ? AND vlan_out IS NOT NULL`,
		switchID, port, switchID, port)
	if err != nil {
		return nil, util.NewStorageError("query used vlans", err)
	}
	defer rows.Close()

	var vlans []int
	for rows.Next() {
		var vid int
		if err := rows.Scan(&vid); err != nil {
			return nil, util.NewStorageError("query used vlans", err)
		}
		vlans = append(vlans, vid)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewStorageError("query used vlans", err)
	}
	return vlans, nil
}

// IsDirectEndpoint reports whether (switch, port_in) already carries
// untagged endpoint traffic, recorded as a VLAN usage row with no
// ingress VLAN.
func (s *Store) IsDirectEndpoint(ctx context.Context, switchID, portIn string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM vlan WHERE switch_id = ? AND port_in = ? AND vlan_in IS NULL LIMIT 1`,
		switchID, portIn).Scan(&one)
	if noRows(err) {
		return false, nil
	}
	if err != nil {
		return false, util.NewStorageError("query direct endpoint", err)
	}
	return true, nil
}

// ExternalFlowExists reports whether the switch already has an external
// flow stored under the given controller handle.
func (s *Store) ExternalFlowExists(ctx context.Context, switchID, internalID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM flow_rule WHERE switch_id = ? AND internal_id = ? AND type = ? LIMIT 1`,
		switchID, internalID, FlowRuleExternal).Scan(&one)
	if noRows(err) {
		return false, nil
	}
	if err != nil {
		return false, util.NewStorageError("query external flow", err)
	}
	return true, nil
}

// ExternalFlowsByGraphRule returns the external flows realised on a switch
// for one graph flow rule, ordered by controller handle. The flow namer
// walks this list when picking a fresh name.
func (s *Store) ExternalFlowsByGraphRule(ctx context.Context, switchID, graphFlowRuleID string) ([]*FlowRule, error) {
	return s.queryFlowRules(ctx,
		`SELECT `+flowRuleColumns+` FROM flow_rule
		WHERE switch_id = ? AND graph_flow_rule_id = ? AND type = ?
		ORDER BY internal_id ASC`,
		switchID, graphFlowRuleID, FlowRuleExternal)
}

// FlowRuleByID returns the flow rule row with the given id, or nil.
func (s *Store) FlowRuleByID(ctx context.Context, id int64) (*FlowRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+flowRuleColumns+` FROM flow_rule WHERE id = ?`, id)
	fr, err := scanFlowRule(row)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("load flow rule", err)
	}
	return fr, nil
}

// FlowsBySession returns every stored flow rule of the session, graph
// rules and external realisations alike.
func (s *Store) FlowsBySession(ctx context.Context, sessionID string) ([]*FlowRule, error) {
	return s.queryFlowRules(ctx,
		`SELECT `+flowRuleColumns+` FROM flow_rule WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
}

// FlowsByGraphRule returns the stored rows for one graph flow rule id in
// the session: the graph rule itself plus its external realisations.
func (s *Store) FlowsByGraphRule(ctx context.Context, sessionID, graphFlowRuleID string) ([]*FlowRule, error) {
	return s.queryFlowRules(ctx,
		`SELECT `+flowRuleColumns+` FROM flow_rule
		WHERE session_id = ? AND graph_flow_rule_id = ? ORDER BY id ASC`,
		sessionID, graphFlowRuleID)
}

func (s *Store) queryFlowRules(ctx context.Context, query string, args ...interface{}) ([]*FlowRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, util.NewStorageError("query flow rules", err)
	}
	defer rows.Close()

	var frs []*FlowRule
	for rows.Next() {
		fr, err := scanFlowRule(rows)
		if err != nil {
			return nil, util.NewStorageError("query flow rules", err)
		}
		frs = append(frs, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewStorageError("query flow rules", err)
	}
	return frs, nil
}

// MatchForFlowRule returns the match row of a flow rule, or nil.
func (s *Store) MatchForFlowRule(ctx context.Context, flowRuleID int64) (*Match, error) {
	var mr Match
	err := s.db.QueryRowContext(ctx,
		`SELECT id, flow_rule_id, port_in_type, port_in, ether_type, vlan_id,
			vlan_priority, source_mac, dest_mac, source_ip, dest_ip, tos_bits,
			source_port, dest_port, protocol
		FROM "match" WHERE flow_rule_id = ?`, flowRuleID).
		Scan(&mr.ID, &mr.FlowRuleID, &mr.PortInType, &mr.PortIn, &mr.EtherType,
			&mr.VlanID, &mr.VlanPriority, &mr.SourceMAC, &mr.DestMAC,
			&mr.SourceIP, &mr.DestIP, &mr.TosBits, &mr.SourcePort,
			&mr.DestPort, &mr.Protocol)
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("load match", err)
	}
	return &mr, nil
}

// ActionsForFlowRule returns the ordered action rows of a flow rule.
func (s *Store) ActionsForFlowRule(ctx context.Context, flowRuleID int64) ([]*Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, flow_rule_id, output_type, output_to_port, output_to_controller,
			drop_packet, set_vlan_id, set_vlan_priority, push_vlan, pop_vlan,
			set_ethernet_src_address, set_ethernet_dst_address,
			set_ip_src_address, set_ip_dst_address, set_ip_tos,
			set_l4_src_port, set_l4_dst_port, output_to_queue
		FROM "action" WHERE flow_rule_id = ? ORDER BY id ASC`, flowRuleID)
	if err != nil {
		return nil, util.NewStorageError("load actions", err)
	}
	defer rows.Close()

	var actions []*Action
	for rows.Next() {
		var ar Action
		err := rows.Scan(&ar.ID, &ar.FlowRuleID, &ar.OutputType, &ar.Output,
			&ar.Controller, &ar.Drop, &ar.SetVlanID, &ar.SetVlanPriority,
			&ar.PushVlan, &ar.PopVlan, &ar.SetEthSrc, &ar.SetEthDst,
			&ar.SetIPSrc, &ar.SetIPDst, &ar.SetIPTos, &ar.SetL4Src,
			&ar.SetL4Dst, &ar.OutputToQueue)
		if err != nil {
			return nil, util.NewStorageError("load actions", err)
		}
		actions = append(actions, &ar)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewStorageError("load actions", err)
	}
	return actions, nil
}

// ============================================================================
// Deletes
// ============================================================================

// DeleteFlowRule removes a flow rule row together with its match, actions,
// VLAN usage and endpoint_resource links.
func (s *Store) DeleteFlowRule(ctx context.Context, id int64) error {
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		return deleteFlowRuleTx(ctx, tx, id)
	})
	return storageError("delete flow rule", err)
}

func deleteFlowRuleTx(ctx context.Context, tx *sql.Tx, id int64) error {
	for _, q := range []string{
		`DELETE FROM "match" WHERE flow_rule_id = ?`,
		`DELETE FROM "action" WHERE flow_rule_id = ?`,
		`DELETE FROM vlan WHERE flow_rule_id = ?`,
		`DELETE FROM endpoint_resource WHERE resource_type = '` + ResourceFlowRule + `' AND resource_id = ?`,
		`DELETE FROM flow_rule WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}
