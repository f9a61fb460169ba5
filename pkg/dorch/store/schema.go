package store

// Schema notes.
//
// Text columns that mirror optional packet fields are NOT NULL with ''
// meaning absent; equality filters then behave the same for stored and
// queried absences. flow_rule.type distinguishes rules copied from the
// request graph (a kind string such as 'ep-to-ep') from the per-switch
// rules derived from them ('external'). match.id equals the owning
// flow_rule id, one match per rule. The match and action tables are
// quoted everywhere since both names are SQLite keywords.

const schema = `
CREATE TABLE IF NOT EXISTS graph_session (
    session_id  TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    graph_id    TEXT NOT NULL DEFAULT '',
    graph_name  TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT '',
    started_at  TIMESTAMP,
    last_update TIMESTAMP,
    error       TIMESTAMP,
    ended       TIMESTAMP,
    description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS endpoint (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    graph_endpoint_id TEXT NOT NULL,
    name              TEXT NOT NULL DEFAULT '',
    type              TEXT NOT NULL DEFAULT '',
    session_id        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS endpoint_resource (
    endpoint_id   INTEGER NOT NULL,
    resource_type TEXT    NOT NULL,
    resource_id   INTEGER NOT NULL,
    PRIMARY KEY (endpoint_id, resource_type, resource_id)
);

CREATE TABLE IF NOT EXISTS port (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    graph_port_id    TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT '',
    switch_id        TEXT NOT NULL DEFAULT '',
    session_id       TEXT NOT NULL,
    mac_address      TEXT NOT NULL DEFAULT '',
    ipv4_address     TEXT NOT NULL DEFAULT '',
    tunnel_remote_ip TEXT NOT NULL DEFAULT '',
    vlan_id          TEXT NOT NULL DEFAULT '',
    gre_key          TEXT NOT NULL DEFAULT '',
    creation_date    TIMESTAMP,
    last_update      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS flow_rule (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    graph_flow_rule_id TEXT NOT NULL,
    internal_id        TEXT NOT NULL DEFAULT '',
    session_id         TEXT NOT NULL,
    switch_id          TEXT NOT NULL DEFAULT '',
    type               TEXT NOT NULL DEFAULT '',
    priority           INTEGER NOT NULL DEFAULT 0,
    status             TEXT NOT NULL DEFAULT '',
    creation_date      TIMESTAMP,
    last_update        TIMESTAMP,
    description        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS "match" (
    id            INTEGER PRIMARY KEY,
    flow_rule_id  INTEGER NOT NULL,
    port_in_type  TEXT NOT NULL DEFAULT '',
    port_in       TEXT NOT NULL DEFAULT '',
    ether_type    TEXT NOT NULL DEFAULT '',
    vlan_id       TEXT NOT NULL DEFAULT '',
    vlan_priority TEXT NOT NULL DEFAULT '',
    source_mac    TEXT NOT NULL DEFAULT '',
    dest_mac      TEXT NOT NULL DEFAULT '',
    source_ip     TEXT NOT NULL DEFAULT '',
    dest_ip       TEXT NOT NULL DEFAULT '',
    tos_bits      TEXT NOT NULL DEFAULT '',
    source_port   TEXT NOT NULL DEFAULT '',
    dest_port     TEXT NOT NULL DEFAULT '',
    protocol      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS "action" (
    id                       INTEGER PRIMARY KEY AUTOINCREMENT,
    flow_rule_id             INTEGER NOT NULL,
    output_type              TEXT NOT NULL DEFAULT '',
    output_to_port           TEXT NOT NULL DEFAULT '',
    output_to_controller     INTEGER NOT NULL DEFAULT 0,
    drop_packet              INTEGER NOT NULL DEFAULT 0,
    set_vlan_id              TEXT NOT NULL DEFAULT '',
    set_vlan_priority        TEXT NOT NULL DEFAULT '',
    push_vlan                TEXT NOT NULL DEFAULT '',
    pop_vlan                 INTEGER NOT NULL DEFAULT 0,
    set_ethernet_src_address TEXT NOT NULL DEFAULT '',
    set_ethernet_dst_address TEXT NOT NULL DEFAULT '',
    set_ip_src_address       TEXT NOT NULL DEFAULT '',
    set_ip_dst_address       TEXT NOT NULL DEFAULT '',
    set_ip_tos               TEXT NOT NULL DEFAULT '',
    set_l4_src_port          TEXT NOT NULL DEFAULT '',
    set_l4_dst_port          TEXT NOT NULL DEFAULT '',
    output_to_queue          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS vlan (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    flow_rule_id INTEGER NOT NULL,
    switch_id    TEXT NOT NULL DEFAULT '',
    port_in      TEXT NOT NULL DEFAULT '',
    vlan_in      INTEGER,
    port_out     TEXT NOT NULL DEFAULT '',
    vlan_out     INTEGER
);

CREATE TABLE IF NOT EXISTS vnf (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    graph_vnf_id     TEXT NOT NULL,
    session_id       TEXT NOT NULL,
    name             TEXT NOT NULL DEFAULT '',
    template         TEXT NOT NULL DEFAULT '',
    application_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS vnf_port (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    graph_port_id TEXT NOT NULL DEFAULT '',
    vnf_id        INTEGER NOT NULL,
    name          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    username        TEXT NOT NULL UNIQUE,
    password_hash   TEXT NOT NULL,
    tenant          TEXT NOT NULL DEFAULT '',
    token           TEXT NOT NULL DEFAULT '',
    token_timestamp TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_endpoint_session  ON endpoint (session_id);
CREATE INDEX IF NOT EXISTS idx_port_session      ON port (session_id);
CREATE INDEX IF NOT EXISTS idx_flow_rule_session ON flow_rule (session_id);
CREATE INDEX IF NOT EXISTS idx_flow_rule_switch  ON flow_rule (switch_id, type);
CREATE INDEX IF NOT EXISTS idx_match_flow_rule   ON "match" (flow_rule_id);
CREATE INDEX IF NOT EXISTS idx_action_flow_rule  ON "action" (flow_rule_id);
CREATE INDEX IF NOT EXISTS idx_vlan_switch_port  ON vlan (switch_id, port_in);
CREATE INDEX IF NOT EXISTS idx_vnf_session       ON vnf (session_id);
`

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(schema)
	return err
}
