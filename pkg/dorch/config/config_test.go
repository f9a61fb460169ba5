package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dorch-network/dorch/pkg/util"
)

const fullConfig = `
orchestrator:
  ip: 127.0.0.1
  port: 9001
  detached_mode: true

log:
  file: /var/log/dorch.log
  level: debug
  append_log: true

vlan:
  available_ids: "280-289,62,737,90-95"

physical_ports:
  ports:
    eth1: br-ex
    eth2: br-ex
  gre_bridge: br-gre
  gre_bridge_id: "of:00000000000000aa"

authentication:
  token_expiration: 3600

database:
  connection: /var/lib/dorch/dorch.db

network_controller:
  name: onos

onos:
  endpoint: http://127.0.0.1:8181/onos/v1
  username: onos
  password: rocks
  version: "1.9"

ovsdb:
  support: true
  node_ip: 127.0.0.1
  node_port: 6632
  ip: http://127.0.0.1:8080

domain_description:
  topic: "dorch:domain-description"
  file: /etc/dorch/description.json
  dynamic_file: /etc/dorch/description.dynamic.json
  capabilities_app_name: capabilities
  discover_capabilities: true

locking:
  backend: redis
  redis_address: 127.0.0.1:6379
  redis_prefix: dorch

other_options:
  use_interfaces_names: true
  jolnet: false
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Orchestrator.Port != 9001 || !c.Orchestrator.DetachedMode {
		t.Errorf("orchestrator = %+v, want port 9001 detached", c.Orchestrator)
	}
	if c.ListenAddr() != "127.0.0.1:9001" {
		t.Errorf("ListenAddr() = %q, want 127.0.0.1:9001", c.ListenAddr())
	}
	if c.PhysicalPorts.Ports["eth1"] != "br-ex" {
		t.Errorf("ports = %v, want eth1 on br-ex", c.PhysicalPorts.Ports)
	}
	if c.PhysicalPorts.GreBridgeID != "of:00000000000000aa" {
		t.Errorf("gre_bridge_id = %q", c.PhysicalPorts.GreBridgeID)
	}

	want := []util.VlanRange{{Lo: 62, Hi: 62}, {Lo: 90, Hi: 95}, {Lo: 280, Hi: 289}, {Lo: 737, Hi: 737}}
	got := c.AllowedVlans()
	if len(got) != len(want) {
		t.Fatalf("AllowedVlans() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AllowedVlans()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	endpoint, user, pass, version := c.ControllerConfig()
	if endpoint != "http://127.0.0.1:8181/onos/v1" || user != "onos" || pass != "rocks" || version != "1.9" {
		t.Errorf("ControllerConfig() = %s %s %s %s", endpoint, user, pass, version)
	}

	if c.Locking.Backend != LockingRedis || c.Locking.RedisAddress != "127.0.0.1:6379" {
		t.Errorf("locking = %+v", c.Locking)
	}
}

func TestLoadDefaults(t *testing.T) {
	minimal := `
vlan:
  available_ids: "100-110"
onos:
  endpoint: http://127.0.0.1:8181/onos/v1
`
	c, err := Load(writeConfig(t, minimal))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Orchestrator.IP != "0.0.0.0" || c.Orchestrator.Port != 9000 {
		t.Errorf("default listen = %s:%d, want 0.0.0.0:9000", c.Orchestrator.IP, c.Orchestrator.Port)
	}
	if c.Log.Level != "info" {
		t.Errorf("default log level = %q, want info", c.Log.Level)
	}
	if c.Authentication.TokenExpiration != 86400 {
		t.Errorf("default token_expiration = %d, want 86400", c.Authentication.TokenExpiration)
	}
	if c.NetworkController.Name != ControllerONOS {
		t.Errorf("default controller = %q, want onos", c.NetworkController.Name)
	}
	if c.Locking.Backend != LockingLocal {
		t.Errorf("default locking backend = %q, want local", c.Locking.Backend)
	}
	if c.Database.Connection != "dorch.db" {
		t.Errorf("default database connection = %q, want dorch.db", c.Database.Connection)
	}
	if c.DomainDescription.Topic != "dorch:domain-description" {
		t.Errorf("default topic = %q, want dorch:domain-description", c.DomainDescription.Topic)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{
			name:    "no vlan ranges",
			body:    "onos:\n  endpoint: http://127.0.0.1:8181\n",
			wantMsg: "vlan.available_ids",
		},
		{
			name:    "unsupported controller",
			body:    "vlan:\n  available_ids: \"100\"\nnetwork_controller:\n  name: floodlight\n",
			wantMsg: "not supported",
		},
		{
			name:    "onos without endpoint",
			body:    "vlan:\n  available_ids: \"100\"\nnetwork_controller:\n  name: onos\n",
			wantMsg: "onos.endpoint",
		},
		{
			name: "ovsdb with bad node ip",
			body: "vlan:\n  available_ids: \"100\"\nonos:\n  endpoint: http://x\novsdb:\n  support: true\n  node_ip: not-an-ip\n",

			wantMsg: "ovsdb.node_ip",
		},
		{
			name:    "redis locking without address",
			body:    "vlan:\n  available_ids: \"100\"\nonos:\n  endpoint: http://x\nlocking:\n  backend: redis\n",
			wantMsg: "locking.redis_address",
		},
		{
			name:    "port out of range",
			body:    "vlan:\n  available_ids: \"100\"\nonos:\n  endpoint: http://x\norchestrator:\n  port: 70000\n",
			wantMsg: "orchestrator.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPath(t *testing.T) {
	if got := Path("/explicit.yaml"); got != "/explicit.yaml" {
		t.Errorf("Path(flag) = %q", got)
	}

	t.Setenv(EnvConfigPath, "/from-env.yaml")
	if got := Path(""); got != "/from-env.yaml" {
		t.Errorf("Path(env) = %q", got)
	}

	t.Setenv(EnvConfigPath, "")
	if got := Path(""); got != DefaultPath {
		t.Errorf("Path(default) = %q, want %q", got, DefaultPath)
	}
}
