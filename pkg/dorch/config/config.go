// Package config loads and validates the orchestrator configuration file.
// The configuration is read once at startup and treated as immutable.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dorch-network/dorch/pkg/util"
)

// DefaultPath is used when no --config flag is given. The DORCH_CONFIG
// environment variable overrides it.
const DefaultPath = "/etc/dorch/config.yaml"

// EnvConfigPath names the environment variable holding the config path.
const EnvConfigPath = "DORCH_CONFIG"

// Controller names accepted in the network_controller section.
const (
	ControllerONOS         = "onos"
	ControllerOpenDaylight = "opendaylight"
)

// Locking backends accepted in the locking section.
const (
	LockingLocal = "local"
	LockingRedis = "redis"
)

// Config is the root of the configuration file.
type Config struct {
	Orchestrator      OrchestratorConfig      `yaml:"orchestrator"`
	Log               LogConfig               `yaml:"log"`
	Vlan              VlanConfig              `yaml:"vlan"`
	PhysicalPorts     PhysicalPortsConfig     `yaml:"physical_ports"`
	Authentication    AuthenticationConfig    `yaml:"authentication"`
	Database          DatabaseConfig          `yaml:"database"`
	NetworkController NetworkControllerConfig `yaml:"network_controller"`
	ONOS              ONOSConfig              `yaml:"onos"`
	OpenDaylight      OpenDaylightConfig      `yaml:"opendaylight"`
	OVSDB             OVSDBConfig             `yaml:"ovsdb"`
	NFConfiguration   NFConfigurationConfig   `yaml:"nf_configuration"`
	Messaging         MessagingConfig         `yaml:"messaging"`
	DomainDescription DomainDescriptionConfig `yaml:"domain_description"`
	Locking           LockingConfig           `yaml:"locking"`
	OtherOptions      OtherOptionsConfig      `yaml:"other_options"`

	allowedVlans []util.VlanRange
}

// OrchestratorConfig sets the listen address of the northbound API.
// DetachedMode suppresses every call to the network controller; flows and
// applications are only recorded in the store.
type OrchestratorConfig struct {
	IP           string `yaml:"ip"`
	Port         int    `yaml:"port"`
	DetachedMode bool   `yaml:"detached_mode"`
}

// LogConfig controls the log destination and verbosity.
type LogConfig struct {
	File      string `yaml:"file"`
	Level     string `yaml:"level"`
	AppendLog bool   `yaml:"append_log"`
	JSON      bool   `yaml:"json"`
}

// VlanConfig lists the VLAN ids available as transport tags, as a ranges
// string such as "280-289,62,737,90-95".
type VlanConfig struct {
	AvailableIDs string `yaml:"available_ids"`
}

// PhysicalPortsConfig lists physical interfaces to attach at boot, keyed by
// interface name with the owning bridge as value, plus the bridge used to
// terminate GRE tunnels.
type PhysicalPortsConfig struct {
	Ports       map[string]string `yaml:"ports"`
	GreBridge   string            `yaml:"gre_bridge"`
	GreBridgeID string            `yaml:"gre_bridge_id"`
}

// AuthenticationConfig sets the lifetime of login tokens in seconds.
type AuthenticationConfig struct {
	TokenExpiration int `yaml:"token_expiration"`
}

// DatabaseConfig points at the sqlite database file.
type DatabaseConfig struct {
	Connection string `yaml:"connection"`
}

// NetworkControllerConfig selects which controller dialect to speak.
type NetworkControllerConfig struct {
	Name string `yaml:"name"`
}

// ONOSConfig holds the ONOS REST endpoint and credentials.
type ONOSConfig struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Version  string `yaml:"version"`
}

// OpenDaylightConfig holds the OpenDaylight REST endpoint and credentials.
type OpenDaylightConfig struct {
	Endpoint string `yaml:"endpoint"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Version  string `yaml:"version"`
}

// OVSDBConfig describes the ovsdb node used for GRE tunnels and physical
// port attachment.
type OVSDBConfig struct {
	Support  bool   `yaml:"support"`
	NodeIP   string `yaml:"node_ip"`
	NodePort int    `yaml:"node_port"`
	IP       string `yaml:"ip"`
}

// NFConfigurationConfig enables pushing an initial configuration to
// activated applications through the external configuration service.
type NFConfigurationConfig struct {
	InitialConfiguration  bool   `yaml:"initial_configuration"`
	ConfigServiceEndpoint string `yaml:"config_service_endpoint"`
}

// MessagingConfig describes the message bus used to export the domain
// description. When Activate is false the publisher is a no-op.
type MessagingConfig struct {
	Activate      bool   `yaml:"activate"`
	Name          string `yaml:"name"`
	BrokerAddress string `yaml:"broker_address"`
	TenantName    string `yaml:"tenant_name"`
	TenantKey     string `yaml:"tenant_key"`
}

// DomainDescriptionConfig locates the exported domain description files.
// File is the hand-written template; DynamicFile is rewritten after every
// realisation and is the copy other orchestrators read.
type DomainDescriptionConfig struct {
	Topic                string `yaml:"topic"`
	File                 string `yaml:"file"`
	DynamicFile          string `yaml:"dynamic_file"`
	CapabilitiesAppName  string `yaml:"capabilities_app_name"`
	DiscoverCapabilities bool   `yaml:"discover_capabilities"`
}

// LockingConfig selects the switch-lock backend. The redis backend allows
// several orchestrator replicas to share one data plane.
type LockingConfig struct {
	Backend      string `yaml:"backend"`
	RedisAddress string `yaml:"redis_address"`
	RedisDB      int    `yaml:"redis_db"`
	RedisPrefix  string `yaml:"redis_prefix"`
}

// OtherOptionsConfig collects behaviour switches kept for parity with
// existing deployments.
type OtherOptionsConfig struct {
	ConsolePrint       bool `yaml:"console_print"`
	UseInterfacesNames bool `yaml:"use_interfaces_names"`
	Jolnet             bool `yaml:"jolnet"`
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration %s: %w", path, err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing configuration %s: %w", path, err)
	}

	applyDefaults(&c)
	c.allowedVlans = util.ParseVlanRanges(c.Vlan.AvailableIDs)

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Path resolves the configuration path from the flag value, the environment,
// or the default, in that order.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultPath
}

func applyDefaults(c *Config) {
	if c.Orchestrator.IP == "" {
		c.Orchestrator.IP = "0.0.0.0"
	}
	if c.Orchestrator.Port == 0 {
		c.Orchestrator.Port = 9000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Authentication.TokenExpiration == 0 {
		c.Authentication.TokenExpiration = 86400
	}
	if c.Database.Connection == "" {
		c.Database.Connection = "dorch.db"
	}
	if c.NetworkController.Name == "" {
		c.NetworkController.Name = ControllerONOS
	}
	if c.OVSDB.NodePort == 0 {
		c.OVSDB.NodePort = 6632
	}
	if c.Locking.Backend == "" {
		c.Locking.Backend = LockingLocal
	}
	if c.Locking.RedisPrefix == "" {
		c.Locking.RedisPrefix = "dorch"
	}
	if c.DomainDescription.Topic == "" {
		c.DomainDescription.Topic = "dorch:domain-description"
	}
}

func (c *Config) validate() error {
	v := &ValidationBuilder{}

	v.Add(c.Orchestrator.Port > 0 && c.Orchestrator.Port < 65536,
		fmt.Sprintf("orchestrator.port %d out of range", c.Orchestrator.Port))
	v.Add(len(c.allowedVlans) > 0,
		fmt.Sprintf("vlan.available_ids %q yields no usable range", c.Vlan.AvailableIDs))
	v.Add(c.Authentication.TokenExpiration > 0,
		"authentication.token_expiration must be positive")

	switch c.NetworkController.Name {
	case ControllerONOS:
		v.Add(c.ONOS.Endpoint != "", "onos.endpoint is required when network_controller.name is onos")
	case ControllerOpenDaylight:
		v.Add(c.OpenDaylight.Endpoint != "", "opendaylight.endpoint is required when network_controller.name is opendaylight")
	default:
		v.AddErrorf("network_controller.name %q is not supported (onos, opendaylight)", c.NetworkController.Name)
	}

	if c.OVSDB.Support {
		v.Add(util.IsValidIPv4(c.OVSDB.NodeIP),
			fmt.Sprintf("ovsdb.node_ip %q is not a valid IPv4 address", c.OVSDB.NodeIP))
	}

	switch c.Locking.Backend {
	case LockingLocal:
	case LockingRedis:
		v.Add(c.Locking.RedisAddress != "", "locking.redis_address is required when locking.backend is redis")
	default:
		v.AddErrorf("locking.backend %q is not supported (local, redis)", c.Locking.Backend)
	}

	if c.Messaging.Activate {
		v.Add(c.Messaging.BrokerAddress != "", "messaging.broker_address is required when messaging.activate is true")
		v.Add(c.DomainDescription.File != "", "domain_description.file is required when messaging.activate is true")
	}
	if c.DomainDescription.File != "" {
		v.Add(c.DomainDescription.DynamicFile != "",
			"domain_description.dynamic_file is required when domain_description.file is set")
	}
	if c.NFConfiguration.InitialConfiguration {
		v.Add(c.NFConfiguration.ConfigServiceEndpoint != "",
			"nf_configuration.config_service_endpoint is required when initial_configuration is true")
	}

	return v.Build()
}

// ValidationBuilder is re-exported so callers share one accumulation idiom.
type ValidationBuilder = util.ValidationBuilder

// AllowedVlans returns the parsed transport VLAN ranges, sorted ascending.
func (c *Config) AllowedVlans() []util.VlanRange {
	return c.allowedVlans
}

// ListenAddr returns the host:port string for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Orchestrator.IP, c.Orchestrator.Port)
}

// ControllerConfig returns endpoint, username, password and version for the
// selected controller.
func (c *Config) ControllerConfig() (endpoint, username, password, version string) {
	if c.NetworkController.Name == ControllerOpenDaylight {
		o := c.OpenDaylight
		return o.Endpoint, o.Username, o.Password, o.Version
	}
	o := c.ONOS
	return o.Endpoint, o.Username, o.Password, o.Version
}
