// Package config loads wearbridge configuration.
//
// Configuration comes from a single YAML file named by the --config flag
// or the WEARBRIDGE_CONFIG environment variable. Without either the
// built-in defaults are used. Command-line flags override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mbocsi/wearbridge/bridge"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "WEARBRIDGE_CONFIG"

type Config struct {
	Log  LogConfig  `yaml:"log"`
	Hub  HubConfig  `yaml:"hub"`
	Node NodeConfig `yaml:"node"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
	// Output is stdout or stderr.
	Output string `yaml:"output"`
}

type HubConfig struct {
	// Name is the mDNS instance name.
	Name       string `yaml:"name"`
	TCPAddr    string `yaml:"tcp_addr"`
	WSAddr     string `yaml:"ws_addr"`
	WebAddr    string `yaml:"web_addr"`
	MaxClients int    `yaml:"max_clients"`
	// Snapshot is the file the data store is restored from and saved to.
	// Empty keeps the store in memory only.
	Snapshot string `yaml:"snapshot"`
	MDNS     bool   `yaml:"mdns"`
	// MCP serves the MCP tools on stdin/stdout. Logs then go to stderr.
	MCP bool `yaml:"mcp"`
}

type NodeConfig struct {
	Name string `yaml:"name"`
	// HubAddr is host:port of the hub. Empty discovers it over mDNS.
	HubAddr string `yaml:"hub_addr"`
	// Transport is tcp or websocket.
	Transport      string        `yaml:"transport"`
	Firmware       string        `yaml:"firmware"`
	Capabilities   []string      `yaml:"capabilities"`
	Relayed        bool          `yaml:"relayed"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	DiscoveryTime  time.Duration `yaml:"discovery_timeout"`
	// ReadTarget is most-recently-connected or last-reported.
	ReadTarget string `yaml:"read_target"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Hub: HubConfig{
			Name:    "wearbridge",
			TCPAddr: "0.0.0.0:8888",
			WSAddr:  "0.0.0.0:8889",
			WebAddr: ":8080",
			MDNS:    true,
		},
		Node: NodeConfig{
			Transport:      "tcp",
			Firmware:       "v1.0.0",
			RequestTimeout: 10 * time.Second,
			DiscoveryTime:  5 * time.Second,
			ReadTarget:     bridge.MostRecentlyConnected.String(),
		},
	}
}

// Load reads the file at path, or the file named by WEARBRIDGE_CONFIG
// when path is empty. With neither it returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads path over the defaults and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	if c.Log.Output != "stdout" && c.Log.Output != "stderr" {
		errs = append(errs, fmt.Errorf("log.output must be stdout or stderr, got %q", c.Log.Output))
	}

	if c.Hub.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("hub.max_clients must not be negative"))
	}
	if c.Hub.TCPAddr == "" && c.Hub.WSAddr == "" {
		errs = append(errs, fmt.Errorf("hub needs at least one of tcp_addr and ws_addr"))
	}
	if c.Hub.MCP && c.Log.Output == "stdout" {
		errs = append(errs, fmt.Errorf("hub.mcp needs log.output stderr"))
	}

	if c.Node.Transport != "tcp" && c.Node.Transport != "websocket" {
		errs = append(errs, fmt.Errorf("node.transport must be tcp or websocket, got %q", c.Node.Transport))
	}
	if c.Node.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("node.request_timeout must be positive"))
	}
	if _, err := c.Node.Target(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Target parses ReadTarget.
func (n NodeConfig) Target() (bridge.ReadTarget, error) {
	switch n.ReadTarget {
	case "", bridge.MostRecentlyConnected.String():
		return bridge.MostRecentlyConnected, nil
	case bridge.LastReported.String():
		return bridge.LastReported, nil
	default:
		return 0, fmt.Errorf("node.read_target must be %s or %s, got %q",
			bridge.MostRecentlyConnected, bridge.LastReported, n.ReadTarget)
	}
}
