// Package config loads the static cluster description every binary is
// started with: the type-to-node route table, the local node's identity
// and peers, and the coordinator listen address.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/typestore/typestore/internal/cluster"
	"github.com/typestore/typestore/internal/filetype"
)

// Address is one host/port pair in the configuration file.
type Address struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (a Address) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Node describes the local storage node.
type Node struct {
	ID      string    `yaml:"id"`
	Listen  string    `yaml:"listen"`
	DataDir string    `yaml:"data_dir"`
	Role    string    `yaml:"role"`
	Peers   []Address `yaml:"peers"`
}

// Coordinator describes the local coordinator process.
type Coordinator struct {
	Listen string `yaml:"listen"`
}

// Config is the top-level configuration file. A single file can describe
// a whole deployment; each process reads the sections it needs.
type Config struct {
	// Servers maps a type tag to the storage node owning that partition.
	Servers map[string]Address `yaml:"servers"`

	Node        Node        `yaml:"node"`
	Coordinator Coordinator `yaml:"coordinator"`

	MaxFrameBytes uint32 `yaml:"max_frame_bytes"`
	LogDir        string `yaml:"log_dir"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %v", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %v", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Node.ID == "" {
		cfg.Node.ID = uuid.NewString()
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	tags := maps.Keys(c.Servers)
	slices.Sort(tags)
	for _, tag := range tags {
		if !filetype.Valid(tag) {
			return fmt.Errorf("servers: unknown type tag %q", tag)
		}
	}

	switch c.Node.Role {
	case "", string(cluster.RolePrimary), string(cluster.RolePeer):
	default:
		return fmt.Errorf("node: unknown role %q", c.Node.Role)
	}

	if c.Node.Role != string(cluster.RolePrimary) && len(c.Node.Peers) > 0 {
		return fmt.Errorf("node: peers are only meaningful for role %q", cluster.RolePrimary)
	}
	return nil
}

// Routes converts the servers section into the coordinator's route table.
// Map keys are unique, so each type has exactly one owning node.
func (c *Config) Routes() map[filetype.Type]string {
	routes := make(map[filetype.Type]string, len(c.Servers))
	for tag, addr := range c.Servers {
		routes[filetype.Type(tag)] = addr.Addr()
	}
	return routes
}

// Peers converts the node's peer list into replication targets.
func (c *Config) Peers() []cluster.Node {
	peers := make([]cluster.Node, 0, len(c.Node.Peers))
	for _, p := range c.Node.Peers {
		peers = append(peers, cluster.Node{Host: p.Host, Port: p.Port, Role: cluster.RolePeer})
	}
	return peers
}
