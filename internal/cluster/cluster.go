// Package cluster holds the static membership view a process is started
// with. The node set is fixed for the lifetime of a run; there is no
// dynamic membership protocol.
package cluster

import (
	"net"
	"strconv"
)

type Role string

const (
	RolePrimary Role = "primary"
	RolePeer    Role = "peer"
)

// Node identifies one storage node in a replication group.
type Node struct {
	Host string
	Port int
	Role Role
}

func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}
