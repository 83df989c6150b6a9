package typelib

import (
	"net"
	"sync"

	"github.com/typestore/typestore/internal/wire"
)

// FileInfo describes one stored file as reported by the cluster.
type FileInfo struct {
	Name   string
	Path   string
	Size   uint64
	SHA256 string
	Type   string
}

// Listing is the aggregate result of a list call. Warnings name the
// partitions that could not be queried.
type Listing struct {
	Files    []FileInfo
	Warnings []string
}

// Client speaks the framed protocol to a coordinator (or directly to a
// storage node) over one persistent connection.
//
// Mu serializes calls: the protocol interleaves control frames with raw
// byte phases, so two concurrent operations on one connection would
// corrupt each other's framing.
type Client struct {
	addr  string
	conn  net.Conn
	codec *wire.Codec

	mu sync.Mutex
}
