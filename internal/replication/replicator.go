// Package replication propagates a primary node's mutations to its peer
// nodes. Propagation is asynchronous and best-effort: a peer that cannot
// be reached never fails the client-facing operation and never blocks the
// other peers.
package replication

import (
	"github.com/typestore/typestore/internal/store"
)

type EventType string

const (
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
)

// Event is one replicated mutation. It exists only in flight between the
// primary and its peers.
type Event struct {
	ID   string
	Type EventType

	// Record is set for Added events.
	Record store.FileRecord

	// Path is set for Removed events.
	Path string
}

// Replicator receives local mutations after they have been published.
type Replicator interface {
	// FileAdded propagates a freshly stored file to all peers. It must
	// not block the caller on network I/O.
	FileAdded(rec store.FileRecord)

	// FileRemoved propagates a delete to all peers.
	FileRemoved(path string)

	// Wait blocks until every propagation launched so far has finished,
	// successfully or not.
	Wait()
}

// NoopReplicator is used by peer and standalone nodes, which never
// originate replication traffic.
type NoopReplicator struct{}

func (NoopReplicator) FileAdded(store.FileRecord) {}
func (NoopReplicator) FileRemoved(string)         {}
func (NoopReplicator) Wait()                      {}
