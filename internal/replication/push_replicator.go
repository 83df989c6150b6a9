package replication

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/typestore/typestore/internal/cluster"
	"github.com/typestore/typestore/internal/log_service"
	"github.com/typestore/typestore/internal/store"
	"github.com/typestore/typestore/internal/wire"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultSendTimeout = 60 * time.Second
)

// OpenFunc hands out a fresh read handle for a published file so that
// every peer gets its own independent stream.
type OpenFunc func(relPath string) (store.FileRecord, io.ReadCloser, error)

// FailureHandler observes failed propagation attempts. Retry policies can
// be layered on top of this hook; none is built in.
type FailureHandler func(peer cluster.Node, ev Event, err error)

// PushReplicator sends file_added / file_removed events to every
// configured peer, one concurrent propagation per peer per event.
type PushReplicator struct {
	peers     []cluster.Node
	open      OpenFunc
	codec     *wire.Codec
	ls        log_service.LogService
	onFailure FailureHandler

	dialTimeout time.Duration
	sendTimeout time.Duration

	wg sync.WaitGroup
}

// NewPushReplicator creates a replicator for the given peer set. A nil
// onFailure installs a handler that only logs.
func NewPushReplicator(peers []cluster.Node, open OpenFunc, codec *wire.Codec, ls log_service.LogService, onFailure FailureHandler) *PushReplicator {
	r := &PushReplicator{
		peers:       peers,
		open:        open,
		codec:       codec,
		ls:          ls,
		onFailure:   onFailure,
		dialTimeout: defaultDialTimeout,
		sendTimeout: defaultSendTimeout,
	}
	if r.onFailure == nil {
		r.onFailure = func(cluster.Node, Event, error) {}
	}
	return r
}

func (r *PushReplicator) FileAdded(rec store.FileRecord) {
	ev := Event{ID: uuid.NewString(), Type: EventAdded, Record: rec}
	r.fanOut(ev)
}

func (r *PushReplicator) FileRemoved(path string) {
	ev := Event{ID: uuid.NewString(), Type: EventRemoved, Path: path}
	r.fanOut(ev)
}

func (r *PushReplicator) Wait() {
	r.wg.Wait()
}

func (r *PushReplicator) fanOut(ev Event) {
	for _, peer := range r.peers {
		r.wg.Add(1)
		go func(peer cluster.Node) {
			defer r.wg.Done()
			r.propagate(peer, ev)
		}(peer)
	}
}

func (r *PushReplicator) propagate(peer cluster.Node, ev Event) {
	var err error
	switch ev.Type {
	case EventAdded:
		err = r.sendAdded(peer, ev)
	case EventRemoved:
		err = r.sendRemoved(peer, ev)
	}

	if err != nil {
		r.ls.Error(log_service.LogEvent{
			Message: "Replication to peer failed",
			Metadata: map[string]any{
				"peer": peer.Addr(), "eventID": ev.ID, "eventType": string(ev.Type),
				"path": r.eventPath(ev), "error": err.Error(),
			},
		})
		r.onFailure(peer, ev, fmt.Errorf("%w: %v", wire.ErrPeerReplication, err))
		return
	}

	r.ls.Debug(log_service.LogEvent{
		Message: "Replicated event to peer",
		Metadata: map[string]any{
			"peer": peer.Addr(), "eventID": ev.ID, "eventType": string(ev.Type),
			"path": r.eventPath(ev),
		},
	})
}

func (r *PushReplicator) sendAdded(peer cluster.Node, ev Event) error {
	rec, rc, err := r.open(ev.Record.Path)
	if err != nil {
		// The file can legitimately be gone already if a delete raced the
		// propagation; the matching Removed event will converge the peer.
		if errors.Is(err, wire.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("opening %q for replication: %v", ev.Record.Path, err)
	}
	defer rc.Close()

	conn, err := r.dial(peer)
	if err != nil {
		return err
	}
	defer conn.Close()

	// The pushed name is the path without its partition prefix, so the
	// peer derives exactly the same stored path, subdirectories included.
	msg := wire.Message{
		Command: wire.CmdFileAdded,
		Name:    strings.TrimPrefix(rec.Path, string(rec.Type)+"/"),
		Path:    rec.Path,
		Size:    rec.Size,
		SHA256:  rec.SHA256,
	}
	if err := r.codec.WriteMessage(conn, msg); err != nil {
		return fmt.Errorf("sending file_added to %s: %v", peer.Addr(), err)
	}

	if _, err := io.CopyN(conn, rc, int64(rec.Size)); err != nil {
		return fmt.Errorf("streaming %q to %s: %v", rec.Path, peer.Addr(), err)
	}

	return r.awaitOK(conn, peer)
}

func (r *PushReplicator) sendRemoved(peer cluster.Node, ev Event) error {
	conn, err := r.dial(peer)
	if err != nil {
		return err
	}
	defer conn.Close()

	msg := wire.Message{Command: wire.CmdFileRemoved, Path: ev.Path}
	if err := r.codec.WriteMessage(conn, msg); err != nil {
		return fmt.Errorf("sending file_removed to %s: %v", peer.Addr(), err)
	}

	return r.awaitOK(conn, peer)
}

func (r *PushReplicator) dial(peer cluster.Node) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", peer.Addr(), r.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dialing peer %s: %v", peer.Addr(), err)
	}
	conn.SetDeadline(time.Now().Add(r.sendTimeout))
	return conn, nil
}

func (r *PushReplicator) awaitOK(conn net.Conn, peer cluster.Node) error {
	resp, err := r.codec.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("reading response from %s: %v", peer.Addr(), err)
	}
	if resp.Command != wire.CmdOK {
		return fmt.Errorf("peer %s rejected event: %w", peer.Addr(), wire.ErrorFor(resp.Detail))
	}
	return nil
}

func (r *PushReplicator) eventPath(ev Event) string {
	if ev.Type == EventAdded {
		return ev.Record.Path
	}
	return ev.Path
}
