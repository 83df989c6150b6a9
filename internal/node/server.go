// Package node implements the storage node's control protocol: a TCP
// server handling upload, download, list and delete from clients and the
// coordinator, plus file_added / file_removed from a replication primary.
package node

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/typestore/typestore/internal/filetype"
	"github.com/typestore/typestore/internal/log_service"
	"github.com/typestore/typestore/internal/replication"
	"github.com/typestore/typestore/internal/store"
	"github.com/typestore/typestore/internal/wire"
)

// Server handles one worker per accepted connection; commands within a
// connection are processed strictly in arrival order.
type Server struct {
	ls    log_service.LogService
	store *store.DiskStore
	codec *wire.Codec
	repl  replication.Replicator

	mu       sync.Mutex
	listener net.Listener
	closed   bool

	conns sync.WaitGroup
}

func NewServer(ls log_service.LogService, st *store.DiskStore, codec *wire.Codec, repl replication.Replicator) *Server {
	return &Server{
		ls:    ls,
		store: st,
		codec: codec,
		repl:  repl,
	}
}

func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %v", addr, err)
	}
	return s.Serve(l)
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return errors.New("server is closed")
	}
	s.listener = l
	s.mu.Unlock()

	s.ls.Info(log_service.LogEvent{
		Message:  "Storage node listening",
		Metadata: map[string]any{"addr": l.Addr().String()},
	})

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %v", err)
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting, waits for in-flight connections, and drains any
// replication still propagating.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	l := s.listener
	s.mu.Unlock()

	if l != nil {
		l.Close()
	}
	s.conns.Wait()
	s.repl.Wait()
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		msg, err := s.codec.ReadMessage(conn)
		if err != nil {
			if err == io.EOF {
				return
			}
			// The stream cannot be trusted past a framing or size
			// violation; report best-effort and drop the connection.
			s.codec.WriteMessage(conn, wire.Error(err))
			return
		}

		if fatal := s.dispatch(conn, msg); fatal {
			return
		}
	}
}

// dispatch runs one command. It returns true when the connection is no
// longer usable for further framed messages.
func (s *Server) dispatch(conn net.Conn, msg wire.Message) bool {
	switch msg.Command {
	case wire.CmdUpload:
		return s.handleUpload(conn, msg)
	case wire.CmdDownload:
		return s.handleDownload(conn, msg)
	case wire.CmdList:
		return s.handleList(conn, msg)
	case wire.CmdDelete:
		return s.handleDelete(conn, msg)
	case wire.CmdFileAdded:
		return s.handleFileAdded(conn, msg)
	case wire.CmdFileRemoved:
		return s.handleFileRemoved(conn, msg)
	default:
		s.ls.Warn(log_service.LogEvent{
			Message:  "Unknown command",
			Metadata: map[string]any{"command": msg.Command},
		})
		s.codec.WriteMessage(conn, wire.Error(wire.ErrMalformedPayload))
		return false
	}
}

// handleUpload implements the client-facing upload exchange: the request
// is validated before the go-ahead so a rejected client never starts
// streaming, then exactly msg.Size bytes are staged and verified.
func (s *Server) handleUpload(conn net.Conn, msg wire.Message) bool {
	if _, _, err := s.store.ResolveName(msg.Name); err != nil {
		s.codec.WriteMessage(conn, wire.Error(err))
		return false
	}

	if err := s.codec.WriteMessage(conn, wire.OK()); err != nil {
		return true
	}

	rec, err := s.store.Upload(msg.Name, msg.Size, msg.SHA256, conn)
	if err != nil {
		s.codec.WriteMessage(conn, wire.Error(err))
		// An integrity mismatch consumed exactly the declared bytes, so
		// the framing is still in sync; anything else leaves the stream
		// in an unknown position.
		return !errors.Is(err, wire.ErrIntegrityMismatch)
	}

	if err := s.codec.WriteMessage(conn, recordResponse(rec)); err != nil {
		return true
	}

	s.repl.FileAdded(rec)
	return false
}

func (s *Server) handleDownload(conn net.Conn, msg wire.Message) bool {
	rec, rc, err := s.store.Open(msg.Path)
	if err != nil {
		s.codec.WriteMessage(conn, wire.Error(err))
		return false
	}
	defer rc.Close()

	if err := s.codec.WriteMessage(conn, recordResponse(rec)); err != nil {
		return true
	}

	if _, err := io.CopyN(conn, rc, int64(rec.Size)); err != nil {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Download stream aborted",
			Metadata: map[string]any{"path": rec.Path, "error": err.Error()},
		})
		return true
	}
	return false
}

func (s *Server) handleList(conn net.Conn, msg wire.Message) bool {
	var filters []filetype.Type
	for _, tag := range msg.Filters {
		if filetype.Valid(tag) {
			filters = append(filters, filetype.Type(tag))
		}
	}

	records, err := s.store.List(filters, msg.Path)
	if err != nil {
		s.codec.WriteMessage(conn, wire.Error(err))
		return false
	}

	resp := wire.Message{Command: wire.CmdOK, Entries: make([]wire.Entry, 0, len(records))}
	for _, rec := range records {
		resp.Entries = append(resp.Entries, entryFor(rec))
	}
	return s.codec.WriteMessage(conn, resp) != nil
}

func (s *Server) handleDelete(conn net.Conn, msg wire.Message) bool {
	if err := s.store.Delete(msg.Path); err != nil {
		s.codec.WriteMessage(conn, wire.Error(err))
		return false
	}

	if err := s.codec.WriteMessage(conn, wire.OK()); err != nil {
		return true
	}

	s.repl.FileRemoved(msg.Path)
	return false
}

// handleFileAdded applies a pushed replication event. The raw stream
// follows the control message immediately, with no go-ahead, and the
// event never re-triggers replication.
func (s *Server) handleFileAdded(conn net.Conn, msg wire.Message) bool {
	rec, err := s.store.Upload(msg.Name, msg.Size, msg.SHA256, conn)
	if err != nil {
		s.codec.WriteMessage(conn, wire.Error(err))
		return !errors.Is(err, wire.ErrIntegrityMismatch)
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Applied replicated file",
		Metadata: map[string]any{"path": rec.Path, "size": rec.Size},
	})
	return s.codec.WriteMessage(conn, recordResponse(rec)) != nil
}

// handleFileRemoved deletes locally, tolerating absence: convergence is
// the goal, and a Removed event may overtake its Added counterpart.
func (s *Server) handleFileRemoved(conn net.Conn, msg wire.Message) bool {
	err := s.store.Delete(msg.Path)
	if err != nil && !errors.Is(err, wire.ErrNotFound) {
		s.codec.WriteMessage(conn, wire.Error(err))
		return false
	}

	return s.codec.WriteMessage(conn, wire.OK()) != nil
}

func recordResponse(rec store.FileRecord) wire.Message {
	return wire.Message{
		Command: wire.CmdOK,
		Name:    rec.Name,
		Path:    rec.Path,
		Size:    rec.Size,
		SHA256:  rec.SHA256,
	}
}

func entryFor(rec store.FileRecord) wire.Entry {
	return wire.Entry{
		Name:   rec.Name,
		Path:   rec.Path,
		Size:   rec.Size,
		SHA256: rec.SHA256,
		Type:   string(rec.Type),
	}
}
