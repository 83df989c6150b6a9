// Package coordinator implements the stateless router in front of the
// type-partitioned storage nodes. It holds only the read-only route
// table, opens a short-lived upstream connection per request, and relays
// control messages and raw byte streams without ever buffering a file.
package coordinator

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/typestore/typestore/internal/filetype"
	"github.com/typestore/typestore/internal/log_service"
	"github.com/typestore/typestore/internal/wire"
)

const defaultDialTimeout = 5 * time.Second

// Coordinator routes each request to the storage node owning the file's
// type partition.
type Coordinator struct {
	ls     log_service.LogService
	routes map[filetype.Type]string
	codec  *wire.Codec

	dialTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	closed   bool

	conns sync.WaitGroup
}

func NewCoordinator(ls log_service.LogService, routes map[filetype.Type]string, codec *wire.Codec) *Coordinator {
	return &Coordinator{
		ls:          ls,
		routes:      routes,
		codec:       codec,
		dialTimeout: defaultDialTimeout,
	}
}

func (c *Coordinator) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %v", addr, err)
	}
	return c.Serve(l)
}

func (c *Coordinator) Serve(l net.Listener) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		l.Close()
		return errors.New("coordinator is closed")
	}
	c.listener = l
	c.mu.Unlock()

	c.ls.Info(log_service.LogEvent{
		Message:  "Coordinator listening",
		Metadata: map[string]any{"addr": l.Addr().String(), "partitions": len(c.routes)},
	})

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting connection: %v", err)
		}

		c.conns.Add(1)
		go func() {
			defer c.conns.Done()
			c.handleConn(conn)
		}()
	}
}

func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	l := c.listener
	c.mu.Unlock()

	if l != nil {
		l.Close()
	}
	c.conns.Wait()
	return nil
}

func (c *Coordinator) handleConn(conn net.Conn) {
	defer conn.Close()

	for {
		msg, err := c.codec.ReadMessage(conn)
		if err != nil {
			if err == io.EOF {
				return
			}
			c.codec.WriteMessage(conn, wire.Error(err))
			return
		}

		if fatal := c.dispatch(conn, msg); fatal {
			return
		}
	}
}

func (c *Coordinator) dispatch(conn net.Conn, msg wire.Message) bool {
	switch msg.Command {
	case wire.CmdUpload:
		return c.proxyUpload(conn, msg)
	case wire.CmdDownload:
		return c.proxyDownload(conn, msg)
	case wire.CmdDelete:
		return c.proxyDelete(conn, msg)
	case wire.CmdList:
		return c.aggregateList(conn, msg)
	default:
		c.codec.WriteMessage(conn, wire.Error(wire.ErrMalformedPayload))
		return false
	}
}

// resolve maps a file type to the owning node's address.
func (c *Coordinator) resolve(ft filetype.Type) (string, error) {
	addr, ok := c.routes[ft]
	if !ok {
		return "", fmt.Errorf("%w: no node owns partition %q", wire.ErrUnsupportedType, ft)
	}
	return addr, nil
}

func (c *Coordinator) dial(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", wire.ErrNodeUnavailable, addr, err)
	}
	return conn, nil
}

// proxyUpload relays the control exchange and then pipes exactly the
// declared number of raw bytes from the client to the node.
func (c *Coordinator) proxyUpload(conn net.Conn, msg wire.Message) bool {
	ft, err := filetype.FromName(msg.Name)
	if err != nil {
		c.codec.WriteMessage(conn, wire.Error(err))
		return false
	}

	addr, err := c.resolve(ft)
	if err != nil {
		c.codec.WriteMessage(conn, wire.Error(err))
		return false
	}

	upstream, err := c.dial(addr)
	if err != nil {
		c.ls.Warn(log_service.LogEvent{
			Message:  "Upload target unreachable",
			Metadata: map[string]any{"type": string(ft), "addr": addr, "error": err.Error()},
		})
		c.codec.WriteMessage(conn, wire.Error(err))
		return false
	}
	defer upstream.Close()

	if err := c.codec.WriteMessage(upstream, msg); err != nil {
		c.codec.WriteMessage(conn, wire.Error(wire.ErrNodeUnavailable))
		return false
	}

	goAhead, err := c.codec.ReadMessage(upstream)
	if err != nil {
		c.codec.WriteMessage(conn, wire.Error(wire.ErrNodeUnavailable))
		return false
	}
	if err := c.codec.WriteMessage(conn, goAhead); err != nil {
		return true
	}
	if goAhead.Command != wire.CmdOK {
		// The node rejected the request before any bytes moved; the
		// client connection is still in sync.
		return false
	}

	if _, err := io.CopyN(upstream, conn, int64(msg.Size)); err != nil {
		return true
	}

	final, err := c.codec.ReadMessage(upstream)
	if err != nil {
		// The client's stream was fully consumed, so its connection is
		// reusable even though the node died on us.
		c.codec.WriteMessage(conn, wire.Error(wire.ErrNodeUnavailable))
		return false
	}
	return c.codec.WriteMessage(conn, final) != nil
}

func (c *Coordinator) proxyDownload(conn net.Conn, msg wire.Message) bool {
	upstream, fatal, ok := c.forward(conn, msg, msg.Path)
	if !ok {
		return fatal
	}
	defer upstream.conn.Close()

	if upstream.resp.Command != wire.CmdOK {
		return false
	}

	if _, err := io.CopyN(conn, upstream.conn, int64(upstream.resp.Size)); err != nil {
		return true
	}
	return false
}

func (c *Coordinator) proxyDelete(conn net.Conn, msg wire.Message) bool {
	upstream, fatal, ok := c.forward(conn, msg, msg.Path)
	if !ok {
		return fatal
	}
	upstream.conn.Close()
	return false
}

type forwarded struct {
	conn net.Conn
	resp wire.Message
}

// forward routes a path-addressed command to its node, relays the node's
// first response to the client, and hands the upstream connection back
// for any byte streaming that follows. ok is false when the exchange
// already completed (successfully or not).
func (c *Coordinator) forward(conn net.Conn, msg wire.Message, path string) (f forwarded, fatal bool, ok bool) {
	ft, err := filetype.FromPath(path)
	if err != nil {
		c.codec.WriteMessage(conn, wire.Error(err))
		return forwarded{}, false, false
	}

	addr, err := c.resolve(ft)
	if err != nil {
		c.codec.WriteMessage(conn, wire.Error(err))
		return forwarded{}, false, false
	}

	upstream, err := c.dial(addr)
	if err != nil {
		c.ls.Warn(log_service.LogEvent{
			Message:  "Route target unreachable",
			Metadata: map[string]any{"type": string(ft), "addr": addr, "command": msg.Command},
		})
		c.codec.WriteMessage(conn, wire.Error(err))
		return forwarded{}, false, false
	}

	if err := c.codec.WriteMessage(upstream, msg); err != nil {
		upstream.Close()
		c.codec.WriteMessage(conn, wire.Error(wire.ErrNodeUnavailable))
		return forwarded{}, false, false
	}

	resp, err := c.codec.ReadMessage(upstream)
	if err != nil {
		upstream.Close()
		c.codec.WriteMessage(conn, wire.Error(wire.ErrNodeUnavailable))
		return forwarded{}, false, false
	}

	if err := c.codec.WriteMessage(conn, resp); err != nil {
		upstream.Close()
		return forwarded{}, true, false
	}

	return forwarded{conn: upstream, resp: resp}, false, true
}

// aggregateList fans the request out to each partition named in filters
// (all partitions when the set is empty), one goroutine per tag, and
// merges the results in filter order. A partition that cannot answer
// becomes a warning in the aggregate response, never a hard failure.
func (c *Coordinator) aggregateList(conn net.Conn, msg wire.Message) bool {
	tags := msg.Filters
	if len(tags) == 0 {
		for _, ft := range filetype.All() {
			tags = append(tags, string(ft))
		}
	}

	type result struct {
		entries []wire.Entry
		warning string
	}
	results := make([]result, len(tags))

	var wg sync.WaitGroup
	for i, tag := range tags {
		if !filetype.Valid(tag) {
			results[i].warning = fmt.Sprintf("%s: UnsupportedType", tag)
			continue
		}

		addr, err := c.resolve(filetype.Type(tag))
		if err != nil {
			results[i].warning = fmt.Sprintf("%s: UnsupportedType", tag)
			continue
		}

		wg.Add(1)
		go func(i int, tag, addr string) {
			defer wg.Done()

			entries, err := c.queryList(addr, tag, msg.Path)
			if err != nil {
				c.ls.Warn(log_service.LogEvent{
					Message:  "List fan-out target failed",
					Metadata: map[string]any{"type": tag, "addr": addr, "error": err.Error()},
				})
				results[i].warning = fmt.Sprintf("%s: %s", tag, wire.DetailFor(err))
				return
			}
			results[i].entries = entries
		}(i, tag, addr)
	}
	wg.Wait()

	resp := wire.Message{Command: wire.CmdOK, Entries: []wire.Entry{}}
	for _, r := range results {
		resp.Entries = append(resp.Entries, r.entries...)
		if r.warning != "" {
			resp.Warnings = append(resp.Warnings, r.warning)
		}
	}
	return c.codec.WriteMessage(conn, resp) != nil
}

func (c *Coordinator) queryList(addr, tag, prefix string) ([]wire.Entry, error) {
	upstream, err := c.dial(addr)
	if err != nil {
		return nil, err
	}
	defer upstream.Close()

	req := wire.Message{Command: wire.CmdList, Filters: []string{tag}, Path: prefix}
	if err := c.codec.WriteMessage(upstream, req); err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrNodeUnavailable, err)
	}

	resp, err := c.codec.ReadMessage(upstream)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrNodeUnavailable, err)
	}
	if resp.Command != wire.CmdOK {
		return nil, wire.ErrorFor(resp.Detail)
	}
	return resp.Entries, nil
}
