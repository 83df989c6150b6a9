// Package typelib is the Go client for a typestore cluster. It wraps the
// framed wire protocol behind upload, download, list and delete calls and
// verifies file integrity on both directions of the transfer.
package typelib

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/typestore/typestore/internal/wire"
)

const dialTimeout = 5 * time.Second

// Connect opens one persistent connection to addr.
func Connect(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %v", addr, err)
	}
	return &Client{addr: addr, conn: conn, codec: wire.NewCodec(0)}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// Upload streams size bytes from r under the given name. The caller
// supplies the hex SHA-256 of the stream; the receiving node re-derives
// it and rejects the upload on any mismatch.
func (c *Client) Upload(name string, size uint64, sha string, r io.Reader) (FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := wire.Message{Command: wire.CmdUpload, Name: name, Size: size, SHA256: sha}
	if err := c.codec.WriteMessage(c.conn, req); err != nil {
		return FileInfo{}, fmt.Errorf("sending upload request: %v", err)
	}

	goAhead, err := c.codec.ReadMessage(c.conn)
	if err != nil {
		return FileInfo{}, fmt.Errorf("reading go-ahead: %v", err)
	}
	if goAhead.Command != wire.CmdOK {
		return FileInfo{}, wire.ErrorFor(goAhead.Detail)
	}

	if _, err := io.CopyN(c.conn, r, int64(size)); err != nil {
		return FileInfo{}, fmt.Errorf("streaming %q: %v", name, err)
	}

	final, err := c.codec.ReadMessage(c.conn)
	if err != nil {
		return FileInfo{}, fmt.Errorf("reading upload result: %v", err)
	}
	if final.Command != wire.CmdOK {
		return FileInfo{}, wire.ErrorFor(final.Detail)
	}
	return FileInfo{Name: final.Name, Path: final.Path, Size: final.Size, SHA256: final.SHA256}, nil
}

// UploadFile hashes and uploads a local file. The stored name defaults to
// the file's base name; pass name to override it.
func (c *Client) UploadFile(localPath, name string) (FileInfo, error) {
	if name == "" {
		name = filepath.Base(localPath)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("opening %q: %v", localPath, err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return FileInfo{}, fmt.Errorf("hashing %q: %v", localPath, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return FileInfo{}, fmt.Errorf("rewinding %q: %v", localPath, err)
	}

	return c.Upload(name, uint64(size), hex.EncodeToString(h.Sum(nil)), f)
}

// Download copies the stored file at path into w, verifying the stream
// against the digest the server declared. A mismatch after a complete
// copy reports wire.ErrIntegrityMismatch; the bytes already written to w
// must then be discarded by the caller.
func (c *Client) Download(path string, w io.Writer) (FileInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := wire.Message{Command: wire.CmdDownload, Path: path}
	if err := c.codec.WriteMessage(c.conn, req); err != nil {
		return FileInfo{}, fmt.Errorf("sending download request: %v", err)
	}

	resp, err := c.codec.ReadMessage(c.conn)
	if err != nil {
		return FileInfo{}, fmt.Errorf("reading download response: %v", err)
	}
	if resp.Command != wire.CmdOK {
		return FileInfo{}, wire.ErrorFor(resp.Detail)
	}

	h := sha256.New()
	if _, err := io.CopyN(io.MultiWriter(w, h), c.conn, int64(resp.Size)); err != nil {
		return FileInfo{}, fmt.Errorf("reading download stream: %v", err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, resp.SHA256) {
		return FileInfo{}, fmt.Errorf("%w: downloaded %s, server declared %s", wire.ErrIntegrityMismatch, got, resp.SHA256)
	}

	return FileInfo{Name: resp.Name, Path: resp.Path, Size: resp.Size, SHA256: resp.SHA256}, nil
}

// List queries the given partition tags (all partitions when empty),
// optionally narrowed to a path prefix.
func (c *Client) List(filters []string, prefix string) (Listing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := wire.Message{Command: wire.CmdList, Filters: filters, Path: prefix}
	if err := c.codec.WriteMessage(c.conn, req); err != nil {
		return Listing{}, fmt.Errorf("sending list request: %v", err)
	}

	resp, err := c.codec.ReadMessage(c.conn)
	if err != nil {
		return Listing{}, fmt.Errorf("reading list response: %v", err)
	}
	if resp.Command != wire.CmdOK {
		return Listing{}, wire.ErrorFor(resp.Detail)
	}

	out := Listing{Warnings: resp.Warnings}
	for _, e := range resp.Entries {
		out.Files = append(out.Files, FileInfo{
			Name: e.Name, Path: e.Path, Size: e.Size, SHA256: e.SHA256, Type: e.Type,
		})
	}
	return out, nil
}

func (c *Client) Delete(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := wire.Message{Command: wire.CmdDelete, Path: path}
	if err := c.codec.WriteMessage(c.conn, req); err != nil {
		return fmt.Errorf("sending delete request: %v", err)
	}

	resp, err := c.codec.ReadMessage(c.conn)
	if err != nil {
		return fmt.Errorf("reading delete response: %v", err)
	}
	if resp.Command != wire.CmdOK {
		return wire.ErrorFor(resp.Detail)
	}
	return nil
}
