package replication_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/typestore/typestore/internal/cluster"
	"github.com/typestore/typestore/internal/log_service"
	"github.com/typestore/typestore/internal/node"
	"github.com/typestore/typestore/internal/replication"
	"github.com/typestore/typestore/internal/store"
	"github.com/typestore/typestore/internal/wire"
)

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// startPeer runs a real storage node and returns its address along with
// the store backing it, so tests can inspect what replication delivered.
func startPeer(t *testing.T) (cluster.Node, *store.DiskStore) {
	t.Helper()

	ls := log_service.NewStderrLogService("peer-test")
	st, err := store.NewDiskStore(t.TempDir(), ls)
	if err != nil {
		t.Fatalf("NewDiskStore() = %v, want no error", err)
	}

	s := node.NewServer(ls, st, wire.NewCodec(0), replication.NoopReplicator{})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() = %v, want no error", err)
	}
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	tcp := l.Addr().(*net.TCPAddr)
	return cluster.Node{Host: "127.0.0.1", Port: tcp.Port, Role: cluster.RolePeer}, st
}

// deadPeer returns an address nothing listens on.
func deadPeer(t *testing.T) cluster.Node {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() = %v, want no error", err)
	}
	tcp := l.Addr().(*net.TCPAddr)
	l.Close()
	return cluster.Node{Host: "127.0.0.1", Port: tcp.Port, Role: cluster.RolePeer}
}

type failureRecorder struct {
	mu       sync.Mutex
	failures []error
}

func (f *failureRecorder) handle(_ cluster.Node, _ replication.Event, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, err)
}

func newPrimaryStore(t *testing.T) *store.DiskStore {
	t.Helper()

	st, err := store.NewDiskStore(t.TempDir(), log_service.NewStderrLogService("primary-test"))
	if err != nil {
		t.Fatalf("NewDiskStore() = %v, want no error", err)
	}
	return st
}

func TestFileAddedConvergesPeer(t *testing.T) {
	primary := newPrimaryStore(t)
	peer, peerStore := startPeer(t)
	data := []byte("replicate me")

	rec, err := primary.Upload("cat.jpg", uint64(len(data)), digest(data), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Upload() = %v, want no error", err)
	}

	failures := &failureRecorder{}
	r := replication.NewPushReplicator([]cluster.Node{peer}, primary.Open, wire.NewCodec(0), log_service.NewStderrLogService("repl-test"), failures.handle)
	r.FileAdded(rec)
	r.Wait()

	failures.mu.Lock()
	if len(failures.failures) != 0 {
		t.Fatalf("failures = %v, want none", failures.failures)
	}
	failures.mu.Unlock()

	got, rc, err := peerStore.Open("image/cat.jpg")
	if err != nil {
		t.Fatalf("peer Open() = %v, want no error", err)
	}
	defer rc.Close()
	if got.SHA256 != rec.SHA256 || got.Size != rec.Size {
		t.Errorf("peer record = %+v, want %+v", got, rec)
	}
	stored, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading peer copy: %v", err)
	}
	if !bytes.Equal(stored, data) {
		t.Errorf("peer bytes = %q, want %q", stored, data)
	}
}

func TestFileAddedPreservesSubdirectories(t *testing.T) {
	primary := newPrimaryStore(t)
	peer, peerStore := startPeer(t)
	data := []byte("nested")

	rec, err := primary.Upload("holiday/beach.jpg", uint64(len(data)), digest(data), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Upload() = %v, want no error", err)
	}

	r := replication.NewPushReplicator([]cluster.Node{peer}, primary.Open, wire.NewCodec(0), log_service.NewStderrLogService("repl-test"), nil)
	r.FileAdded(rec)
	r.Wait()

	if _, _, err := peerStore.Open("image/holiday/beach.jpg"); err != nil {
		t.Errorf("peer Open(image/holiday/beach.jpg) = %v, want the nested path preserved", err)
	}
}

func TestFileRemovedConvergesPeer(t *testing.T) {
	primary := newPrimaryStore(t)
	peer, peerStore := startPeer(t)
	data := []byte("short lived")

	rec, err := primary.Upload("tmp.txt", uint64(len(data)), digest(data), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Upload() = %v, want no error", err)
	}

	r := replication.NewPushReplicator([]cluster.Node{peer}, primary.Open, wire.NewCodec(0), log_service.NewStderrLogService("repl-test"), nil)
	r.FileAdded(rec)
	r.Wait()

	if err := primary.Delete(rec.Path); err != nil {
		t.Fatalf("Delete() = %v, want no error", err)
	}
	r.FileRemoved(rec.Path)
	r.Wait()

	if _, _, err := peerStore.Open(rec.Path); !errors.Is(err, wire.ErrNotFound) {
		t.Errorf("peer Open() after removal = %v, want ErrNotFound", err)
	}
}

func TestDeadPeerDoesNotBlockLiveOnes(t *testing.T) {
	primary := newPrimaryStore(t)
	live, liveStore := startPeer(t)
	dead := deadPeer(t)
	data := []byte("still delivered")

	rec, err := primary.Upload("clip.mp4", uint64(len(data)), digest(data), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Upload() = %v, want no error", err)
	}

	failures := &failureRecorder{}
	r := replication.NewPushReplicator([]cluster.Node{dead, live}, primary.Open, wire.NewCodec(0), log_service.NewStderrLogService("repl-test"), failures.handle)
	r.FileAdded(rec)
	r.Wait()

	if _, _, err := liveStore.Open(rec.Path); err != nil {
		t.Errorf("live peer Open() = %v, want no error", err)
	}

	failures.mu.Lock()
	defer failures.mu.Unlock()
	if len(failures.failures) != 1 {
		t.Fatalf("failures = %v, want exactly one for the dead peer", failures.failures)
	}
	if !errors.Is(failures.failures[0], wire.ErrPeerReplication) {
		t.Errorf("failure = %v, want ErrPeerReplication", failures.failures[0])
	}
}

func TestRemovedOfNeverAddedPathSucceeds(t *testing.T) {
	primary := newPrimaryStore(t)
	peer, _ := startPeer(t)

	failures := &failureRecorder{}
	r := replication.NewPushReplicator([]cluster.Node{peer}, primary.Open, wire.NewCodec(0), log_service.NewStderrLogService("repl-test"), failures.handle)
	r.FileRemoved("image/never-added.jpg")
	r.Wait()

	failures.mu.Lock()
	defer failures.mu.Unlock()
	if len(failures.failures) != 0 {
		t.Errorf("failures = %v, want none when the peer never held the path", failures.failures)
	}
}

func TestAddedSkipsWhenFileAlreadyDeleted(t *testing.T) {
	primary := newPrimaryStore(t)
	dead := deadPeer(t)
	data := []byte("gone before propagation")

	rec, err := primary.Upload("late.txt", uint64(len(data)), digest(data), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Upload() = %v, want no error", err)
	}
	if err := primary.Delete(rec.Path); err != nil {
		t.Fatalf("Delete() = %v, want no error", err)
	}

	// The open fails with NotFound before any dial happens, so even an
	// unreachable peer produces no failure.
	failures := &failureRecorder{}
	r := replication.NewPushReplicator([]cluster.Node{dead}, primary.Open, wire.NewCodec(0), log_service.NewStderrLogService("repl-test"), failures.handle)
	r.FileAdded(rec)
	r.Wait()

	failures.mu.Lock()
	defer failures.mu.Unlock()
	if len(failures.failures) != 0 {
		t.Errorf("failures = %v, want none when the file was already deleted", failures.failures)
	}
}
