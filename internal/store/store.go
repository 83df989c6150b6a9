// Package store owns a storage node's directory subtree. Uploads follow a
// stage-verify-publish sequence: bytes are staged to a temporary file,
// checked against the declared size and SHA-256 digest, and only then
// renamed into place, so the stored tree never contains a corrupt or
// partial file.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/typestore/typestore/internal/filetype"
	"github.com/typestore/typestore/internal/log_service"
	"github.com/typestore/typestore/internal/wire"
)

const tmpSuffix = ".tmp"

// FileRecord describes one stored file. Path is relative to the storage
// root, slash-separated, and starts with the type partition directory.
type FileRecord struct {
	Name   string
	Path   string
	Size   uint64
	SHA256 string
	Type   filetype.Type
}

// DiskStore serves uploads, downloads, listings and deletes against a
// single directory subtree, partitioned by file type.
type DiskStore struct {
	root  string
	ls    log_service.LogService
	locks *pathLocks
}

func NewDiskStore(root string, ls log_service.LogService) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating storage root: %v", err)
	}

	return &DiskStore{
		root:  root,
		ls:    ls,
		locks: newPathLocks(),
	}, nil
}

// ResolveName sanitizes an upload name and returns the partition-relative
// path it would be stored under. It performs no I/O, so servers can reject
// a bad upload request before telling the client to start streaming.
func (s *DiskStore) ResolveName(name string) (rel string, ft filetype.Type, err error) {
	clean, err := sanitize(name)
	if err != nil {
		return "", "", err
	}

	ft, err = filetype.FromName(clean)
	if err != nil {
		return "", "", err
	}
	return path.Join(string(ft), clean), ft, nil
}

// Upload reads exactly size bytes from r into the path derived from name,
// verifying the SHA-256 digest incrementally. On any failure the staged
// temporary file is removed and nothing becomes visible.
func (s *DiskStore) Upload(name string, size uint64, declaredSHA string, r io.Reader) (FileRecord, error) {
	rel, ft, err := s.ResolveName(name)
	if err != nil {
		return FileRecord{}, err
	}

	s.locks.acquire(rel)
	defer s.locks.release(rel)

	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return FileRecord{}, fmt.Errorf("creating destination directory: %v", err)
	}

	tmp := abs + tmpSuffix
	fp, err := os.Create(tmp)
	if err != nil {
		return FileRecord{}, fmt.Errorf("staging %q: %v", rel, err)
	}

	published := false
	defer func() {
		fp.Close()
		if !published {
			os.Remove(tmp)
		}
	}()

	h := sha256.New()
	n, err := io.CopyN(io.MultiWriter(fp, h), r, int64(size))
	if err != nil {
		return FileRecord{}, fmt.Errorf("reading upload stream after %d of %d bytes: %w", n, size, err)
	}

	actualSHA := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actualSHA, declaredSHA) {
		s.ls.Warn(log_service.LogEvent{
			Message:  "Rejecting upload with digest mismatch",
			Metadata: map[string]any{"path": rel, "declared": declaredSHA, "actual": actualSHA},
		})
		return FileRecord{}, fmt.Errorf("%w: declared sha256 %s, stored bytes hash to %s", wire.ErrIntegrityMismatch, declaredSHA, actualSHA)
	}

	if err := fp.Close(); err != nil {
		return FileRecord{}, fmt.Errorf("closing staged file: %v", err)
	}
	if err := os.Rename(tmp, abs); err != nil {
		return FileRecord{}, fmt.Errorf("publishing %q: %v", rel, err)
	}
	published = true

	s.ls.Info(log_service.LogEvent{
		Message:  "Stored file",
		Metadata: map[string]any{"path": rel, "size": size, "sha256": actualSHA},
	})

	return FileRecord{
		Name:   path.Base(rel),
		Path:   rel,
		Size:   size,
		SHA256: actualSHA,
		Type:   ft,
	}, nil
}

// Open returns the record and a read handle for a stored path. The handle
// stays valid even if the file is deleted while a download is in flight.
func (s *DiskStore) Open(relPath string) (FileRecord, io.ReadCloser, error) {
	rel, err := sanitize(relPath)
	if err != nil {
		return FileRecord{}, nil, err
	}

	s.locks.acquire(rel)
	defer s.locks.release(rel)

	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	fi, err := os.Stat(abs)
	if err != nil || fi.IsDir() {
		return FileRecord{}, nil, fmt.Errorf("%w: %q", wire.ErrNotFound, rel)
	}

	sha, err := fileSHA256(abs)
	if err != nil {
		return FileRecord{}, nil, fmt.Errorf("hashing %q: %v", rel, err)
	}

	fp, err := os.Open(abs)
	if err != nil {
		return FileRecord{}, nil, fmt.Errorf("%w: %q", wire.ErrNotFound, rel)
	}

	ft, err := filetype.FromPath(rel)
	if err != nil {
		ft = ""
	}

	return FileRecord{
		Name:   path.Base(rel),
		Path:   rel,
		Size:   uint64(fi.Size()),
		SHA256: sha,
		Type:   ft,
	}, fp, nil
}

// Delete removes a stored file. Deleting an absent path fails with
// NotFound; a second delete of the same path is therefore an error, not a
// no-op.
func (s *DiskStore) Delete(relPath string) error {
	rel, err := sanitize(relPath)
	if err != nil {
		return err
	}

	s.locks.acquire(rel)
	defer s.locks.release(rel)

	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %q", wire.ErrNotFound, rel)
		}
		return fmt.Errorf("deleting %q: %v", rel, err)
	}

	s.ls.Info(log_service.LogEvent{
		Message:  "Deleted file",
		Metadata: map[string]any{"path": rel},
	})
	return nil
}

// List returns the records whose type is in filters (empty = all types)
// and whose path starts with prefix, ordered by path.
func (s *DiskStore) List(filters []filetype.Type, prefix string) ([]FileRecord, error) {
	wanted := make(map[filetype.Type]bool, len(filters))
	for _, f := range filters {
		wanted[f] = true
	}

	var records []FileRecord
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(d.Name(), tmpSuffix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		seg, _, _ := strings.Cut(rel, "/")
		if !filetype.Valid(seg) {
			return nil
		}
		ft := filetype.Type(seg)

		if len(wanted) > 0 && !wanted[ft] {
			return nil
		}
		if prefix != "" && !strings.HasPrefix(rel, prefix) {
			return nil
		}

		fi, err := d.Info()
		if os.IsNotExist(err) {
			// Deleted between readdir and stat.
			return nil
		} else if err != nil {
			return err
		}

		sha, err := fileSHA256(p)
		if err != nil {
			return err
		}

		records = append(records, FileRecord{
			Name:   path.Base(rel),
			Path:   rel,
			Size:   uint64(fi.Size()),
			SHA256: sha,
			Type:   ft,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking storage tree: %v", err)
	}

	slices.SortFunc(records, func(a, b FileRecord) int {
		return strings.Compare(a.Path, b.Path)
	})
	return records, nil
}

// sanitize validates a client-supplied name or path and normalizes it to
// a slash-separated relative path. Absolute paths, parent-directory
// segments and null bytes are rejected before any filesystem access.
func sanitize(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: invalid name", wire.ErrPathTraversal)
	}

	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %q", wire.ErrPathTraversal, name)
	}

	clean := path.Clean(slashed)
	if clean == "." {
		return "", fmt.Errorf("%w: empty path", wire.ErrPathTraversal)
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", wire.ErrPathTraversal, name)
		}
	}
	return clean, nil
}

func fileSHA256(abs string) (string, error) {
	fp, err := os.Open(abs)
	if err != nil {
		return "", err
	}
	defer fp.Close()

	h := sha256.New()
	if _, err := io.Copy(h, fp); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
