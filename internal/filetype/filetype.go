// Package filetype holds the fixed extension-to-partition mapping that
// routing and storage layout are built on.
package filetype

import (
	"fmt"
	"path"
	"strings"

	"github.com/typestore/typestore/internal/wire"
)

// Type names one storage partition. The values double as wire-level type
// tags and as partition directory names on disk.
type Type string

const (
	Image      Type = "image"
	Video      Type = "video"
	Audio      Type = "audio"
	Text       Type = "text"
	Compressed Type = "compressed"
)

// All returns every type in fixed enum order. The order is load-bearing:
// list aggregation with empty filters merges partitions in this order.
func All() []Type {
	return []Type{Image, Video, Audio, Text, Compressed}
}

var byExtension = map[string]Type{
	"jpg": Image, "jpeg": Image, "png": Image, "gif": Image, "bmp": Image,
	"mp4": Video, "mkv": Video, "webm": Video, "flv": Video, "avi": Video,
	"mp3": Audio, "m4a": Audio, "flac": Audio, "ogg": Audio,
	"txt": Text, "md": Text, "pdf": Text,
	"zip": Compressed, "rar": Compressed, "7z": Compressed,
}

// Valid reports whether tag names a known type partition.
func Valid(tag string) bool {
	switch Type(tag) {
	case Image, Video, Audio, Text, Compressed:
		return true
	}
	return false
}

// FromName derives the type from a file name's extension, case-insensitively.
func FromName(name string) (Type, error) {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no extension", wire.ErrUnsupportedType, name)
	}

	t, ok := byExtension[ext]
	if !ok {
		return "", fmt.Errorf("%w: extension %q", wire.ErrUnsupportedType, ext)
	}
	return t, nil
}

// FromPath derives the type from a stored path. Paths handed out by storage
// nodes start with the partition directory (for example "image/cat.jpg"), so
// the leading segment wins; for bare names the extension decides.
func FromPath(p string) (Type, error) {
	if seg, _, ok := strings.Cut(p, "/"); ok && Valid(seg) {
		return Type(seg), nil
	}
	return FromName(p)
}
