package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "upload request",
			msg:  Message{Command: CmdUpload, Name: "cat.jpg", Size: 1234, SHA256: "abcd"},
		},
		{
			name: "list response with entries",
			msg: Message{
				Command: CmdOK,
				Entries: []Entry{
					{Name: "cat.jpg", Path: "image/cat.jpg", Size: 12, SHA256: "ff", Type: "image"},
					{Name: "clip.mp4", Path: "video/clip.mp4", Size: 99, SHA256: "aa", Type: "video"},
				},
				Warnings: []string{"audio: NodeUnavailable"},
			},
		},
		{
			name: "error response",
			msg:  Message{Command: CmdError, Detail: "NotFound"},
		},
	}

	codec := NewCodec(0)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := codec.WriteMessage(&buf, tt.msg); err != nil {
				t.Fatalf("WriteMessage() = %v, want no error", err)
			}

			got, err := codec.ReadMessage(&buf)
			if err != nil {
				t.Fatalf("ReadMessage() = %v, want no error", err)
			}

			if got.Command != tt.msg.Command || got.Name != tt.msg.Name || got.Detail != tt.msg.Detail {
				t.Errorf("ReadMessage() = %+v, want %+v", got, tt.msg)
			}
			if len(got.Entries) != len(tt.msg.Entries) {
				t.Errorf("len(Entries) = %d, want %d", len(got.Entries), len(tt.msg.Entries))
			}
		})
	}
}

func TestReadMessageCleanEOF(t *testing.T) {
	codec := NewCodec(0)

	_, err := codec.ReadMessage(bytes.NewReader(nil))
	if err != io.EOF {
		t.Errorf("ReadMessage(empty stream) = %v, want io.EOF", err)
	}
}

func TestReadMessageTruncated(t *testing.T) {
	codec := NewCodec(0)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "cut inside prefix", data: []byte{0x00, 0x00}},
		{name: "cut inside payload", data: append(prefix(100), []byte(`{"command":`)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.ReadMessage(bytes.NewReader(tt.data))
			if !errors.Is(err, ErrFraming) {
				t.Errorf("ReadMessage() = %v, want ErrFraming", err)
			}
		})
	}
}

func TestReadMessageMalformedJSON(t *testing.T) {
	codec := NewCodec(0)

	payload := []byte("this is not json")
	_, err := codec.ReadMessage(bytes.NewReader(append(prefix(len(payload)), payload...)))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("ReadMessage() = %v, want ErrMalformedPayload", err)
	}
}

func TestFrameTooLarge(t *testing.T) {
	codec := NewCodec(16)

	_, err := codec.ReadMessage(bytes.NewReader(prefix(17)))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("ReadMessage(oversized prefix) = %v, want ErrFrameTooLarge", err)
	}

	var buf bytes.Buffer
	err = codec.WriteMessage(&buf, Message{Command: CmdUpload, Name: "a-name-that-certainly-overflows-sixteen-bytes.jpg"})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("WriteMessage(oversized message) = %v, want ErrFrameTooLarge", err)
	}
}

func TestDetailRoundTrip(t *testing.T) {
	kinds := []error{
		ErrFraming, ErrMalformedPayload, ErrFrameTooLarge, ErrIntegrityMismatch,
		ErrPathTraversal, ErrNotFound, ErrUnsupportedType, ErrNodeUnavailable,
		ErrPeerReplication,
	}

	for _, kind := range kinds {
		detail := DetailFor(kind)
		if got := ErrorFor(detail); got != kind {
			t.Errorf("ErrorFor(DetailFor(%v)) = %v, want identity", kind, got)
		}
	}

	if got := DetailFor(errors.New("disk on fire")); got != "InternalError" {
		t.Errorf("DetailFor(unknown) = %q, want InternalError", got)
	}
}

func prefix(n int) []byte {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(n))
	return hdr[:]
}
