package wire

import (
	"errors"
	"fmt"
)

// Protocol and request error kinds. The string form of each kind travels
// in the "detail" field of error responses, so the mapping below is part
// of the wire contract.
var (
	ErrFraming           = errors.New("connection closed mid-frame")
	ErrMalformedPayload  = errors.New("payload is not valid JSON")
	ErrFrameTooLarge     = errors.New("frame exceeds the maximum message size")
	ErrIntegrityMismatch = errors.New("stored bytes disagree with the declared digest or size")
	ErrPathTraversal     = errors.New("path escapes the storage root")
	ErrNotFound          = errors.New("file not found")
	ErrUnsupportedType   = errors.New("file extension maps to no type partition")
	ErrNodeUnavailable   = errors.New("storage node is unreachable")
	ErrPeerReplication   = errors.New("replication to peer failed")
)

var detailByErr = []struct {
	err    error
	detail string
}{
	{ErrFraming, "FramingError"},
	{ErrMalformedPayload, "MalformedPayload"},
	{ErrFrameTooLarge, "FrameTooLarge"},
	{ErrIntegrityMismatch, "IntegrityMismatch"},
	{ErrPathTraversal, "PathTraversal"},
	{ErrNotFound, "NotFound"},
	{ErrUnsupportedType, "UnsupportedType"},
	{ErrNodeUnavailable, "NodeUnavailable"},
	{ErrPeerReplication, "PeerReplicationFailure"},
}

// DetailFor returns the wire detail string for err. Errors outside the
// protocol vocabulary are reported as InternalError so that a peer never
// sees raw Go error text in the detail field.
func DetailFor(err error) string {
	for _, m := range detailByErr {
		if errors.Is(err, m.err) {
			return m.detail
		}
	}
	return "InternalError"
}

// ErrorFor converts a received detail string back into the matching
// sentinel error, so callers can use errors.Is on remote failures.
func ErrorFor(detail string) error {
	for _, m := range detailByErr {
		if m.detail == detail {
			return m.err
		}
	}
	return fmt.Errorf("remote error: %s", detail)
}
