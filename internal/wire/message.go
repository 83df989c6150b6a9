package wire

// Command values carried in the "command" field of every control message.
const (
	CmdUpload   = "upload"
	CmdDownload = "download"
	CmdList     = "list"
	CmdDelete   = "delete"

	// Peer-facing commands used by the replication engine.
	CmdFileAdded   = "file_added"
	CmdFileRemoved = "file_removed"

	// Status responses.
	CmdOK    = "ok"
	CmdError = "error"
)

// Entry describes one stored file in a list response.
type Entry struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Size   uint64 `json:"size"`
	SHA256 string `json:"sha256"`
	Type   string `json:"type"`
}

// Message is the single control-message shape exchanged between clients,
// the coordinator, storage nodes and replication peers. Fields that do not
// apply to a command are left zero and omitted from the JSON encoding.
//
// File bytes never travel inside a Message; they are streamed raw on the
// same connection immediately after the control message that declares
// their size.
type Message struct {
	Command  string   `json:"command"`
	Name     string   `json:"name,omitempty"`
	Path     string   `json:"path,omitempty"`
	Size     uint64   `json:"size,omitempty"`
	SHA256   string   `json:"sha256,omitempty"`
	Filters  []string `json:"filters,omitempty"`
	Detail   string   `json:"detail,omitempty"`
	Entries  []Entry  `json:"entries,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// OK builds a bare success response.
func OK() Message {
	return Message{Command: CmdOK}
}

// Error builds an error response whose detail names the error kind.
func Error(err error) Message {
	return Message{Command: CmdError, Detail: DetailFor(err)}
}
