package config

import (
	"strings"
	"testing"

	"github.com/typestore/typestore/internal/filetype"
)

const sampleConfig = `
servers:
  image: {host: 127.0.0.1, port: 8001}
  video: {host: 127.0.0.1, port: 8002}
  audio: {host: 127.0.0.1, port: 8003}
  text: {host: 127.0.0.1, port: 8004}
  compressed: {host: 127.0.0.1, port: 8005}
node:
  id: node-image-1
  listen: 127.0.0.1:8001
  data_dir: /var/lib/typestore
  role: primary
  peers:
    - {host: 127.0.0.1, port: 8101}
    - {host: 127.0.0.1, port: 8102}
coordinator:
  listen: 127.0.0.1:9000
max_frame_bytes: 65536
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse() = %v, want no error", err)
	}

	routes := cfg.Routes()
	if got, want := routes[filetype.Image], "127.0.0.1:8001"; got != want {
		t.Errorf("Routes()[image] = %q, want %q", got, want)
	}
	if got, want := len(routes), 5; got != want {
		t.Errorf("len(Routes()) = %d, want %d", got, want)
	}

	peers := cfg.Peers()
	if got, want := len(peers), 2; got != want {
		t.Fatalf("len(Peers()) = %d, want %d", got, want)
	}
	if got, want := peers[0].Addr(), "127.0.0.1:8101"; got != want {
		t.Errorf("Peers()[0].Addr() = %q, want %q", got, want)
	}

	if cfg.Node.ID != "node-image-1" {
		t.Errorf("Node.ID = %q, want node-image-1", cfg.Node.ID)
	}
	if cfg.MaxFrameBytes != 65536 {
		t.Errorf("MaxFrameBytes = %d, want 65536", cfg.MaxFrameBytes)
	}
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown type tag",
			yaml:    "servers:\n  sound: {host: a, port: 1}\n",
			wantErr: "unknown type tag",
		},
		{
			name:    "unknown role",
			yaml:    "node:\n  role: leader\n",
			wantErr: "unknown role",
		},
		{
			name:    "peers without primary role",
			yaml:    "node:\n  role: peer\n  peers:\n    - {host: a, port: 1}\n",
			wantErr: "peers are only meaningful",
		},
		{
			name:    "not yaml",
			yaml:    "servers: [",
			wantErr: "parsing config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDefaultsNodeID(t *testing.T) {
	cfg, err := Parse([]byte("coordinator:\n  listen: :9000\n"))
	if err != nil {
		t.Fatalf("Parse() = %v, want no error", err)
	}
	if cfg.Node.ID == "" {
		t.Error("Node.ID not defaulted to a generated ID")
	}
}
