package filetype

import (
	"errors"
	"testing"

	"github.com/typestore/typestore/internal/wire"
)

func TestFromName(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		want     Type
		wantErr  bool
	}{
		{name: "jpg is image", fileName: "cat.jpg", want: Image},
		{name: "uppercase extension", fileName: "HOLIDAY.MP4", want: Video},
		{name: "audio", fileName: "song.flac", want: Audio},
		{name: "markdown is text", fileName: "notes/readme.md", want: Text},
		{name: "archive", fileName: "backup.7z", want: Compressed},
		{name: "unknown extension", fileName: "file.xyz", wantErr: true},
		{name: "no extension", fileName: "Makefile", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromName(tt.fileName)

			if (err != nil) != tt.wantErr {
				t.Fatalf("FromName(%q) error = %v, wantErr %v", tt.fileName, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, wire.ErrUnsupportedType) {
					t.Errorf("FromName(%q) error = %v, want ErrUnsupportedType", tt.fileName, err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("FromName(%q) = %q, want %q", tt.fileName, got, tt.want)
			}
		})
	}
}

func TestFromPath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		want    Type
		wantErr bool
	}{
		{name: "partition segment wins", path: "image/cat.jpg", want: Image},
		{name: "partition segment beats extension", path: "video/poster.jpg", want: Video},
		{name: "bare name falls back to extension", path: "clip.mp4", want: Video},
		{name: "unknown segment falls back to extension", path: "docs/readme.md", want: Text},
		{name: "nothing to derive from", path: "docs/readme.xyz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromPath(tt.path)

			if (err != nil) != tt.wantErr {
				t.Fatalf("FromPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("FromPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
