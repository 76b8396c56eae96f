package models

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// SharedFile represents one file offered for transfer. Exactly one of Path
// or Stream is set: a path is a seekable on-disk source and supports Range
// requests, a stream is forward-only and does not.
type SharedFile struct {
	Name   string
	Size   int64
	Path   string
	Stream io.Reader
}

// NewSharedFile builds a seekable SharedFile from a file on disk.
func NewSharedFile(path string) (*SharedFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("cannot share directory %q", path)
	}
	return &SharedFile{
		Name: filepath.Base(path),
		Size: info.Size(),
		Path: path,
	}, nil
}

// NewSharedStream builds a forward-only SharedFile from a reader. The size
// must match the bytes the reader will ultimately yield.
func NewSharedStream(name string, size int64, r io.Reader) *SharedFile {
	return &SharedFile{
		Name:   name,
		Size:   size,
		Stream: r,
	}
}

// Seekable reports whether the file supports Range requests.
func (f *SharedFile) Seekable() bool {
	return f.Path != ""
}

// Open returns a fresh read handle for a seekable file.
func (f *SharedFile) Open() (*os.File, error) {
	return os.Open(f.Path)
}

// ServerInfo describes a running transfer server. Produced once per start,
// discarded on stop.
type ServerInfo struct {
	SessionID string `json:"session_id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
}

// URL returns the http base URL for the server.
func (s ServerInfo) URL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// DownloadTask describes one file to fetch from a peer.
type DownloadTask struct {
	ID       string
	FileID   int
	Dest     string
	Size     int64
	Filename string
}

// PeerRecord is one peer seen on the local network.
type PeerRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Host string `json:"host"`
	Port int    `json:"port"`
	Seen time.Time
}

// TransferProgress is a throttled snapshot of a running transfer.
type TransferProgress struct {
	Bytes       int64
	Total       int64
	BytesPerSec float64
}

func (p TransferProgress) String() string {
	return fmt.Sprintf("%s / %s (%s/s)",
		humanize.Bytes(uint64(p.Bytes)),
		humanize.Bytes(uint64(p.Total)),
		humanize.Bytes(uint64(p.BytesPerSec)))
}
