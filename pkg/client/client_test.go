package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"lanshare/pkg/models"
	"lanshare/pkg/server"
)

// ClientTestSuite tests resumable downloads against a real transfer server
type ClientTestSuite struct {
	suite.Suite
	tempDir string
	content []byte
	ts      *httptest.Server
}

// SetupSuite runs once before all tests
func (s *ClientTestSuite) SetupSuite() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "client-test-*")
	s.Require().NoError(err)

	s.content = make([]byte, 100_000)
	for i := range s.content {
		s.content[i] = byte(i % 251)
	}
	path := filepath.Join(s.tempDir, "shared.bin")
	s.Require().NoError(os.WriteFile(path, s.content, 0o644))

	file, err := models.NewSharedFile(path)
	s.Require().NoError(err)
	srv, err := server.New([]*models.SharedFile{file}, "")
	s.Require().NoError(err)

	s.ts = httptest.NewServer(srv.Handler())
}

// TearDownSuite runs once after all tests
func (s *ClientTestSuite) TearDownSuite() {
	if s.ts != nil {
		s.ts.Close()
	}
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}

func (s *ClientTestSuite) task(dest string) models.DownloadTask {
	return models.DownloadTask{
		ID:       "test-task",
		FileID:   0,
		Dest:     dest,
		Size:     int64(len(s.content)),
		Filename: "shared.bin",
	}
}

func (s *ClientTestSuite) destPath(name string) string {
	return filepath.Join(s.tempDir, name)
}

// TestFreshDownload tests a download with no partial state
func (s *ClientTestSuite) TestFreshDownload() {
	dest := s.destPath("fresh.bin")

	err := New().Download(context.Background(), s.ts.URL, "", s.task(dest), nil)
	s.Require().NoError(err)

	got, err := os.ReadFile(dest)
	s.Require().NoError(err)
	s.Equal(s.content, got)
}

// TestResumeIdempotence tests truncate-to-K then re-download for boundary offsets
func (s *ClientTestSuite) TestResumeIdempotence() {
	total := int64(len(s.content))
	for _, k := range []int64{0, 1, total - 1, total} {
		dest := s.destPath(fmt.Sprintf("resume-%d.bin", k))
		s.Require().NoError(os.WriteFile(dest, s.content[:k], 0o644))

		err := New().Download(context.Background(), s.ts.URL, "", s.task(dest), nil)
		s.Require().NoError(err, "resume from offset %d", k)

		got, err := os.ReadFile(dest)
		s.Require().NoError(err)
		s.Equal(s.content, got, "resume from offset %d must match a fresh download", k)
	}
}

// TestCompleteFileSkipsNetwork tests that a full destination needs no request
func (s *ClientTestSuite) TestCompleteFileSkipsNetwork() {
	dest := s.destPath("already-done.bin")
	s.Require().NoError(os.WriteFile(dest, s.content, 0o644))

	// unroutable peer: any network call would fail
	err := New().Download(context.Background(), "http://127.0.0.1:1", "", s.task(dest), nil)
	s.NoError(err)
}

// TestRestartOnFull200 tests discarding partial state when the peer ignores Range
func (s *ClientTestSuite) TestRestartOnFull200() {
	payload := bytes.Repeat([]byte{0xA7}, 5000)
	noRange := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // Range deliberately ignored
		w.Write(payload)
	}))
	defer noRange.Close()

	dest := s.destPath("restart.bin")
	s.Require().NoError(os.WriteFile(dest, bytes.Repeat([]byte{0xFF}, 3000), 0o644))

	task := models.DownloadTask{FileID: 0, Dest: dest, Size: int64(len(payload)), Filename: "restart.bin"}
	err := New().Download(context.Background(), noRange.URL, "", task, nil)
	s.Require().NoError(err)

	got, err := os.ReadFile(dest)
	s.Require().NoError(err)
	s.Equal(payload, got, "partial state must be discarded, not appended to")
}

// TestSizeMismatch tests that a short body is corruption, not success
func (s *ClientTestSuite) TestSizeMismatch() {
	short := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 50))
	}))
	defer short.Close()

	dest := s.destPath("short.bin")
	task := models.DownloadTask{FileID: 0, Dest: dest, Size: 100, Filename: "short.bin"}

	err := New().Download(context.Background(), short.URL, "", task, nil)
	s.Require().Error(err)

	var mismatch SizeMismatchError
	s.Require().ErrorAs(err, &mismatch)
	s.Equal(int64(100), mismatch.Expected)
	s.Equal(int64(50), mismatch.Actual)
}

// TestStatusErrors tests the 401 and 429 mappings
func (s *ClientTestSuite) TestStatusErrors() {
	for _, tc := range []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusTooManyRequests, ErrPeerBusy},
	} {
		peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		task := models.DownloadTask{Dest: s.destPath("status.bin"), Size: 10}
		err := New().Download(context.Background(), peer.URL, "", task, nil)
		s.ErrorIs(err, tc.want, "status %d", tc.status)
		peer.Close()
	}
}

// TestSingleDownloadPerClient tests the per-instance concurrency guard
func (s *ClientTestSuite) TestSingleDownloadPerClient() {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.Write(make([]byte, 10))
	}))
	defer slow.Close()
	defer close(release)

	c := New()
	task := models.DownloadTask{Dest: s.destPath("slow.bin"), Size: 10}

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- c.Download(context.Background(), slow.URL, "", task, nil)
	}()

	<-started
	err := c.Download(context.Background(), slow.URL, "", s.task(s.destPath("other.bin")), nil)
	s.ErrorIs(err, ErrDownloadActive, "second concurrent call must be rejected immediately")
}

// TestCancellationKeepsPartialFile tests that cancel leaves state for a later resume
func (s *ClientTestSuite) TestCancellationKeepsPartialFile() {
	sent := make(chan struct{})
	stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 4096))
		w.(http.Flusher).Flush()
		close(sent)
		<-r.Context().Done()
	}))
	defer stall.Close()

	ctx, cancel := context.WithCancel(context.Background())
	dest := s.destPath("cancelled.bin")
	task := models.DownloadTask{Dest: dest, Size: 100000}

	done := make(chan error, 1)
	go func() {
		done <- New().Download(ctx, stall.URL, "", task, nil)
	}()

	<-sent
	s.Require().Eventually(func() bool {
		info, err := os.Stat(dest)
		return err == nil && info.Size() > 0
	}, 2*time.Second, 10*time.Millisecond, "first chunk should reach disk")
	cancel()
	s.Require().Error(<-done)

	info, err := os.Stat(dest)
	s.Require().NoError(err, "partial file must survive cancellation")
	s.Positive(info.Size())
}

// TestAuthFlow tests Authenticate and ListFiles against a protected peer
func (s *ClientTestSuite) TestAuthFlow() {
	path := filepath.Join(s.tempDir, "guarded.bin")
	s.Require().NoError(os.WriteFile(path, []byte("guarded bytes"), 0o644))
	file, err := models.NewSharedFile(path)
	s.Require().NoError(err)

	srv, err := server.New([]*models.SharedFile{file}, "hunter2")
	s.Require().NoError(err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := New()

	_, err = c.ListFiles(context.Background(), ts.URL, "")
	s.ErrorIs(err, ErrUnauthorized)

	_, err = c.Authenticate(context.Background(), ts.URL, "wrong")
	s.ErrorIs(err, ErrUnauthorized)

	token, err := c.Authenticate(context.Background(), ts.URL, "hunter2")
	s.Require().NoError(err)
	s.NotEmpty(token)

	files, err := c.ListFiles(context.Background(), ts.URL, token)
	s.Require().NoError(err)
	s.Require().Len(files, 1)
	s.Equal("guarded.bin", files[0].Name)
	s.Equal(int64(13), files[0].Size)

	dest := s.destPath("guarded-copy.bin")
	err = c.Download(context.Background(), ts.URL, token, models.DownloadTask{
		FileID: 0, Dest: dest, Size: files[0].Size, Filename: files[0].Name,
	}, nil)
	s.Require().NoError(err)

	got, err := os.ReadFile(dest)
	s.Require().NoError(err)
	s.Equal([]byte("guarded bytes"), got)
}

func TestClientTestSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}
