package server

import (
	"archive/zip"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"lanshare/pkg/models"
)

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) Firefox/126.0"

// BundleTestSuite tests the /download-all archive endpoint
type BundleTestSuite struct {
	suite.Suite
	tempDir string

	mu          sync.Mutex
	completions []int
}

// SetupSuite runs once before all tests
func (s *BundleTestSuite) SetupSuite() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "bundle-test-*")
	s.Require().NoError(err)
}

// TearDownSuite runs once after all tests
func (s *BundleTestSuite) TearDownSuite() {
	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}
}

// SetupTest runs before each test
func (s *BundleTestSuite) SetupTest() {
	s.mu.Lock()
	s.completions = nil
	s.mu.Unlock()
}

func (s *BundleTestSuite) makeFile(name string, content []byte) *models.SharedFile {
	path := filepath.Join(s.tempDir, name)
	s.Require().NoError(os.WriteFile(path, content, 0o644))
	file, err := models.NewSharedFile(path)
	s.Require().NoError(err)
	return file
}

func (s *BundleTestSuite) newServer(files ...*models.SharedFile) *httptest.Server {
	srv, err := New(files, "")
	s.Require().NoError(err)
	srv.OnComplete(func(id int, viaBrowser bool) {
		s.mu.Lock()
		s.completions = append(s.completions, id)
		s.mu.Unlock()
	})

	ts := httptest.NewServer(srv.echo)
	s.T().Cleanup(ts.Close)
	return ts
}

func (s *BundleTestSuite) fetch(ts *httptest.Server, ua string) (*http.Response, []byte) {
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/download-all", nil)
	s.Require().NoError(err)
	req.Header.Set("User-Agent", ua)

	resp, err := ts.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp, body
}

// TestBundleRoundTrip tests that the streamed archive decodes to the shared files
func (s *BundleTestSuite) TestBundleRoundTrip() {
	first := []byte("contents of the first shared file")
	second := bytes.Repeat([]byte{0x5A}, 100_000)
	ts := s.newServer(s.makeFile("one.txt", first), s.makeFile("two.bin", second))

	resp, body := s.fetch(ts, browserUA)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("application/zip", resp.Header.Get("Content-Type"))
	s.Contains(resp.Header.Get("Content-Disposition"), `filename="shared-files.zip"`)
	s.Equal(int64(len(body)), resp.ContentLength, "declared length must match the archive exactly")

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	s.Require().NoError(err)
	s.Require().Len(zr.File, 2)

	s.Equal("one.txt", zr.File[0].Name)
	s.Equal("two.bin", zr.File[1].Name)

	for i, want := range [][]byte{first, second} {
		rc, err := zr.File[i].Open()
		s.Require().NoError(err)
		got, err := io.ReadAll(rc)
		s.Require().NoError(err)
		s.NoError(rc.Close())
		s.Equal(want, got)
	}

	s.Eventually(func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.completions) == 1 && s.completions[0] == -1
	}, time.Second, 10*time.Millisecond, "bundle completion fires once with index -1")
}

// TestBundleNeedsBrowser tests the non-browser rejection
func (s *BundleTestSuite) TestBundleNeedsBrowser() {
	ts := s.newServer(s.makeFile("a.txt", []byte("a")), s.makeFile("b.txt", []byte("b")))

	resp, _ := s.fetch(ts, "curl/8.5.0")
	s.Equal(http.StatusForbidden, resp.StatusCode)
}

// TestBundleNeedsMultipleFiles tests that a single file has no bundle
func (s *BundleTestSuite) TestBundleNeedsMultipleFiles() {
	ts := s.newServer(s.makeFile("solo.txt", []byte("alone")))

	resp, _ := s.fetch(ts, browserUA)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

// TestBundleAbortSurfacesToClient tests that a mid-build failure breaks the
// peer's read instead of ending in a clean EOF
func (s *BundleTestSuite) TestBundleAbortSurfacesToClient() {
	starved := models.NewSharedStream("live.log", 50, strings.NewReader("too short"))
	ts := s.newServer(s.makeFile("first.txt", []byte("first")), starved)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/download-all", nil)
	s.Require().NoError(err)
	req.Header.Set("User-Agent", browserUA)

	resp, err := ts.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	_, err = io.ReadAll(resp.Body)
	s.Error(err, "a truncated bundle must not read as a complete archive")

	time.Sleep(50 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Empty(s.completions, "aborted bundle must not fire completion")
}

// TestBundleRejectsDrainedStream tests that a stream consumed via /files
// blocks the bundle up front
func (s *BundleTestSuite) TestBundleRejectsDrainedStream() {
	content := []byte("stream payload")
	stream := models.NewSharedStream("live.log", int64(len(content)), bytes.NewReader(content))
	ts := s.newServer(s.makeFile("static.txt", []byte("static")), stream)

	resp, err := http.Get(ts.URL + "/files?id=1")
	s.Require().NoError(err)
	_, err = io.Copy(io.Discard, resp.Body)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	resp2, _ := s.fetch(ts, browserUA)
	s.Equal(http.StatusNotFound, resp2.StatusCode)
}

// TestBundleMarksStreamConsumed tests that a bundled stream cannot be
// fetched again through /files
func (s *BundleTestSuite) TestBundleMarksStreamConsumed() {
	content := []byte("one shot stream")
	stream := models.NewSharedStream("live.log", int64(len(content)), bytes.NewReader(content))
	ts := s.newServer(s.makeFile("static.txt", []byte("static")), stream)

	resp, body := s.fetch(ts, browserUA)
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal(int64(len(body)), resp.ContentLength)

	resp2, err := http.Get(ts.URL + "/files?id=1")
	s.Require().NoError(err)
	resp2.Body.Close()
	s.Equal(http.StatusNotFound, resp2.StatusCode)
}

// TestBundleRequiresAuth tests token enforcement on the bundle endpoint
func (s *BundleTestSuite) TestBundleRequiresAuth() {
	srv, err := New([]*models.SharedFile{
		s.makeFile("p1.txt", []byte("p1")),
		s.makeFile("p2.txt", []byte("p2")),
	}, "secret")
	s.Require().NoError(err)

	ts := httptest.NewServer(srv.echo)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/download-all", nil)
	s.Require().NoError(err)
	req.Header.Set("User-Agent", browserUA)
	resp, err := ts.Client().Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	req.Header.Set(headerShareToken, srv.auth.Token())
	resp, err = ts.Client().Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
}

func TestBundleTestSuite(t *testing.T) {
	suite.Run(t, new(BundleTestSuite))
}
