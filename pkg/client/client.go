// Package client fetches files from a transfer server, resuming from
// partial local state via HTTP Range requests.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"lanshare/pkg/log"
	"lanshare/pkg/models"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultRetryMax     = 2
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 5 * time.Second

	copyBufferSize = 128 * 1024
	sampleInterval = 500 * time.Millisecond

	headerShareToken = "X-Share-Token"
)

// ProgressFunc receives sampled download progress.
type ProgressFunc func(models.TransferProgress)

// Client downloads one file at a time; a concurrent call is rejected
// immediately rather than queued.
type Client struct {
	http   *retryablehttp.Client
	active atomic.Bool
}

// New creates a client with bounded retries on the initial request.
func New() *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = defaultRetryMax
	rc.RetryWaitMin = defaultRetryWaitMin
	rc.RetryWaitMax = defaultRetryWaitMax
	rc.Logger = nil // use zerolog instead

	// Retry transport failures only. Status codes such as 401 and 429 carry
	// meaning here and must surface immediately.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			log.Warn().Err(err).Msg("Request failed, retrying")
			return true, nil
		}
		return false, nil
	}

	return &Client{http: rc}
}

// Download fetches task from the peer at baseURL, resuming from whatever
// portion of task.Dest already exists. A nil return means the destination
// holds exactly task.Size verified bytes. Cancelling ctx tears down the
// transfer but leaves the partial file for a later resume.
func (c *Client) Download(ctx context.Context, baseURL, token string, task models.DownloadTask, onProgress ProgressFunc) error {
	if !c.active.CompareAndSwap(false, true) {
		return ErrDownloadActive
	}
	defer c.active.Store(false)

	existing := destSize(task.Dest)
	if existing >= task.Size {
		log.Info().Str("dest", task.Dest).Msg("Destination already complete, skipping download")
		return nil
	}

	log.Info().
		Str("task_id", task.ID).
		Str("name", task.Filename).
		Int64("existing", existing).
		Int64("total", task.Size).
		Msg("Starting download")

	resp, err := c.request(ctx, baseURL, token, task.FileID, existing)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close response body")
		}
	}()

	var dest *os.File
	switch resp.StatusCode {
	case http.StatusPartialContent:
		dest, err = os.OpenFile(task.Dest, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	case http.StatusOK:
		// The peer ignored our resume attempt. Appending now would corrupt
		// the file at the old offset, so restart from zero in truncate mode.
		if existing > 0 {
			log.Warn().Str("dest", task.Dest).Msg("Peer does not resume, restarting from offset 0")
		}
		existing = 0
		dest, err = os.OpenFile(task.Dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrPeerBusy
	default:
		return UnexpectedStatusError{Status: resp.StatusCode}
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := dest.Close(); err != nil {
			log.Error().Err(err).Str("dest", task.Dest).Msg("Failed to close destination file")
		}
	}()

	written, err := c.copyBody(resp.Body, dest, existing, task.Size, onProgress)
	if err != nil {
		return err
	}

	final := existing + written
	if final != task.Size {
		return SizeMismatchError{Expected: task.Size, Actual: final}
	}

	log.Info().Str("task_id", task.ID).Int64("bytes", final).Msg("Download complete")
	return nil
}

func (c *Client) request(ctx context.Context, baseURL, token string, fileID int, offset int64) (*http.Response, error) {
	url := fmt.Sprintf("%s/files?id=%d", baseURL, fileID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if token != "" {
		req.Header.Set(headerShareToken, token)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	return c.http.Do(req)
}

// copyBody streams the body to dest without buffering the whole file,
// sampling throughput from the byte delta every sampleInterval.
func (c *Client) copyBody(body io.Reader, dest io.Writer, offset, total int64, onProgress ProgressFunc) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64

	lastMark := time.Now()
	var lastBytes int64

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := dest.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
		}

		if onProgress != nil {
			if now := time.Now(); now.Sub(lastMark) >= sampleInterval {
				onProgress(models.TransferProgress{
					Bytes:       offset + written,
					Total:       total,
					BytesPerSec: float64(written-lastBytes) / now.Sub(lastMark).Seconds(),
				})
				lastMark = now
				lastBytes = written
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func destSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
