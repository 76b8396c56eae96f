package server

import (
	"io"
	"time"

	"lanshare/pkg/models"
)

const progressInterval = 400 * time.Millisecond

// progressReporter delivers snapshots to the user callback from its own
// goroutine. Offers are dropped when the consumer lags so the byte path
// never blocks on progress reporting.
type progressReporter struct {
	ch   chan models.TransferProgress
	done chan struct{}
}

func newProgressReporter(fn ProgressFunc) *progressReporter {
	r := &progressReporter{
		ch:   make(chan models.TransferProgress, 16),
		done: make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		for p := range r.ch {
			fn(p)
		}
	}()
	return r
}

func (r *progressReporter) offer(p models.TransferProgress) {
	select {
	case r.ch <- p:
	default:
	}
}

func (r *progressReporter) close() {
	close(r.ch)
	<-r.done
}

// progressTap counts bytes flowing through a writer and emits a throttled
// snapshot with instantaneous throughput.
type progressTap struct {
	w        io.Writer
	total    int64
	reporter *progressReporter

	written   int64
	lastMark  time.Time
	lastBytes int64
}

// tapWriter wraps w with a progress tap when a reporter is present. A nil
// reporter returns w unchanged.
func tapWriter(w io.Writer, total int64, reporter *progressReporter) io.Writer {
	if reporter == nil {
		return w
	}
	return &progressTap{
		w:        w,
		total:    total,
		reporter: reporter,
		lastMark: time.Now(),
	}
}

func (t *progressTap) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	t.written += int64(n)

	now := time.Now()
	if elapsed := now.Sub(t.lastMark); elapsed >= progressInterval {
		t.reporter.offer(models.TransferProgress{
			Bytes:       t.written,
			Total:       t.total,
			BytesPerSec: float64(t.written-t.lastBytes) / elapsed.Seconds(),
		})
		t.lastMark = now
		t.lastBytes = t.written
	}
	return n, err
}
