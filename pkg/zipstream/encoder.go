// Package zipstream writes ZIP64 archives as a single forward pass over an
// ordered sequence of named byte streams. Entries are stored uncompressed so
// bytes flow straight from source to output with no whole-file buffering.
//
// The writer runs in its own goroutine and is driven over an ordered message
// channel; callers never share memory with it beyond the chunks they hand
// over, whose ownership moves with the send.
package zipstream

import (
	"hash/crc32"
	"io"
	"sync"
	"time"

	"lanshare/pkg/log"
)

type msgKind int

const (
	msgStart msgKind = iota
	msgData
	msgEnd
)

type message struct {
	kind     msgKind
	name     string
	declared uint64
	chunk    []byte
}

// entry tracks one archive member from its local header to its central
// directory record. Immutable once appended to the directory list.
type entry struct {
	name     string
	declared uint64
	crc      uint32
	size     uint64
	offset   uint64
	modified time.Time
}

// Encoder drives one archive build. Start/Data/End/Finish must be called
// from a single orchestrating goroutine, in order; Abort may be called from
// anywhere.
type Encoder struct {
	msgs  chan message
	abort chan struct{}
	done  chan struct{}

	abortOnce  sync.Once
	finishOnce sync.Once

	mu  sync.Mutex
	err error

	w      io.Writer
	offset uint64
	open   *entry
	dir    []*entry
}

// NewEncoder starts a build worker writing to w. The encoder never closes w.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{
		msgs:  make(chan message),
		abort: make(chan struct{}),
		done:  make(chan struct{}),
		w:     w,
	}
	go e.run()
	return e
}

// Start opens a new entry: a local header with sentinel size fields, the
// deferred-sizes flag, and a ZIP64 extra field carrying the declared size.
func (e *Encoder) Start(name string, size int64) error {
	return e.send(message{kind: msgStart, name: name, declared: uint64(size)})
}

// Data appends a chunk to the open entry. Ownership of chunk moves to the
// worker; the caller must not reuse it.
func (e *Encoder) Data(chunk []byte) error {
	return e.send(message{kind: msgData, chunk: chunk})
}

// End closes the open entry with a 64-bit data descriptor and queues its
// central directory record.
func (e *Encoder) End() error {
	return e.send(message{kind: msgEnd})
}

// Finish writes the central directory and end-of-archive records, stops the
// worker, and returns the first error hit during the build, if any.
func (e *Encoder) Finish() error {
	e.finishOnce.Do(func() {
		close(e.msgs)
	})
	<-e.done
	return e.Err()
}

// Abort force-terminates the worker. The partially written output is left
// for the caller to clean up.
func (e *Encoder) Abort() {
	e.abortOnce.Do(func() {
		close(e.abort)
	})
	<-e.done
}

// Err returns the latched build error.
func (e *Encoder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Encoder) send(m message) error {
	if err := e.Err(); err != nil {
		return err
	}
	select {
	case e.msgs <- m:
		return nil
	case <-e.done:
		return e.Err()
	}
}

func (e *Encoder) setErr(err error) {
	e.mu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
}

func (e *Encoder) run() {
	defer close(e.done)

	for {
		select {
		case <-e.abort:
			e.setErr(ErrAborted)
			return
		case m, ok := <-e.msgs:
			if !ok {
				if e.Err() == nil {
					e.finalize()
				}
				return
			}
			if e.Err() != nil {
				continue // drain until Finish
			}
			e.handle(m)
		}
	}
}

func (e *Encoder) handle(m message) {
	switch m.kind {
	case msgStart:
		if e.open != nil {
			e.setErr(ErrEntryOpen)
			return
		}
		ent := &entry{
			name:     m.name,
			declared: m.declared,
			offset:   e.offset,
			modified: time.Now(),
		}
		if !e.write(localHeader(ent.name, ent.declared, ent.modified)) {
			return
		}
		e.open = ent

	case msgData:
		if e.open == nil {
			e.setErr(ErrNoOpenEntry)
			return
		}
		if !e.write(m.chunk) {
			return
		}
		e.open.crc = crc32.Update(e.open.crc, crc32.IEEETable, m.chunk)
		e.open.size += uint64(len(m.chunk))

	case msgEnd:
		if e.open == nil {
			e.setErr(ErrNoOpenEntry)
			return
		}
		ent := e.open
		if ent.size != ent.declared {
			e.setErr(SizeMismatchError{Name: ent.name, Declared: ent.declared, Actual: ent.size})
			return
		}
		if !e.write(dataDescriptor(ent.crc, ent.size)) {
			return
		}
		e.dir = append(e.dir, ent)
		e.open = nil
	}
}

func (e *Encoder) finalize() {
	if e.open != nil {
		e.setErr(ErrEntryOpen)
		return
	}

	cdOffset := e.offset
	for _, ent := range e.dir {
		if !e.write(centralHeader(ent)) {
			return
		}
	}
	cdSize := e.offset - cdOffset

	if !e.write(endOfArchive(uint64(len(e.dir)), cdOffset, cdSize)) {
		return
	}

	log.Debug().
		Int("entries", len(e.dir)).
		Uint64("bytes", e.offset).
		Msg("Archive finalized")
}

// write pushes b to the output and advances the running offset, latching
// any I/O error. Returns false once the build has failed.
func (e *Encoder) write(b []byte) bool {
	n, err := e.w.Write(b)
	e.offset += uint64(n)
	if err != nil {
		log.Error().Err(err).Msg("Archive write failed")
		e.setErr(err)
		return false
	}
	return true
}
