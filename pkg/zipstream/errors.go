package zipstream

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is returned when the build was cancelled before finishing.
	ErrAborted = errors.New("archive build aborted")

	// ErrEntryOpen is returned when a new entry is started or the archive
	// finalized while a previous entry is still open.
	ErrEntryOpen = errors.New("previous entry not ended")

	// ErrNoOpenEntry is returned when data or an end marker arrives with no
	// entry started.
	ErrNoOpenEntry = errors.New("no open entry")
)

// SizeMismatchError is returned when an entry's streamed bytes do not match
// the size declared when the entry was started.
type SizeMismatchError struct {
	Name     string
	Declared uint64
	Actual   uint64
}

func (e SizeMismatchError) Error() string {
	return fmt.Sprintf("entry %q: declared %d bytes, streamed %d", e.Name, e.Declared, e.Actual)
}
