package client

import (
	"errors"
	"fmt"
)

var (
	// ErrDownloadActive is returned when a second download is attempted on a
	// client that is already fetching.
	ErrDownloadActive = errors.New("download already in progress")

	// ErrUnauthorized is returned when the peer rejects the token.
	ErrUnauthorized = errors.New("authentication rejected by peer")

	// ErrPeerBusy is returned when the peer's single-flight guard rejects us.
	ErrPeerBusy = errors.New("peer is busy with another transfer")
)

// UnexpectedStatusError is returned for statuses the client cannot handle.
type UnexpectedStatusError struct {
	Status int
}

func (e UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from peer", e.Status)
}

// SizeMismatchError is returned when the downloaded file's final size does
// not match the declared size. The mismatch is corruption, not success.
type SizeMismatchError struct {
	Expected int64
	Actual   int64
}

func (e SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: expected %d bytes, got %d", e.Expected, e.Actual)
}
