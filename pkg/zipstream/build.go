package zipstream

import (
	"context"
	"io"
	"os"

	"lanshare/pkg/log"
)

// copyChunkSize bounds the per-chunk allocation handed to the worker.
const copyChunkSize = 256 * 1024

// Source is one named byte stream to encode.
type Source struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// ArchiveSize returns the exact encoded size of the archive Encode produces
// for sources. Store-only encoding makes the total computable up front: each
// entry costs its declared bytes plus its local header, data descriptor and
// central directory record, and the archive closes with the ZIP64 end records.
func ArchiveSize(sources []Source) int64 {
	total := int64(56 + 20 + 22)
	for _, src := range sources {
		total += int64(30+len(src.Name)+20) + src.Size + 24
		total += int64(46 + len(src.Name) + 28)
	}
	return total
}

// Encode streams sources through a fresh worker into w, in order, and
// finalizes the archive. Cancelling ctx aborts the build between chunks.
func Encode(ctx context.Context, w io.Writer, sources []Source) error {
	enc := NewEncoder(w)

	for _, src := range sources {
		if err := pump(ctx, enc, src); err != nil {
			enc.Abort()
			return err
		}
	}
	return enc.Finish()
}

// EncodeToFile builds the archive at path and returns the final path. A
// cancelled build removes the partial file best-effort; other failures
// leave it in place for the caller.
func EncodeToFile(ctx context.Context, path string, sources []Source) (string, error) {
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}

	encodeErr := Encode(ctx, out, sources)

	if err := out.Close(); err != nil && encodeErr == nil {
		encodeErr = err
	}
	if encodeErr != nil {
		if ctx.Err() != nil {
			if err := os.Remove(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("Failed to remove partial archive")
			}
		}
		return "", encodeErr
	}

	log.Info().Str("path", path).Int("entries", len(sources)).Msg("Archive built")
	return path, nil
}

func pump(ctx context.Context, enc *Encoder, src Source) error {
	if err := enc.Start(src.Name, src.Size); err != nil {
		return err
	}

	rc, err := src.Open()
	if err != nil {
		return err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			log.Error().Err(err).Str("name", src.Name).Msg("Failed to close archive source")
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Fresh buffer per chunk: ownership moves to the worker with the send.
		buf := make([]byte, copyChunkSize)
		n, readErr := rc.Read(buf)
		if n > 0 {
			if err := enc.Data(buf[:n]); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	return enc.End()
}
