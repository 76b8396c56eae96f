package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"lanshare/pkg/log"
	"lanshare/pkg/models"

	"github.com/labstack/echo/v4"
)

// serveFile handles GET /files?id=N.
func (srv *TransferServer) serveFile(ctx echo.Context) error {
	if !srv.authorized(ctx) {
		return ctx.JSON(http.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}

	id, err := strconv.Atoi(ctx.QueryParam("id"))
	if err != nil || id < 0 || id >= len(srv.files) {
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "file not found",
		})
	}
	file := srv.files[id]

	viaBrowser := isBrowser(ctx.Request().UserAgent())
	if isArchiveName(file.Name) && !viaBrowser {
		log.Warn().Str("name", file.Name).Msg("Archive download rejected for non-browser agent")
		return ctx.JSON(http.StatusForbidden, map[string]string{
			"error": "archive files must be downloaded via a browser",
		})
	}

	if !srv.busy.CompareAndSwap(false, true) {
		return ctx.JSON(http.StatusTooManyRequests, map[string]string{
			"error": ErrBusy.Error(),
		})
	}
	defer srv.busy.Store(false)

	log.Info().Int("id", id).Str("name", file.Name).Bool("browser", viaBrowser).Msg("File download request")

	if file.Seekable() {
		return srv.serveSeekable(ctx, id, file, viaBrowser)
	}
	return srv.serveStream(ctx, id, file, viaBrowser)
}

func (srv *TransferServer) serveSeekable(ctx echo.Context, id int, file *models.SharedFile, viaBrowser bool) error {
	src, err := file.Open()
	if err != nil {
		log.Error().Err(err).Str("path", file.Path).Msg("Failed to open shared file")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to open file",
		})
	}
	defer func() {
		if err := src.Close(); err != nil {
			log.Error().Err(err).Str("path", file.Path).Msg("Failed to close shared file")
		}
	}()

	resp := ctx.Response()
	resp.Header().Set("Accept-Ranges", "bytes")
	resp.Header().Set(echo.HeaderContentType, echo.MIMEOctetStream)
	resp.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Name))

	start, end, partial := parseRange(ctx.Request().Header.Get("Range"), file.Size)
	length := end - start + 1

	if partial {
		resp.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, file.Size))
		resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(length, 10))
		resp.WriteHeader(http.StatusPartialContent)
	} else {
		resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(file.Size, 10))
		resp.WriteHeader(http.StatusOK)
	}

	if _, err := src.Seek(start, io.SeekStart); err != nil {
		log.Error().Err(err).Msg("Seek failed")
		return nil
	}

	reporter := srv.newReporter()
	defer reporter.close()

	written, err := io.CopyN(tapWriter(resp, length, reporter.reporter), src, length)
	if err != nil {
		log.Error().Err(err).Int64("written", written).Msg("File transfer aborted")
		return nil
	}

	// Resume and sub-range requests never count as completed: the peer will
	// come back for the rest, and firing here would double-signal.
	if !partial && written == file.Size {
		srv.complete(id, viaBrowser)
	}
	return nil
}

func (srv *TransferServer) serveStream(ctx echo.Context, id int, file *models.SharedFile, viaBrowser bool) error {
	if srv.streamDone[id].Swap(true) {
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": ErrStreamConsumed.Error(),
		})
	}

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMEOctetStream)
	resp.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Name))
	resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(file.Size, 10))
	resp.WriteHeader(http.StatusOK)

	reporter := srv.newReporter()
	defer reporter.close()

	written, err := io.Copy(tapWriter(resp, file.Size, reporter.reporter), file.Stream)
	if err != nil {
		log.Error().Err(err).Int64("written", written).Msg("Stream transfer aborted")
		return nil
	}
	if written == file.Size {
		srv.complete(id, viaBrowser)
	}
	return nil
}

func (srv *TransferServer) complete(id int, viaBrowser bool) {
	log.Info().Int("id", id).Bool("browser", viaBrowser).Msg("Transfer complete")
	if srv.onComplete != nil {
		srv.onComplete(id, viaBrowser)
	}
}

// optionalReporter carries a reporter only when a progress callback is set.
type optionalReporter struct {
	reporter *progressReporter
}

func (srv *TransferServer) newReporter() optionalReporter {
	if srv.onProgress == nil {
		return optionalReporter{}
	}
	return optionalReporter{reporter: newProgressReporter(srv.onProgress)}
}

func (o optionalReporter) close() {
	if o.reporter != nil {
		o.reporter.close()
	}
}

// parseRange understands "bytes=start-" and "bytes=start-end". Anything
// else, including a range covering the whole file, degrades to a full
// serve: start 0, end size-1, partial false.
func parseRange(header string, size int64) (start, end int64, partial bool) {
	full := func() (int64, int64, bool) { return 0, size - 1, false }

	if header == "" || size == 0 {
		return full()
	}
	ranged, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(ranged, ",") {
		return full()
	}
	first, rest, ok := strings.Cut(ranged, "-")
	if !ok {
		return full()
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return full()
	}

	end = size - 1
	if rest != "" {
		end, err = strconv.ParseInt(rest, 10, 64)
		if err != nil || end < start {
			return full()
		}
		if end >= size {
			end = size - 1
		}
	}

	if start == 0 && end == size-1 {
		// Whole-file range: serve it as a plain 200.
		return full()
	}
	return start, end, true
}
