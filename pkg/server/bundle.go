package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"lanshare/pkg/log"
	"lanshare/pkg/models"
	"lanshare/pkg/zipstream"

	"github.com/labstack/echo/v4"
)

const bundleName = "shared-files.zip"

// serveBundle handles GET /download-all: every shared file encoded into one
// ZIP64 archive, streamed straight from the encoder worker to the response.
func (srv *TransferServer) serveBundle(ctx echo.Context) error {
	if !srv.authorized(ctx) {
		return ctx.JSON(http.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}

	if len(srv.files) < 2 {
		return ctx.JSON(http.StatusNotFound, map[string]string{
			"error": "no bundle for a single file",
		})
	}

	viaBrowser := isBrowser(ctx.Request().UserAgent())
	if !viaBrowser {
		return ctx.JSON(http.StatusForbidden, map[string]string{
			"error": "the bundle must be downloaded via a browser",
		})
	}

	if !srv.busy.CompareAndSwap(false, true) {
		return ctx.JSON(http.StatusTooManyRequests, map[string]string{
			"error": ErrBusy.Error(),
		})
	}
	defer srv.busy.Store(false)

	log.Info().Int("files", len(srv.files)).Msg("Bundle download request")

	sources := make([]zipstream.Source, 0, len(srv.files))
	for id, file := range srv.files {
		if !file.Seekable() && srv.streamDone[id].Load() {
			return ctx.JSON(http.StatusNotFound, map[string]string{
				"error": ErrStreamConsumed.Error(),
			})
		}
		sources = append(sources, srv.bundleSource(id, file))
	}

	// The store-only archive size is known before a byte is written.
	// Declaring it turns a build aborted mid-stream into a short read on
	// the peer instead of a clean EOF.
	total := zipstream.ArchiveSize(sources)

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, "application/zip")
	resp.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", bundleName))
	resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(total, 10))
	resp.WriteHeader(http.StatusOK)

	reporter := srv.newReporter()
	defer reporter.close()

	err := zipstream.Encode(ctx.Request().Context(), tapWriter(resp, total, reporter.reporter), sources)
	if err != nil {
		log.Error().Err(err).Msg("Bundle transfer aborted")
		return nil
	}

	srv.complete(-1, viaBrowser)
	return nil
}

// bundleSource adapts a shared file into an archive source. A forward-only
// stream flips its one-shot marker when the bundle opens it, so a source
// drained here cannot be served again through /files.
func (srv *TransferServer) bundleSource(id int, file *models.SharedFile) zipstream.Source {
	return zipstream.Source{
		Name: file.Name,
		Size: file.Size,
		Open: func() (io.ReadCloser, error) {
			if file.Seekable() {
				return file.Open()
			}
			if srv.streamDone[id].Swap(true) {
				return nil, ErrStreamConsumed
			}
			return io.NopCloser(file.Stream), nil
		},
	}
}
