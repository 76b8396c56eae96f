package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// fileEntry is one row of the /info listing.
type fileEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// listFiles handles GET /info.
func (srv *TransferServer) listFiles(ctx echo.Context) error {
	if !srv.authorized(ctx) {
		return ctx.JSON(http.StatusUnauthorized, map[string]string{
			"error": "authentication required",
		})
	}

	entries := make([]fileEntry, 0, len(srv.files))
	for id, file := range srv.files {
		entries = append(entries, fileEntry{
			ID:   id,
			Name: file.Name,
			Size: file.Size,
		})
	}
	return ctx.JSON(http.StatusOK, entries)
}
