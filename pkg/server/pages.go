package server

import (
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"lanshare/pkg/log"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
)

var passwordPage = template.Must(template.New("password").Parse(`<!DOCTYPE html>
<html>
<head><title>Shared files</title></head>
<body>
<h1>This share is password protected</h1>
<form method="POST" action="/">
  <input type="password" name="password" placeholder="Password" autofocus>
  <button type="submit">Unlock</button>
</form>
</body>
</html>
`))

var listingPage = template.Must(template.New("listing").Parse(`<!DOCTYPE html>
<html>
<head><title>Shared files</title></head>
<body>
<h1>Shared files</h1>
<table>
{{range .Rows}}  <tr><td><a href="{{.Link}}">{{.Name}}</a></td><td>{{.Size}}</td></tr>
{{end}}</table>
{{if .BundleLink}}<p><a href="{{.BundleLink}}">Download all as ZIP</a></p>{{end}}
</body>
</html>
`))

type listingRow struct {
	Name string
	Size string
	Link string
}

type listingData struct {
	Rows       []listingRow
	BundleLink string
}

// serveHome renders the password form for unauthenticated visitors of a
// protected share, otherwise the file listing.
func (srv *TransferServer) serveHome(ctx echo.Context) error {
	if srv.auth != nil && !srv.authorized(ctx) {
		return render(ctx, passwordPage, nil)
	}

	token := ctx.QueryParam("token")
	data := listingData{}
	for id, file := range srv.files {
		data.Rows = append(data.Rows, listingRow{
			Name: file.Name,
			Size: humanize.Bytes(uint64(file.Size)),
			Link: fileLink(id, token),
		})
	}
	if len(srv.files) > 1 {
		data.BundleLink = bundleLink(token)
	}
	return render(ctx, listingPage, data)
}

// submitPassword validates the form password and mints a fresh token.
func (srv *TransferServer) submitPassword(ctx echo.Context) error {
	if srv.auth == nil {
		return ctx.JSON(http.StatusOK, map[string]interface{}{
			"success": true,
			"token":   "",
		})
	}

	password := ctx.FormValue("password")
	if !srv.auth.ValidatePassword(password) {
		log.Warn().Str("remote", ctx.RealIP()).Msg("Password rejected")
		return ctx.JSON(http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"error":   "invalid password",
		})
	}

	token, err := srv.auth.RefreshToken()
	if err != nil {
		log.Error().Err(err).Msg("Failed to mint session token")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "failed to create session",
		})
	}

	log.Info().Str("remote", ctx.RealIP()).Msg("Password accepted, token issued")
	return ctx.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
	})
}

func render(ctx echo.Context, tmpl *template.Template, data interface{}) error {
	ctx.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	ctx.Response().WriteHeader(http.StatusOK)
	return tmpl.Execute(ctx.Response().Writer, data)
}

func fileLink(id int, token string) string {
	link := fmt.Sprintf("/files?id=%d", id)
	if token != "" {
		link += "&token=" + url.QueryEscape(token)
	}
	return link
}

func bundleLink(token string) string {
	link := "/download-all"
	if token != "" {
		link += "?token=" + url.QueryEscape(token)
	}
	return link
}
