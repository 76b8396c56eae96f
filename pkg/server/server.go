package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"lanshare/pkg/auth"
	"lanshare/pkg/log"
	"lanshare/pkg/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const headerShareToken = "X-Share-Token"

// CompleteFunc receives the index of a fully served file (-1 for the
// bundle) and whether the request looked like a browser.
type CompleteFunc func(fileIndex int, viaBrowser bool)

// ProgressFunc receives throttled transfer progress snapshots.
type ProgressFunc func(models.TransferProgress)

// TransferServer serves one fixed file list over HTTP for the lifetime of a
// session. At most one file or bundle transfer is in flight at a time.
type TransferServer struct {
	files []*models.SharedFile
	auth  *auth.Manager
	echo  *echo.Echo

	listener net.Listener
	info     models.ServerInfo

	// single-flight guard shared by /files and /download-all
	busy atomic.Bool

	// one-shot marker per stream-backed file
	streamDone []atomic.Bool

	onProgress ProgressFunc
	onComplete CompleteFunc
}

// New builds a server for the given share list. An empty password leaves the
// server unprotected.
func New(files []*models.SharedFile, password string) (*TransferServer, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	var mgr *auth.Manager
	if password != "" {
		var err error
		mgr, err = auth.New(password)
		if err != nil {
			return nil, err
		}
	}

	srv := &TransferServer{
		files:      files,
		auth:       mgr,
		echo:       echo.New(),
		streamDone: make([]atomic.Bool, len(files)),
	}
	srv.setupRoutes()
	return srv, nil
}

// OnComplete registers the completion callback. Must be called before Start.
func (srv *TransferServer) OnComplete(fn CompleteFunc) {
	srv.onComplete = fn
}

// OnProgress registers the progress callback. Must be called before Start.
func (srv *TransferServer) OnProgress(fn ProgressFunc) {
	srv.onProgress = fn
}

// Start binds an ephemeral port on the first non-loopback IPv4 interface and
// serves until Stop.
func (srv *TransferServer) Start() (models.ServerInfo, error) {
	host := firstNonLoopbackIPv4()

	listener, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return models.ServerInfo{}, fmt.Errorf("%w: %v", ErrBind, err)
	}
	srv.listener = listener

	addr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return models.ServerInfo{}, ErrBind
	}
	srv.info = models.ServerInfo{
		SessionID: uuid.NewString(),
		Host:      host,
		Port:      addr.Port,
	}

	go func() {
		log.Info().
			Str("addr", listener.Addr().String()).
			Str("session_id", srv.info.SessionID).
			Int("files", len(srv.files)).
			Bool("protected", srv.auth != nil).
			Msg("Starting transfer server")

		srv.echo.Listener = listener
		if err := srv.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Transfer server stopped unexpectedly")
		}
	}()

	return srv.info, nil
}

// Stop force-closes all connections and invalidates the session token, so
// handlers still in flight reject any further authentication. The server
// cannot be restarted.
func (srv *TransferServer) Stop() error {
	if srv.listener == nil {
		return ErrNotStarted
	}

	log.Info().Str("session_id", srv.info.SessionID).Msg("Stopping transfer server")

	err := srv.echo.Close()
	srv.auth.Invalidate()
	srv.busy.Store(false)
	return err
}

// Info returns the bound address of a started server.
func (srv *TransferServer) Info() models.ServerInfo {
	return srv.info
}

// Handler exposes the HTTP surface without binding a listener.
func (srv *TransferServer) Handler() http.Handler {
	return srv.echo
}

func (srv *TransferServer) setupRoutes() {
	srv.echo.HideBanner = true
	srv.echo.HidePort = true

	srv.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${time_rfc3339} ${status} ${method} ${uri} (${latency_human})\n",
	}))
	srv.echo.Use(middleware.Recover())

	srv.echo.GET("/", srv.serveHome)
	srv.echo.POST("/", srv.submitPassword)
	srv.echo.GET("/info", srv.listFiles)
	srv.echo.GET("/files", srv.serveFile)
	srv.echo.GET("/download-all", srv.serveBundle)
}

// authorized checks the X-Share-Token header, then the token query
// parameter. An unprotected server authorizes everything.
func (srv *TransferServer) authorized(ctx echo.Context) bool {
	if srv.auth == nil {
		return true
	}
	token := ctx.Request().Header.Get(headerShareToken)
	if token == "" {
		token = ctx.QueryParam("token")
	}
	return srv.auth.ValidateToken(token)
}

func firstNonLoopbackIPv4() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil {
				return ip.String()
			}
		}
	}
	return "127.0.0.1"
}
