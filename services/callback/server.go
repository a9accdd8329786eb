// Package callback runs the loopback HTTP server that receives the browser
// back from a federated login.
package callback

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/unihub/unihub/core"
	"github.com/unihub/unihub/core/session"
)

var ErrClosed = errors.New("callback: server stopped before the redirect arrived")

type (
	// Redirector finishes the federated login from the redirect query.
	Redirector interface {
		CompleteRedirect(ctx context.Context, query url.Values) (session.Destination, error)
	}

	Options struct {
		Address        string // host:port, port 0 picks a free one
		DisableReqLogs bool
		Debug          bool
		Redirector     Redirector
		Logger         core.Logger
	}

	// Result is the outcome of the first redirect received.
	Result struct {
		Destination session.Destination
		Err         error
	}

	Server struct {
		opts    *Options
		app     *echo.Echo
		results chan Result
		once    sync.Once
		stopped chan struct{}
		stop    sync.Once
		started atomic.Bool
	}
)

func NewServer(opts *Options) *Server {
	s := &Server{
		opts:    opts,
		app:     echo.New(),
		results: make(chan Result, 1),
		stopped: make(chan struct{}),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Debug = s.opts.Debug

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	if !s.opts.Debug {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.GET("/", s.home)
	s.app.GET(session.RedirectPath, s.redirect)
}

// Listen binds the address so RedirectURL is known before the browser is sent off.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.opts.Address)
	}
	s.app.Listener = ln
	return nil
}

// RedirectURL is the redirect_uri handed to the identity provider.
func (s *Server) RedirectURL() string {
	addr := s.opts.Address
	if s.app.Listener != nil {
		addr = s.app.Listener.Addr().String()
	}
	return "http://" + addr + session.RedirectPath
}

// Start serves in the background; Listen must have succeeded.
func (s *Server) Start() {
	s.started.Store(true)
	go func() {
		if err := s.app.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.opts.Logger.Error("callback server", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	s.stop.Do(func() { close(s.stopped) })
	if !s.started.Load() && s.app.Listener != nil {
		return s.app.Listener.Close()
	}
	return s.app.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

// Wait blocks until the first redirect was handled, ctx is done or the server stopped.
func (s *Server) Wait(ctx context.Context) (session.Destination, error) {
	select {
	case res := <-s.results:
		return res.Destination, res.Err
	case <-ctx.Done():
		return session.Destination{}, ctx.Err()
	case <-s.stopped:
		return session.Destination{}, ErrClosed
	}
}

func (s *Server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "UniHub sign-in helper is waiting for the identity provider.")
}

func (s *Server) redirect(ctx echo.Context) error {
	dest, err := s.opts.Redirector.CompleteRedirect(ctx.Request().Context(), ctx.QueryParams())
	s.once.Do(func() {
		s.results <- Result{Destination: dest, Err: err}
	})
	if err != nil {
		s.opts.Logger.Error("completing federated login", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Sign-in could not be completed.")
	}
	return ctx.String(http.StatusOK, pageText(dest))
}

func pageText(dest session.Destination) string {
	switch {
	case dest.View == session.NavDashboard:
		return "Signed in to UniHub. You can close this window."
	case dest.Error == "oauth2_failed" && dest.Message != "":
		return "Sign-in failed: " + dest.Message
	case dest.Error != "":
		return "Sign-in failed. Please try again."
	default:
		return "No sign-in token was received. Please try again."
	}
}
