// Package server hosts the operational HTTP surface.
package server

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/memohai/statebot/internal/auth"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = ":8080"

// Handler registers its routes on the echo instance.
type Handler interface {
	Register(e *echo.Echo)
}

// Options configure the listener. A non-empty JWTSecret requires a bearer
// token on every path except /ping and /health.
type Options struct {
	Addr      string
	JWTSecret string
}

type Server struct {
	echo *echo.Echo
	addr string
}

func NewServer(log *slog.Logger, opts Options, handlers ...Handler) *Server {
	if log == nil {
		log = slog.Default()
	}
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	log = log.With(slog.String("component", "http"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))
	if opts.JWTSecret != "" {
		e.Use(auth.JWTMiddleware(opts.JWTSecret, auth.PublicPaths("/ping", "/health")))
	}
	for _, h := range handlers {
		if h != nil {
			h.Register(e)
		}
	}
	return &Server{echo: e, addr: addr}
}

// Handler exposes the underlying router for in-process requests.
func (s *Server) Handler() *echo.Echo {
	return s.echo
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
