package exporter

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the last reading, a health check and the metrics over HTTP.
type Server struct {
	e      *echo.Echo
	exp    *Exporter
	addr   string
	maxAge time.Duration
	now    func() time.Time
}

// NewServer wires the routes. maxAge bounds how old the last reading may be
// before /health reports a problem.
func NewServer(addr string, exp *Exporter, g prometheus.Gatherer, maxAge time.Duration) *Server {
	s := &Server{
		e:      echo.New(),
		exp:    exp,
		addr:   addr,
		maxAge: maxAge,
		now:    time.Now,
	}
	s.e.HideBanner = true

	s.e.GET("/", s.returnData)
	s.e.GET("/health", s.returnHealth)
	s.e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	return s
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	if err := s.e.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.e
}

// Data return handler
func (s *Server) returnData(c echo.Context) error {
	r := s.exp.Last()
	if r == nil {
		return c.String(http.StatusNoContent, "No data yet")
	}
	return c.JSONPretty(http.StatusOK, r, "  ")
}

// Health handler
func (s *Server) returnHealth(c echo.Context) error {
	h := s.exp.Health(s.now(), s.maxAge)
	if h == nil {
		return c.String(http.StatusNoContent, "No health data yet")
	}
	return c.JSONPretty(http.StatusOK, h, "  ")
}
