// Package api is the HTTP control surface of a monitoring session.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tamzrod/bms-telemetry/internal/command"
	"github.com/tamzrod/bms-telemetry/internal/decoder"
	"github.com/tamzrod/bms-telemetry/internal/observability"
	"github.com/tamzrod/bms-telemetry/internal/session"
)

// Controller is the session surface the API drives.
type Controller interface {
	Run() error
	Wait() error
	SetSOC(percent float64) error
	RequestState(kind command.RequestKind, period time.Duration) error
	StopRequests() error
	Status() session.Status
	Subscribe() *decoder.Subscription
}

type Server struct {
	ctl      Controller
	router   *gin.Engine
	gatherer prometheus.Gatherer
	log      zerolog.Logger
	appeared time.Time

	mu     sync.Mutex
	srv    *http.Server
	closed bool
}

// New builds the router. gatherer serves /metrics and may be nil.
func New(ctl Controller, m *observability.Metrics, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	if m == nil {
		m = observability.Discard()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log))
	r.Use(observability.RequestMetrics(m))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ctl:      ctl,
		router:   r,
		gatherer: gatherer,
		log:      log,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe blocks until Shutdown. A clean shutdown returns nil,
// including one that happened before the listener was opened.
func (s *Server) ListenAndServe(addr string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.srv = srv
	s.mu.Unlock()

	s.log.Info().Str("addr", addr).Msg("api listening")

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
// Open event streams end with the request context.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.srv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/healthz", s.healthz)
	r.GET("/status", s.status)

	r.POST("/session/run", s.run)
	r.POST("/session/wait", s.wait)

	r.POST("/commands/soc", s.setSOC)
	r.PUT("/commands/periodic", s.putPeriodic)
	r.DELETE("/commands/periodic", s.deletePeriodic)

	r.GET("/events", s.events)

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
}

// errStatus maps domain errors onto HTTP codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, command.ErrInvalidSOC),
		errors.Is(err, command.ErrInvalidPeriod),
		errors.Is(err, command.ErrUnknownRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotStarted),
		errors.Is(err, session.ErrStopped):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(errStatus(err), gin.H{"error": err.Error()})
}
