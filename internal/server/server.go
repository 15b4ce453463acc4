// Package server exposes the lookup path over a small JSON HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/inodb/amlookup/internal/amerr"
	"github.com/inodb/amlookup/internal/join"
	"github.com/inodb/amlookup/internal/lookup"
)

// Options configures a Server.
type Options struct {
	// ReadyTimeout bounds how long a request waits for the first snapshot
	// before answering 503.
	ReadyTimeout time.Duration
	// RateLimit is the sustained requests per second allowed per client IP.
	// Zero disables rate limiting.
	RateLimit float64
	Logger    *zap.Logger
}

// Server serves lookups from the Service published through a Gate.
type Server struct {
	e            *echo.Echo
	gate         *lookup.Gate
	readyTimeout time.Duration
	log          *zap.Logger
}

type chromosomesResponse struct {
	Chromosomes []string `json:"chromosomes"`
}

type variantsResponse struct {
	Variants []join.AnnotatedVariant `json:"variants"`
}

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// New builds the router.
func New(gate *lookup.Gate, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		e:            echo.New(),
		gate:         gate,
		readyTimeout: opts.ReadyTimeout,
		log:          log,
	}
	s.e.HideBanner = true
	s.e.HidePort = true

	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestID())
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	s.e.GET("/healthz", s.health)
	s.e.GET("/readyz", s.ready)

	api := s.e.Group("/api/v1")
	if opts.RateLimit > 0 {
		burst := max(1, int(opts.RateLimit))
		api.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
			Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(opts.RateLimit),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			}),
		}))
	}
	api.GET("/chromosomes", s.chromosomes)
	api.GET("/variants", s.variants)

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("server starting", zap.String("addr", addr))
		serverErrors <- s.e.Start(addr)
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.e.Shutdown(shutdownCtx); err != nil {
			s.log.Error("graceful shutdown failed", zap.Error(err))
			return s.e.Close()
		}
		s.log.Info("shutdown complete")
		return nil
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) ready(c echo.Context) error {
	if err := s.gate.Err(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, statusResponse{Status: "failed", Error: err.Error()})
	}
	if !s.gate.Ready() {
		return c.JSON(http.StatusServiceUnavailable, statusResponse{Status: "loading"})
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "ready"})
}

// service waits for the published Service, bounded by the ready timeout.
func (s *Server) service(c echo.Context) (*lookup.Service, error) {
	ctx := c.Request().Context()
	if s.readyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.readyTimeout)
		defer cancel()
	}
	return s.gate.Wait(ctx)
}

func (s *Server) chromosomes(c echo.Context) error {
	svc, err := s.service(c)
	if err != nil {
		return s.fail(c, err)
	}
	labels, err := svc.Chromosomes(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, chromosomesResponse{Chromosomes: labels})
}

func (s *Server) variants(c echo.Context) error {
	chrom := c.QueryParam("chrom")
	if chrom == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "chrom is required")
	}
	pos, err := strconv.ParseInt(c.QueryParam("pos"), 10, 64)
	if err != nil || pos < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "pos must be a positive integer")
	}
	genotype := c.QueryParam("genotype")

	// Reject bad genotypes before waiting on the gate.
	if _, err := lookup.NormalizeGenotype(genotype); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	svc, err := s.service(c)
	if err != nil {
		return s.fail(c, err)
	}
	rows, err := svc.Lookup(c.Request().Context(), chrom, pos, genotype)
	if err != nil {
		return s.fail(c, err)
	}
	if rows == nil {
		rows = []join.AnnotatedVariant{}
	}
	return c.JSON(http.StatusOK, variantsResponse{Variants: rows})
}

func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, amerr.ErrNotReady):
		return c.JSON(http.StatusServiceUnavailable, statusResponse{Status: "loading"})
	case errors.Is(err, amerr.ErrInvalidGenotype):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case s.gate.Err() != nil:
		return c.JSON(http.StatusServiceUnavailable, statusResponse{Status: "failed", Error: err.Error()})
	}
	s.log.Error("lookup failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "lookup failed")
}
