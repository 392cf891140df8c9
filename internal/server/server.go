// Package server exposes the inbound SMS webhook and operational
// endpoints.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	twclient "github.com/twilio/twilio-go/client"

	"github.com/chris/anchor/internal/agent"
	"github.com/chris/anchor/internal/metrics"
	"github.com/chris/anchor/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// Handler runs a conversation turn.
type Handler interface {
	HandleMessage(ctx context.Context, in agent.Inbound) agent.Reply
}

type Config struct {
	// TwilioAuthToken and PublicURL are needed when ValidateSignature is set.
	TwilioAuthToken   string
	ValidateSignature bool
	PublicURL         string
	RatePerMinute     int
}

type Server struct {
	echo      *echo.Echo
	agent     Handler
	cfg       Config
	metrics   *metrics.Metrics
	health    func(context.Context) error
	limiter   *senderLimiter
	validator *twclient.RequestValidator
}

// New wires routes. health may be nil.
func New(h Handler, cfg Config, m *metrics.Metrics, health func(context.Context) error) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		agent:   h,
		cfg:     cfg,
		metrics: m,
		health:  health,
		limiter: newSenderLimiter(cfg.RatePerMinute),
	}
	if cfg.ValidateSignature {
		v := twclient.NewRequestValidator(cfg.TwilioAuthToken)
		s.validator = &v
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(requestID)
	e.Use(accessLog)

	e.POST("/webhook", s.handleWebhook)
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))
	return s
}

// ServeHTTP lets the server be used with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	observability.Logger().Info("server: listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			observability.LoggerFromContext(c.Request().Context()).Warn("server: health check failed", "error", err)
			return c.String(http.StatusServiceUnavailable, "UNAVAILABLE")
		}
	}
	return c.String(http.StatusOK, "OK")
}

// errorHandler answers webhook failures with a polite TwiML reply so the
// user always hears back. Other routes get echo's default handling.
func (s *Server) errorHandler(err error, c echo.Context) {
	var he *echo.HTTPError
	if c.Request().URL.Path == "/webhook" && !(errors.As(err, &he) && he.Code < 500) {
		observability.LoggerFromContext(c.Request().Context()).Error("server: webhook failed", "error", err)
		if !c.Response().Committed {
			_ = twiml(c, agent.ErrorReply)
		}
		return
	}
	c.Echo().DefaultHTTPErrorHandler(err, c)
}

func requestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(requestIDHeader, id)
		ctx := observability.WithRequestID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		observability.LoggerFromContext(c.Request().Context()).Info("http request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return err
	}
}
