// Package web exposes chart analysis over HTTP for the web page, plus health
// and Prometheus endpoints.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/analysis"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
	"github.com/Akshay-Anand-Code/chart-analyzer/internal/orchestrator"
	"github.com/google/uuid"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	msgTooLarge           = "File is too large"
	defaultAddr           = "127.0.0.1:8080"
	defaultMaxUploadBytes = 5 << 20
	multipartOverhead     = 64 << 10
	shutdownTimeout       = 10 * time.Second
	defaultDisplayName    = "web"
)

type Config struct {
	Addr           string
	MaxUploadBytes int64
	Analyzer       domain.Analyzer
	// Registerer and Gatherer enable request metrics and /metrics. Nil
	// disables both.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Version    string
	Logger     *slog.Logger
}

// Server is the HTTP surface. It shares the analyzer with the bot.
type Server struct {
	addr      string
	maxUpload int64
	analyzer  domain.Analyzer
	version   string
	echo      *echo.Echo
	logger    *slog.Logger
}

type analyzeResponse struct {
	Analysis string            `json:"analysis"`
	Metrics  *analysis.Metrics `json:"metrics,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		addr:      cfg.Addr,
		maxUpload: cfg.MaxUploadBytes,
		analyzer:  cfg.Analyzer,
		version:   cfg.Version,
		logger:    cfg.Logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.BodyLimit(strconv.FormatInt(cfg.MaxUploadBytes+multipartOverhead, 10)))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	if cfg.Registerer != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Namespace:  "chartbot",
			Subsystem:  "http",
			Registerer: cfg.Registerer,
		}))
	}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	e.GET("/healthz", s.handleHealth)
	e.POST("/api/analyze", s.handleAnalyze)
	if cfg.Gatherer != nil {
		e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
			Gatherer: cfg.Gatherer,
		}))
	}

	s.echo = e
	return s
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", s.addr)
		err := s.echo.Start(s.addr)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("web server stopped")
	return nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

// handleAnalyze accepts a multipart upload in field "image" and an optional
// "name" used for attribution.
func (s *Server) handleAnalyze(c echo.Context) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "image field is required"})
	}
	if fh.Size > s.maxUpload {
		return c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: msgTooLarge})
	}

	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "cannot read upload"})
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxUpload+1))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "cannot read upload"})
	}
	if int64(len(data)) > s.maxUpload {
		return c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: msgTooLarge})
	}
	if _, err := analysis.SniffImage(data); err != nil {
		return c.JSON(http.StatusUnsupportedMediaType, errorResponse{Error: "Please upload an image file"})
	}

	name := strings.TrimSpace(c.FormValue("name"))
	if name == "" {
		name = defaultDisplayName
	}

	ctx := c.Request().Context()
	text, err := s.analyzer.Analyze(ctx, domain.AnalysisRequest{DisplayName: name, Image: data})
	if err != nil {
		s.logger.Error("web analysis failed",
			"kind", domain.KindOf(err),
			"error", err,
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
		return c.JSON(statusFor(err), errorResponse{Error: orchestrator.UserMessage(err)})
	}

	return c.JSON(http.StatusOK, analyzeResponse{
		Analysis: text,
		Metrics:  analysis.ParseMetrics(text),
	})
}

// handleError renders framework errors, such as the body limit, in the same
// shape as handler errors.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		msg = fmt.Sprint(he.Message)
	}
	if code == http.StatusRequestEntityTooLarge {
		msg = msgTooLarge
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("http error", "status", code, "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, errorResponse{Error: msg})
	}
	if err != nil {
		s.logger.Warn("write error response", "error", err)
	}
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidImage:
		return http.StatusUnsupportedMediaType
	case domain.KindInvalidResponse, domain.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
