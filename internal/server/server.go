// Package server exposes the chat engine over HTTP with echo.
//
// Handlers are thin: bind, validate, delegate, render. Degraded engine
// paths arrive as notices inside successful results and render as 200;
// only input errors become 4xx.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mentor0/mentor/internal/chunker"
	"github.com/mentor0/mentor/internal/engine"
	"github.com/mentor0/mentor/internal/log"
)

// Engine is the capability set the HTTP layer consumes.
type Engine interface {
	Chat(ctx context.Context, sessionID, message string) (engine.ChatResult, error)
	Upload(ctx context.Context, sessionID, content, filename, fileType string) (engine.UploadResult, error)
	Stats(ctx context.Context, sessionID string) engine.SessionStats
	ResetMessages(sessionID string)
	ResetAll(ctx context.Context, sessionID string) string
	Reindex(ctx context.Context, sessionID string) engine.ReindexResult
}

// Server hosts the HTTP API.
type Server struct {
	echo   *echo.Echo
	engine Engine
	logger log.Logger
}

// New creates the Server and registers all routes.
func New(eng Engine, logger log.Logger) *Server {
	s := &Server{
		engine: eng,
		logger: logger.With("component", "server"),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency)
			return nil
		},
	}))

	e.GET("/healthz", s.health)
	api := e.Group("/api")
	api.POST("/chat", s.chat)
	api.POST("/sessions/:id/documents", s.uploadDocument)
	api.GET("/sessions/:id/stats", s.sessionStats)
	api.POST("/sessions/:id/reset", s.resetMessages)
	api.POST("/sessions/:id/reset-all", s.resetAll)
	api.POST("/sessions/:id/reindex", s.reindex)

	s.echo = e
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	result, err := s.engine.Chat(c.Request().Context(), req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, engine.ErrEmptyMessage) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
		}
		s.logger.Error("chat failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, result)
}

type uploadRequest struct {
	Content  string `json:"content"`
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
}

func (s *Server) uploadDocument(c echo.Context) error {
	var req uploadRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Filename == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "filename is required"})
	}

	result, err := s.engine.Upload(c.Request().Context(), c.Param("id"), req.Content, req.Filename, req.FileType)
	if err != nil {
		if errors.Is(err, chunker.ErrNoContent) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "document has no extractable content"})
		}
		s.logger.Error("upload failed", "filename", req.Filename, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) sessionStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Stats(c.Request().Context(), c.Param("id")))
}

func (s *Server) resetMessages(c echo.Context) error {
	id := c.Param("id")
	s.engine.ResetMessages(id)
	return c.JSON(http.StatusOK, map[string]string{
		"session_id": id,
		"status":     "messages_cleared",
	})
}

func (s *Server) resetAll(c echo.Context) error {
	id := c.Param("id")
	resp := map[string]string{
		"session_id": id,
		"status":     "reset",
	}
	if notice := s.engine.ResetAll(c.Request().Context(), id); notice != "" {
		resp["notice"] = notice
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) reindex(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Reindex(c.Request().Context(), c.Param("id")))
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
