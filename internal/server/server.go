// Package server exposes the download runner over a small local HTTP API.
// Only one download may be active at a time.
package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"thirdcoast.systems/zdownload/internal/session"
	"thirdcoast.systems/zdownload/internal/settings"
)

const eventsPath = "/api/downloads/current/events"

type Server struct {
	*echo.Echo

	// ctx outlives requests; downloads are cancelled when it ends.
	ctx      context.Context
	runner   *session.Runner
	settings *settings.Store

	mu      sync.Mutex
	current *feed
}

func New(ctx context.Context, runner *session.Runner, store *settings.Store) (*Server, error) {
	s := &Server{
		Echo:     echo.New(),
		ctx:      ctx,
		runner:   runner,
		settings: store,
	}

	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	if err := s.setupMiddleware(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) setupMiddleware() error {
	s.HideBanner = true
	s.HidePort = true
	s.Use(middleware.BodyLimit("64K"))
	s.Use(middleware.Recover())
	s.Use(middleware.RequestID())
	s.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Path() == eventsPath
		},
	}))
	s.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  false,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"remote_ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			slog.Info("request", fields...)
			return nil
		},
	}))
	return nil
}

func (s *Server) registerRoutes() error {
	api := s.Group("/api")
	api.POST("/downloads", s.handleSubmit)
	api.GET("/downloads/current", s.handleCurrent)
	api.DELETE("/downloads/current", s.handleCancel)
	s.GET(eventsPath, s.handleEvents)

	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handlePutSettings)

	// Health check
	s.GET("/healthz", func(c echo.Context) error {
		return c.String(200, "ok")
	})
	return nil
}

// active returns the current feed, or nil when no download was submitted.
func (s *Server) active() *feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
