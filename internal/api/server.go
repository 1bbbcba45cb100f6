// Package api exposes the HTTP surface of the VideoChat backend:
// video upload and status, chat, visual search and static artifact
// serving.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/videochat/videochat-backend/internal/config"
	"github.com/videochat/videochat-backend/internal/gemini"
	"github.com/videochat/videochat-backend/internal/pipeline"
	"github.com/videochat/videochat-backend/internal/store"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Config    config.Config
	Repo      store.Repository
	Pipeline  *pipeline.Pipeline
	Gemini    gemini.Service
	Logger    *slog.Logger
	StartTime time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Config.Port()),
			Handler:      router,
			ReadTimeout:  0, // uploads can be large and slow
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
