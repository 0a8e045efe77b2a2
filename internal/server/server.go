// Package server exposes the dispatcher's in-flight sessions over a
// read-only HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"impulse/internal/common"
	"impulse/internal/dispatch"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Sessions is the read side of the dispatch registry.
type Sessions interface {
	Snapshot() []dispatch.SessionInfo
	Find(identity string) []dispatch.SessionInfo
}

type Server struct {
	sessions Sessions
	health   func() error
	logger   *zap.Logger
	engine   *gin.Engine
	http     *http.Server
}

// New builds the API. health reports whether the process can still serve
// tasks; nil means always healthy.
func New(addr string, sessions Sessions, health func() error, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		sessions: sessions,
		health:   health,
		logger:   logger,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/sessions", s.listSessions)
	s.engine.GET("/sessions/:name", s.getSession)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("admin api listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin api stopped", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health(); err != nil {
			common.Error(c, common.WrapErrNo(common.SERVICE_ERR, err))
			return
		}
	}
	common.Success(c, gin.H{"status": "ok"})
}

func (s *Server) listSessions(c *gin.Context) {
	common.Success(c, s.sessions.Snapshot())
}

func (s *Server) getSession(c *gin.Context) {
	found := s.sessions.Find(c.Param("name"))
	if len(found) == 0 {
		common.Error(c, common.NewErrNo(common.SESSION_NOT_FOUND))
		return
	}
	common.Success(c, found)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
