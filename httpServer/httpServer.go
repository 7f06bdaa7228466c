package httpServer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gopcast/internal/metrics"
	"gopcast/internal/streammanager"
	"gopcast/pkg/models"
)

// Server wraps the HTTP server with dependencies
type Server struct {
	router        *gin.Engine
	httpSrv       *http.Server
	streamManager *streammanager.Manager
	metrics       *metrics.Metrics
	log           logrus.FieldLogger
	started       time.Time
}

// New creates a new HTTP server
func New(streamManager *streammanager.Manager, m *metrics.Metrics, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		streamManager: streamManager,
		metrics:       m,
		log:           log,
		started:       time.Now(),
	}

	s.setupRoutes()
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/v1/streams", s.handleListStreams)
		api.GET("/v1/streams/:app/:name", s.handleGetStream)
	}

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.router = router
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until it stops. It returns nil after
// Shutdown.
func (s *Server) Run(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.log.WithField("addr", l.Addr().String()).Info("HTTP server listening")
	if err := s.httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server. A later Run returns immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// observe logs and records every request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		elapsed := time.Since(start)
		s.metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), elapsed.Seconds())
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": elapsed,
			"client":  c.ClientIP(),
		}).Debug("HTTP request")
	}
}

// Handler implementations

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
		"time":    time.Now().Unix(),
		"uptime":  int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleListStreams(c *gin.Context) {
	streams := s.streamManager.List()

	state := models.StreamState(c.Query("state"))
	streamInfos := make([]models.StreamInfo, 0, len(streams))
	for _, stream := range streams {
		info := stream.Info()
		if state != "" && info.State != state {
			continue
		}
		streamInfos = append(streamInfos, info)
	}

	c.JSON(http.StatusOK, models.StreamListResponse{
		Streams: streamInfos,
		Total:   len(streamInfos),
	})
}

func (s *Server) handleGetStream(c *gin.Context) {
	key := models.StreamKey{App: c.Param("app"), Name: c.Param("name")}

	stream, exists := s.streamManager.Get(key)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	c.JSON(http.StatusOK, stream.Info())
}
