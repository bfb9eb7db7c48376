package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/exchange/internal/jobstore"
	"github.com/danmuck/exchange/internal/logging"
	"github.com/danmuck/exchange/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const version = "0.1.0"

func (s *Service) RegisterRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.NodeID,
			"version": version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		if !s.Ready() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   s.Ready(),
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.NodeID,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/protocols", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"protocols": s.template.Pool().Describe()})
	})

	r.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"template":    s.template.Snapshot(),
			"connections": s.Connections(),
		})
	})

	if s.cfg.Jobs != nil {
		r.GET("/jobs", s.listJobs)
		r.GET("/jobs/*key", s.getJob)
	}
}

func (s *Service) listJobs(c *gin.Context) {
	keys, err := s.cfg.Jobs.List(c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": keys})
}

func (s *Service) getJob(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	data, err := s.cfg.Jobs.Get(key)
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, jobstore.ErrInvalidKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.Data(http.StatusOK, "application/octet-stream", data)
	}
}

func (s *Service) wsPath() string {
	if s.cfg.Transport.WSPath != "" {
		return s.cfg.Transport.WSPath
	}
	return "/ws"
}

func (s *Service) handleWS(c *gin.Context) {
	raw, err := transport.NewUpgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Str("scope", logging.ScopeDev).Err(err).Msg("websocket upgrade")
		return
	}
	conn := transport.NewWSConn(raw, "", s.cfg.Transport)
	s.wg.Add(1)
	defer s.wg.Done()
	s.handleConn(c.Request.Context(), conn, c.Request.RemoteAddr)
}
