// Package server exposes a small HTTP API over a running cluster, used by
// the CLI's run command for poking at services started outside a test binary.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Adelost/harness/internal/cluster"
	"github.com/Adelost/harness/internal/metrics"
	"github.com/Adelost/harness/internal/service"
)

// Router provides embeddable HTTP handlers for inspecting and stopping
// services of one cluster. Endpoints:
//
//	GET  {basePath}/status          all members
//	GET  {basePath}/status?name=x   one member
//	POST {basePath}/stop?name=x     stop one member
//	GET  {basePath}/healthz         503 unless every member is healthy
//	GET  {basePath}/metrics         Prometheus metrics
type Router struct {
	cluster  *cluster.Cluster
	basePath string
}

func NewRouter(c *cluster.Cluster, basePath string) *Router {
	return &Router{cluster: c, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/stop", r.handleStop)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, c *cluster.Cluster) *http.Server {
	r := NewRouter(c, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type statusResp struct {
	Name      string   `json:"name"`
	PID       int      `json:"pid"`
	Alive     bool     `json:"alive"`
	Healthy   bool     `json:"healthy"`
	StartupMs int64    `json:"startup_ms"`
	UptimeMs  int64    `json:"uptime_ms"`
	MemoryMB  *float64 `json:"memory_mb"`
}

func (r *Router) handleStatus(c *gin.Context) {
	if name := c.Query("name"); name != "" {
		s := r.cluster.Get(name)
		if s == nil {
			c.JSON(http.StatusNotFound, errorResp{Error: "unknown service: " + name})
			return
		}
		c.JSON(http.StatusOK, statusOf(c, s))
		return
	}
	services := r.cluster.Services()
	out := make([]statusResp, 0, len(services))
	for _, s := range services {
		out = append(out, statusOf(c, s))
	}
	c.JSON(http.StatusOK, out)
}

func statusOf(c *gin.Context, s *service.Service) statusResp {
	st := s.Stats()
	return statusResp{
		Name:      s.Name(),
		PID:       s.PID(),
		Alive:     s.IsAlive(),
		Healthy:   s.IsHealthy(c.Request.Context()),
		StartupMs: s.Startup().Milliseconds(),
		UptimeMs:  st.Uptime.Milliseconds(),
		MemoryMB:  st.MemoryMB,
	}
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name query param required"})
		return
	}
	s := r.cluster.Get(name)
	if s == nil {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown service: " + name})
		return
	}
	if err := s.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHealthz(c *gin.Context) {
	if r.cluster.IsHealthy(c.Request.Context()) {
		c.JSON(http.StatusOK, okResp{OK: true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, okResp{OK: false})
}

func sanitizeBase(basePath string) string {
	bp := strings.TrimSpace(basePath)
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimSuffix(bp, "/")
}
