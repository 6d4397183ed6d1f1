// Package api exposes the orchestrator's command surface over HTTP,
// grounded on the teacher's pkg/api/server.go route-registration shape
// (a thin wrapper that owns an engine, registers routes once, and
// exposes Start/StartWithListener/Shutdown), rebuilt on gin-gonic/gin
// per go.mod rather than the teacher's echo import (see DESIGN.md).
package api

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/codeready-toolchain/cairn/pkg/orchestrator"
	"github.com/codeready-toolchain/cairn/pkg/version"
	"github.com/gin-gonic/gin"
)

// Server is the runtime's HTTP command surface.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	orch       *orchestrator.Orchestrator
}

// NewServer builds a Server wired to orch. gin runs in release mode
// unless CAIRN_LOG_FORMAT=text (debug logging implies a developer is
// watching the console).
func NewServer(orch *orchestrator.Orchestrator) *Server {
	if os.Getenv("CAIRN_LOG_FORMAT") == "text" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	e := gin.New()
	e.Use(gin.Recovery())

	s := &Server{engine: e, orch: orch}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)
	s.engine.POST("/commands", s.submitCommandHandler)
	s.engine.GET("/agents", s.listAgentsHandler)
	s.engine.GET("/agents/:id", s.getAgentHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener,
// used by tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.engine}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// TestServeHTTP drives a request directly through the engine without a
// real listener, for use by this package's own tests.
func TestServeHTTP(s *Server, w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

type healthResponse struct {
	Status  string                  `json:"status"`
	Version string                  `json:"version"`
	Pool    orchestrator.PoolHealth `json:"pool"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	pool := s.orch.Health(ctx)
	status := "healthy"
	if !pool.IsHealthy {
		status = "degraded"
	}

	c.JSON(http.StatusOK, healthResponse{
		Status:  status,
		Version: version.Full(),
		Pool:    pool,
	})
}
