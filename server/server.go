// Package server fronts the engine with the HTTP surface: health probes,
// metrics, collection and point CRUD, and the search endpoints.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgevec/edgevec"
	"github.com/edgevec/edgevec/config"
)

// Server wires the engine into a gin router.
type Server struct {
	engine *edgevec.Engine
	cfg    *config.Config
	router *gin.Engine
}

// New creates a server around an open engine.
func New(engine *edgevec.Engine, cfg *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine: engine,
		cfg:    cfg,
		router: gin.New(),
	}
	s.router.Use(gin.Recovery(), s.bodyLimit())
	s.setupRoutes()
	return s
}

// Router exposes the underlying router (for tests and embedding).
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves on the configured bind address.
func (s *Server) Run() error {
	return s.router.Run(s.cfg.Server.Bind)
}

func (s *Server) setupRoutes() {
	s.router.GET("/live", s.handleLive)
	s.router.GET("/ready", s.handleReady)
	s.router.GET("/metrics", s.handleMetrics)
	s.router.GET("/metrics/prometheus", s.handleMetricsPrometheus)
	s.router.POST("/distance", s.handleDistance)

	s.router.POST("/collections", s.handleCreateCollection)
	s.router.GET("/collections", s.handleListCollections)
	s.router.GET("/collections/:name", s.handleDescribeCollection)
	s.router.DELETE("/collections/:name", s.handleDeleteCollection)

	s.router.POST("/collections/:name/points", s.handleUpsertPoints)
	s.router.GET("/collections/:name/points", s.handleListPoints)
	s.router.POST("/collections/:name/points/count", s.handleCountPoints)
	s.router.POST("/collections/:name/points/set_payload", s.handleSetPayload)
	s.router.POST("/collections/:name/points/delete_payload", s.handleDeletePayload)
	s.router.PUT("/collections/:name/points/:id", s.handleUpsertPoint)
	s.router.GET("/collections/:name/points/:id", s.handleGetPoint)
	s.router.DELETE("/collections/:name/points/:id", s.handleDeletePoint)

	s.router.POST("/collections/:name/search", s.handleSearch)
	s.router.POST("/collections/:name/search/topk", s.handleSearchTopK)
	s.router.POST("/collections/:name/search/topk/batch", s.handleSearchTopKBatch)
}

// bodyLimit caps request bodies at max_body_bytes before decoding.
func (s *Server) bodyLimit() gin.HandlerFunc {
	limit := int64(s.cfg.Runtime.MaxBodyBytes)
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
