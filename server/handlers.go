package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edgevec/edgevec"
	"github.com/edgevec/edgevec/distance"
	"github.com/edgevec/edgevec/metadata"
)

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime_ms": s.engine.UptimeMS(),
	})
}

func (s *Server) handleReady(c *gin.Context) {
	status := s.engine.Ready()
	code := http.StatusOK
	state := "ready"
	if !status.Ready {
		code = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(code, gin.H{
		"status":    state,
		"uptime_ms": status.UptimeMS,
		"checks": gin.H{
			"engine_loaded":     status.EngineLoaded,
			"storage_available": status.StorageAvailable,
			"wal_tail_open":     status.WALTailOpen,
		},
	})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Stats())
}

type distanceRequest struct {
	Left   []float32 `json:"left"`
	Right  []float32 `json:"right"`
	Metric string    `json:"metric"`
}

func (s *Server) handleDistance(c *gin.Context) {
	var req distanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	metric, err := distance.ParseMetric(req.Metric)
	if err != nil {
		writeError(c, edgevec.ErrInvalidArgument("%v", err))
		return
	}
	value, derr := s.engine.Distance(metric, req.Left, req.Right)
	if derr != nil {
		writeError(c, derr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metric": metric.String(), "value": value})
}

type createCollectionRequest struct {
	Name         string `json:"name"`
	Dimension    int    `json:"dimension"`
	StrictFinite *bool  `json:"strict_finite"`
}

func (s *Server) handleCreateCollection(c *gin.Context) {
	var req createCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	strict := s.cfg.Runtime.StrictFiniteDefault
	if req.StrictFinite != nil {
		strict = *req.StrictFinite
	}
	if err := s.engine.CreateCollection(c.Request.Context(), req.Name, req.Dimension, strict); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"name":          req.Name,
		"dimension":     req.Dimension,
		"strict_finite": strict,
	})
}

func (s *Server) handleListCollections(c *gin.Context) {
	infos, err := s.engine.ListCollections(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collections": infos})
}

func (s *Server) handleDescribeCollection(c *gin.Context) {
	info, err := s.engine.DescribeCollection(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleDeleteCollection(c *gin.Context) {
	if err := s.engine.DeleteCollection(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func parsePointID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, edgevec.ErrInvalidArgument("point id must be an unsigned integer"))
		return 0, false
	}
	return id, true
}

type upsertPointRequest struct {
	Values  []float32        `json:"values"`
	Payload metadata.Payload `json:"payload"`
}

func (s *Server) handleUpsertPoint(c *gin.Context) {
	id, ok := parsePointID(c)
	if !ok {
		return
	}
	var req upsertPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	created, err := s.engine.UpsertPoint(c.Request.Context(), c.Param("name"), id, req.Values, req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	c.JSON(code, gin.H{"id": id, "created": created})
}

type upsertPointsRequest struct {
	Points []edgevec.PointUpsert `json:"points"`
}

func (s *Server) handleUpsertPoints(c *gin.Context) {
	var req upsertPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	created, err := s.engine.UpsertPoints(c.Request.Context(), c.Param("name"), req.Points)
	if err != nil {
		writeError(c, err)
		return
	}
	createdCount := 0
	for _, flag := range created {
		if flag {
			createdCount++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"upserted": len(created),
		"created":  createdCount,
	})
}

func (s *Server) handleGetPoint(c *gin.Context) {
	id, ok := parsePointID(c)
	if !ok {
		return
	}
	point, err := s.engine.GetPoint(c.Request.Context(), c.Param("name"), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, point)
}

func (s *Server) handleDeletePoint(c *gin.Context) {
	id, ok := parsePointID(c)
	if !ok {
		return
	}
	deleted, err := s.engine.DeletePoint(c.Request.Context(), c.Param("name"), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (s *Server) handleListPoints(c *gin.Context) {
	var req edgevec.PageRequest

	if raw, present := c.GetQuery("limit"); present {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, edgevec.ErrInvalidArgument("limit must be an integer"))
			return
		}
		req.Limit = limit
	}
	if raw, present := c.GetQuery("offset"); present {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			writeError(c, edgevec.ErrInvalidArgument("offset must be an integer"))
			return
		}
		req.Offset = &offset
	}
	if raw, present := c.GetQuery("after_id"); present {
		afterID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(c, edgevec.ErrInvalidArgument("after_id must be an unsigned integer"))
			return
		}
		req.AfterID = &afterID
	}

	res, err := s.engine.ListPoints(c.Request.Context(), c.Param("name"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type countPointsRequest struct {
	Filter *metadata.Filter `json:"filter"`
}

func (s *Server) handleCountPoints(c *gin.Context) {
	var req countPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	count, err := s.engine.CountPoints(c.Request.Context(), c.Param("name"), req.Filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type setPayloadRequest struct {
	Points  []uint64         `json:"points"`
	Payload metadata.Payload `json:"payload"`
}

func (s *Server) handleSetPayload(c *gin.Context) {
	var req setPayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	changed, err := s.engine.SetPayload(c.Request.Context(), c.Param("name"), req.Points, req.Payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

type deletePayloadRequest struct {
	Points []uint64 `json:"points"`
	Keys   []string `json:"keys"`
}

func (s *Server) handleDeletePayload(c *gin.Context) {
	var req deletePayloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	changed, err := s.engine.DeletePayload(c.Request.Context(), c.Param("name"), req.Points, req.Keys)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}
