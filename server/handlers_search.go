package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edgevec/edgevec"
	"github.com/edgevec/edgevec/distance"
	"github.com/edgevec/edgevec/metadata"
)

type searchRequest struct {
	Metric string    `json:"metric"`
	Query  []float32 `json:"query"`
}

func (s *Server) handleSearch(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	metric, err := distance.ParseMetric(req.Metric)
	if err != nil {
		writeError(c, edgevec.ErrInvalidArgument("%v", err))
		return
	}
	hit, serr := s.engine.Search(c.Request.Context(), c.Param("name"), metric, req.Query)
	if serr != nil {
		writeError(c, serr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":     hit.ID,
		"metric": metric.String(),
		"value":  hit.Value,
	})
}

type searchTopKRequest struct {
	Metric         string           `json:"metric"`
	Query          []float32        `json:"query"`
	Limit          *int             `json:"limit"`
	Mode           string           `json:"mode"`
	NProbe         int              `json:"nprobe"`
	TargetRecall   *float32         `json:"target_recall"`
	Filter         *metadata.Filter `json:"filter"`
	IncludePayload bool             `json:"include_payload"`
}

func (r *searchTopKRequest) toEngine() (edgevec.SearchRequest, error) {
	metric, err := distance.ParseMetric(r.Metric)
	if err != nil {
		return edgevec.SearchRequest{}, edgevec.ErrInvalidArgument("%v", err)
	}
	mode, err := edgevec.ParseSearchMode(r.Mode)
	if err != nil {
		return edgevec.SearchRequest{}, edgevec.ErrInvalidArgument("%v", err)
	}
	req := edgevec.SearchRequest{
		Metric:         metric,
		Query:          r.Query,
		Mode:           mode,
		NProbe:         r.NProbe,
		TargetRecall:   r.TargetRecall,
		Filter:         r.Filter,
		IncludePayload: r.IncludePayload,
	}
	if r.Limit != nil {
		req.Limit = *r.Limit
		req.LimitSet = true
	}
	return req, nil
}

func (s *Server) handleSearchTopK(c *gin.Context) {
	var req searchTopKRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	engineReq, err := req.toEngine()
	if err != nil {
		writeError(c, err)
		return
	}
	res, serr := s.engine.SearchTopK(c.Request.Context(), c.Param("name"), engineReq)
	if serr != nil {
		writeError(c, serr)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"metric": engineReq.Metric.String(),
		"mode":   res.Mode.String(),
		"hits":   res.Hits,
	})
}

type searchTopKBatchRequest struct {
	searchTopKRequest
	Queries [][]float32 `json:"queries"`
}

func (s *Server) handleSearchTopKBatch(c *gin.Context) {
	var req searchTopKBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	engineReq, err := req.toEngine()
	if err != nil {
		writeError(c, err)
		return
	}
	results, serr := s.engine.SearchTopKBatch(c.Request.Context(), c.Param("name"), req.Queries, engineReq)
	if serr != nil {
		writeError(c, serr)
		return
	}

	out := make([]gin.H, len(results))
	for i, res := range results {
		out[i] = gin.H{"mode": res.Mode.String(), "hits": res.Hits}
	}
	c.JSON(http.StatusOK, gin.H{
		"metric":  engineReq.Metric.String(),
		"results": out,
	})
}
