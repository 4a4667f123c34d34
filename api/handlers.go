package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"netsweep/scanner"
)

// Server bundles dependencies for HTTP handlers.
type Server struct {
	orch *scanner.Orchestrator
}

// NewServer creates a new API server instance around an orchestrator.
func NewServer(orch *scanner.Orchestrator) *Server {
	return &Server{orch: orch}
}

// RegisterRoutes attaches handlers to the provided Gin routes.
func (s *Server) RegisterRoutes(routes gin.IRoutes) {
	routes.POST("/sweeps", s.startSweepHandler)
	routes.GET("/sweeps/current", s.sweepStatsHandler)
	routes.GET("/hosts", s.snapshotHandler)
	routes.POST("/hosts/:ip/ports", s.portScanHandler)
	routes.GET("/hosts/:ip/ports", s.cachedPortsHandler)
	routes.GET("/hosts/:ip/ports/age", s.cacheAgeHandler)
	routes.PUT("/rate", s.setRateHandler)
	routes.GET("/rate", s.rateStatsHandler)
	routes.DELETE("/cache", s.clearCacheHandler)
	routes.DELETE("/cache/:ip", s.invalidateHostHandler)
}

func (s *Server) startSweepHandler(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	gen, err := s.orch.StartSweep(req.Targets, req.Concurrency, time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, SweepAcceptedResponse{Generation: uint64(gen)})
}

func (s *Server) sweepStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Stats())
}

func (s *Server) snapshotHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.Snapshot())
}

func (s *Server) portScanHandler(c *gin.Context) {
	var req PortScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	// Blocks until the sweep finishes; concurrent requests for the same
	// host share a single underlying sweep.
	res, err := s.orch.RequestPortScan(c.Request.Context(), c.Param("ip"),
		req.StartPort, req.EndPort, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scanner.ErrInvalidPortRange) {
			status = http.StatusBadRequest
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) cachedPortsHandler(c *gin.Context) {
	res, ok := s.orch.CachedPorts(c.Param("ip"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no cached result"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) cacheAgeHandler(c *gin.Context) {
	ip := c.Param("ip")
	age, ok := s.orch.CacheAge(ip)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no cached result"})
		return
	}
	c.JSON(http.StatusOK, CacheAgeResponse{Host: ip, AgeSeconds: age.Seconds()})
}

func (s *Server) setRateHandler(c *gin.Context) {
	var req RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := s.orch.SetRate(req.Rate, req.Burst); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.orch.RateStats())
}

func (s *Server) rateStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.orch.RateStats())
}

func (s *Server) clearCacheHandler(c *gin.Context) {
	s.orch.ClearCache()
	c.Status(http.StatusNoContent)
}

func (s *Server) invalidateHostHandler(c *gin.Context) {
	s.orch.InvalidateHost(c.Param("ip"))
	c.Status(http.StatusNoContent)
}
