package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aionmeter/aionmeter/internal/health"
	"github.com/aionmeter/aionmeter/internal/telemetry"
	"github.com/aionmeter/aionmeter/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "aionmeter",
		"version": telemetry.AppVersion,
	})
}

// handleStatus returns pipeline counters together with host information.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pipeline":   s.pipeline.Stats(),
		"combat":     s.pipeline.Manager().Summary(),
		"system":     util.GetSystemInfo(),
		"ws_clients": s.hub.ClientCount(),
	})
}

// handleSystem returns host and process resource usage.
func (s *Server) handleSystem(c *gin.Context) {
	cpuPercent, err := util.GetCPUUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	memUsage, err := util.GetMemoryUsage()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"info":        util.GetSystemInfo(),
		"cpu_percent": cpuPercent,
		"memory":      memUsage,
	}
	if proc, err := util.GetProcessUsage(); err == nil {
		resp["process"] = proc
	}
	c.JSON(http.StatusOK, resp)
}

// handleConfig returns the running configuration with secrets masked.
func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Snapshot())
}

// handleDiagnostics returns recent decode failures and per-field totals.
func (s *Server) handleDiagnostics(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "diagnostics journal disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	field := c.Query("field")

	recent, err := s.journal.Recent(field, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read decode failures")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read diagnostics"})
		return
	}
	counts, err := s.journal.CountsByField()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read failure counters")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read diagnostics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"failures": recent,
		"counts":   counts,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "health checks disabled"})
		return
	}

	overall := s.health.Overall()
	status := http.StatusOK
	if overall == health.LevelCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status": overall,
		"checks": s.health.Report(),
	})
}
